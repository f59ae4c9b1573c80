package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/lithammer/shortuuid/v4"

	"duocall/database"
)

// DB is a memory-backed database.
type DB struct {
	db   *memdb.MemDB
	now  func() time.Time
	last time.Time
}

// New creates a new memory-backed database.
func New() *DB {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(err)
	}
	return &DB{
		db:  db,
		now: time.Now,
	}
}

// CreateCallSessionInfo creates a new call session in the waiting status.
func (d *DB) CreateCallSessionInfo(
	_ context.Context,
	initiatorID string,
	callType database.CallType,
) (*database.CallSessionInfo, error) {
	if err := callType.Validate(); err != nil {
		return nil, err
	}

	txn := d.db.Txn(true)
	defer txn.Abort()

	info := &database.CallSessionInfo{
		ID:          uuid.NewString(),
		InitiatorID: initiatorID,
		CallType:    callType,
		Status:      database.Waiting,
		CreatedAt:   d.stamp(),
	}
	existing, err := txn.First(tblCallSessions, idxSessionID, info.ID)
	if err != nil {
		return nil, fmt.Errorf("find call session by id: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%s: %w", info.ID, database.ErrCallSessionAlreadyExists)
	}
	if err := txn.Insert(tblCallSessions, info); err != nil {
		return nil, fmt.Errorf("insert call session: %w", err)
	}
	txn.Commit()
	return info.DeepCopy(), nil
}

// FindCallSessionInfoByID finds a call session by its ID.
func (d *DB) FindCallSessionInfoByID(_ context.Context, id string) (*database.CallSessionInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tblCallSessions, idxSessionID, id)
	if err != nil {
		return nil, fmt.Errorf("find call session by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrCallSessionNotFound)
	}
	return raw.(*database.CallSessionInfo).DeepCopy(), nil
}

// UpdateCallSessionInfo applies the partial fields to the call session.
func (d *DB) UpdateCallSessionInfo(
	_ context.Context,
	id string,
	update database.CallSessionUpdate,
) (*database.CallSessionInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tblCallSessions, idxSessionID, id)
	if err != nil {
		return nil, fmt.Errorf("find call session by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrCallSessionNotFound)
	}

	info := raw.(*database.CallSessionInfo).DeepCopy()
	if err := info.Apply(update, d.stamp()); err != nil {
		return nil, err
	}
	if err := txn.Insert(tblCallSessions, info); err != nil {
		return nil, fmt.Errorf("update call session: %w", err)
	}
	txn.Commit()
	return info.DeepCopy(), nil
}

// CreateSignalingMessageInfo stores a signaling message. The ID and creation
// time are assigned here.
func (d *DB) CreateSignalingMessageInfo(
	_ context.Context,
	msg *database.SignalingMessageInfo,
) (*database.SignalingMessageInfo, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	txn := d.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tblCallSessions, idxSessionID, msg.CallSessionID)
	if err != nil {
		return nil, fmt.Errorf("find call session by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", msg.CallSessionID, database.ErrCallSessionNotFound)
	}

	info := msg.DeepCopy()
	info.ID = shortuuid.New()
	info.CreatedAt = d.stamp()
	if err := txn.Insert(tblSignalingMessages, info); err != nil {
		return nil, fmt.Errorf("insert signaling message: %w", err)
	}
	txn.Commit()
	return info.DeepCopy(), nil
}

// FindSignalingMessageInfos finds the messages addressed to the user in
// creation order.
func (d *DB) FindSignalingMessageInfos(
	_ context.Context,
	callSessionID, toUserID string,
) ([]*database.SignalingMessageInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	iterator, err := txn.Get(tblSignalingMessages, idxMessageTo, callSessionID, toUserID)
	if err != nil {
		return nil, fmt.Errorf("find signaling messages by receiver: %w", err)
	}

	var infos []*database.SignalingMessageInfo
	for raw := iterator.Next(); raw != nil; raw = iterator.Next() {
		infos = append(infos, raw.(*database.SignalingMessageInfo).DeepCopy())
	}
	database.SortByCreation(infos)
	return infos, nil
}

// stamp returns a strictly increasing time so creation order survives equal
// clock readings. It must be called inside a write transaction.
func (d *DB) stamp() time.Time {
	now := d.now()
	if !now.After(d.last) {
		now = d.last.Add(time.Nanosecond)
	}
	d.last = now
	return now
}

// Close does nothing for the memory database.
func (d *DB) Close() error {
	return nil
}
