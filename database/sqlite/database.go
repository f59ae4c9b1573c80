// Package sqlite provides a database implementation on a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	_ "modernc.org/sqlite"

	"duocall/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
	id           TEXT PRIMARY KEY,
	initiator_id TEXT NOT NULL,
	receiver_id  TEXT,
	call_type    TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	connected_at TEXT,
	ended_at     TEXT,
	end_reason   TEXT
);
CREATE TABLE IF NOT EXISTS signaling_messages (
	id              TEXT PRIMARY KEY,
	call_session_id TEXT NOT NULL REFERENCES call_sessions(id),
	from_user_id    TEXT NOT NULL,
	to_user_id      TEXT NOT NULL,
	message_type    TEXT NOT NULL,
	message_data    TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signaling_messages_to
	ON signaling_messages(call_session_id, to_user_id);
`

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sessionColumns = `id, initiator_id, receiver_id, call_type, status, created_at, connected_at, ended_at, end_reason`

// DB is a SQLite-backed database.
type DB struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &DB{db: db, now: time.Now}, nil
}

// CreateCallSessionInfo creates a new call session in the waiting status.
func (d *DB) CreateCallSessionInfo(
	ctx context.Context,
	initiatorID string,
	callType database.CallType,
) (*database.CallSessionInfo, error) {
	if err := callType.Validate(); err != nil {
		return nil, err
	}

	info := &database.CallSessionInfo{
		ID:          uuid.NewString(),
		InitiatorID: initiatorID,
		CallType:    callType,
		Status:      database.Waiting,
		CreatedAt:   d.now().UTC(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO call_sessions (id, initiator_id, call_type, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.InitiatorID, string(info.CallType), string(info.Status), formatTime(info.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("insert call session: %w", err)
	}
	return info, nil
}

// FindCallSessionInfoByID finds a call session by its ID.
func (d *DB) FindCallSessionInfoByID(ctx context.Context, id string) (*database.CallSessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findCallSession(ctx, d.db, id)
}

// UpdateCallSessionInfo applies the partial fields to the call session.
func (d *DB) UpdateCallSessionInfo(
	ctx context.Context,
	id string,
	update database.CallSessionUpdate,
) (*database.CallSessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	info, err := d.findCallSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := info.Apply(update, d.now().UTC()); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE call_sessions
		 SET receiver_id = ?, status = ?, connected_at = ?, ended_at = ?, end_reason = ?
		 WHERE id = ?`,
		nullString(info.ReceiverID), string(info.Status),
		nullTime(info.ConnectedAt), nullTime(info.EndedAt), nullString(info.EndReason),
		info.ID,
	); err != nil {
		return nil, fmt.Errorf("update call session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit call session: %w", err)
	}
	return info, nil
}

// CreateSignalingMessageInfo stores a signaling message. The ID and creation
// time are assigned here.
func (d *DB) CreateSignalingMessageInfo(
	ctx context.Context,
	msg *database.SignalingMessageInfo,
) (*database.SignalingMessageInfo, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.findCallSession(ctx, d.db, msg.CallSessionID); err != nil {
		return nil, err
	}

	info := msg.DeepCopy()
	info.ID = shortuuid.New()
	info.CreatedAt = d.now().UTC()
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO signaling_messages
		 (id, call_session_id, from_user_id, to_user_id, message_type, message_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.CallSessionID, info.FromUserID, info.ToUserID,
		string(info.MessageType), string(info.MessageData), formatTime(info.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("insert signaling message: %w", err)
	}
	return info, nil
}

// FindSignalingMessageInfos finds the messages addressed to the user in
// creation order.
func (d *DB) FindSignalingMessageInfos(
	ctx context.Context,
	callSessionID, toUserID string,
) ([]*database.SignalingMessageInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, call_session_id, from_user_id, to_user_id, message_type, message_data, created_at
		 FROM signaling_messages
		 WHERE call_session_id = ? AND to_user_id = ?
		 ORDER BY created_at, rowid`,
		callSessionID, toUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("find signaling messages by receiver: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []*database.SignalingMessageInfo
	for rows.Next() {
		var (
			info        database.SignalingMessageInfo
			messageType string
			data        string
			createdAt   string
		)
		if err := rows.Scan(
			&info.ID, &info.CallSessionID, &info.FromUserID, &info.ToUserID,
			&messageType, &data, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan signaling message: %w", err)
		}
		info.MessageType = database.MessageType(messageType)
		info.MessageData = []byte(data)
		if info.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		infos = append(infos, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signaling messages: %w", err)
	}
	return infos, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) findCallSession(ctx context.Context, q querier, id string) (*database.CallSessionInfo, error) {
	var (
		info                        database.CallSessionInfo
		callType, status, createdAt string
		receiverID, endReason       sql.NullString
		connectedAt, endedAt        sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE id = ?`, id,
	).Scan(&info.ID, &info.InitiatorID, &receiverID, &callType, &status,
		&createdAt, &connectedAt, &endedAt, &endReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, database.ErrCallSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find call session by id: %w", err)
	}

	info.ReceiverID = receiverID.String
	info.EndReason = endReason.String
	info.CallType = database.CallType(callType)
	info.Status = database.Status(status)
	if info.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if info.ConnectedAt, err = parseNullTime(connectedAt); err != nil {
		return nil, err
	}
	if info.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	return &info, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
