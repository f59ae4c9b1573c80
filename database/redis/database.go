// Package redis provides a database implementation on Redis. Records are
// stored as JSON documents that expire after the configured TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/redis/go-redis/v9"

	"duocall/database"
)

// maxRetries bounds optimistic transaction retries on concurrent writers.
const maxRetries = 16

// DB is a Redis-backed database.
type DB struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Redis-backed database and checks the connection.
func New(ctx context.Context, config database.Config) (*DB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", config.RedisAddr, err)
	}

	ttl := config.RecordTTL
	if ttl <= 0 {
		ttl = database.DefaultRecordTTL
	}
	return &DB{client: client, ttl: ttl, now: time.Now}, nil
}

// Client returns the underlying client so the relay can share the connection.
func (d *DB) Client() *redis.Client {
	return d.client
}

func sessionKey(id string) string {
	return "call_session:" + id
}

func messagesKey(callSessionID string) string {
	return "call_session:" + callSessionID + ":messages"
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
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal call session: %w", err)
	}

	ok, err := d.client.SetNX(ctx, sessionKey(info.ID), data, d.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("insert call session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", info.ID, database.ErrCallSessionAlreadyExists)
	}
	return info, nil
}

// FindCallSessionInfoByID finds a call session by its ID.
func (d *DB) FindCallSessionInfoByID(ctx context.Context, id string) (*database.CallSessionInfo, error) {
	return d.findCallSession(ctx, d.client, id)
}

// UpdateCallSessionInfo applies the partial fields to the call session inside
// an optimistic WATCH transaction.
func (d *DB) UpdateCallSessionInfo(
	ctx context.Context,
	id string,
	update database.CallSessionUpdate,
) (*database.CallSessionInfo, error) {
	key := sessionKey(id)
	var updated *database.CallSessionInfo

	txf := func(tx *redis.Tx) error {
		info, err := d.findCallSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := info.Apply(update, d.now().UTC()); err != nil {
			return err
		}
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal call session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = info
		return nil
	}

	for i := 0; i < maxRetries; i++ {
		err := d.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("update call session %s: too many concurrent writers", id)
}

// CreateSignalingMessageInfo appends a signaling message to the session's list.
func (d *DB) CreateSignalingMessageInfo(
	ctx context.Context,
	msg *database.SignalingMessageInfo,
) (*database.SignalingMessageInfo, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if _, err := d.findCallSession(ctx, d.client, msg.CallSessionID); err != nil {
		return nil, err
	}

	info := msg.DeepCopy()
	info.ID = shortuuid.New()
	info.CreatedAt = d.now().UTC()
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal signaling message: %w", err)
	}

	key := messagesKey(info.CallSessionID)
	if _, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, d.ttl)
		return nil
	}); err != nil {
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
	raws, err := d.client.LRange(ctx, messagesKey(callSessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("find signaling messages: %w", err)
	}

	var infos []*database.SignalingMessageInfo
	for _, raw := range raws {
		var info database.SignalingMessageInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("unmarshal signaling message: %w", err)
		}
		if info.ToUserID == toUserID {
			infos = append(infos, &info)
		}
	}
	return infos, nil
}

// Close closes the client.
func (d *DB) Close() error {
	return d.client.Close()
}

func (d *DB) findCallSession(ctx context.Context, c redis.Cmdable, id string) (*database.CallSessionInfo, error) {
	data, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", id, database.ErrCallSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find call session by id: %w", err)
	}

	var info database.CallSessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal call session: %w", err)
	}
	return &info, nil
}
