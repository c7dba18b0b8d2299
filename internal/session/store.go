// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// ErrAlreadyExists is returned by Create when the session_id is taken.
var ErrAlreadyExists = errors.New("session already exists")

// ErrNotFound is returned by Load/Mutate when the session_id is unknown.
var ErrNotFound = errors.New("session not found")

// ErrConflict is returned by Mutate when the optimistic version check
// fails; the caller retries up to 3 times (§4.5).
var ErrConflict = errors.New("session mutation conflict")

// ErrForbidden is returned when a non-owner worker attempts to write a
// field other than cancel_epoch (§4.5 invariant, §8 property 8).
var ErrForbidden = errors.New("only the owning worker may write this field")

// Event is a best-effort cross-worker notification delivered via
// Subscribe — cancel-epoch bumps or state changes from other workers.
type Event struct {
	SessionID   string `json:"session_id"`
	CancelEpoch uint64 `json:"cancel_epoch,omitempty"`
	State       State  `json:"state,omitempty"`
}

// MutateFunc mutates a private copy of the record; returning an error
// aborts the commit.
type MutateFunc func(*Record) error

// Store is the C5 Session Store interface (§4.5).
type Store interface {
	Create(ctx context.Context, sessionID string, initial *Record) error
	Load(ctx context.Context, sessionID string) (*Record, error)
	Mutate(ctx context.Context, sessionID, ownerID string, fn MutateFunc) (*Record, error)
	Touch(ctx context.Context, sessionID string) error
	BumpCancelEpoch(ctx context.Context, sessionID string) (uint64, error)
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
}

type redisStore struct {
	client        *redis.Client
	logger        commons.Logger
	ttl           time.Duration
	historyWindow int
}

// NewRedisStore creates a Store backed by Redis, keyed `session:{id}`
// with TTL-based eviction driven by the cache itself (§4.5: "eviction is
// driven by the cache, not the core").
func NewRedisStore(client *redis.Client, logger commons.Logger, ttl time.Duration, historyWindow int) Store {
	return &redisStore{client: client, logger: logger, ttl: ttl, historyWindow: historyWindow}
}

func recordKey(sessionID string) string { return fmt.Sprintf("session:%s", sessionID) }
func epochKey(sessionID string) string  { return fmt.Sprintf("session:%s:epoch", sessionID) }
func pubsubChannel(sessionID string) string { return fmt.Sprintf("session-events:%s", sessionID) }

func (s *redisStore) Create(ctx context.Context, sessionID string, initial *Record) error {
	initial.SetHistoryWindow(s.historyWindow)
	initial.Version = 1
	data, err := json.Marshal(initial)
	if err != nil {
		return commons.NewError(commons.KindInternal, err)
	}
	ok, err := s.client.SetNX(ctx, recordKey(sessionID), data, s.ttl).Result()
	if err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *redisStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, commons.NewError(commons.KindUpstream, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, commons.NewError(commons.KindInternal, err)
	}
	rec.SetHistoryWindow(s.historyWindow)
	epoch, err := s.client.HGet(ctx, epochKey(sessionID), "epoch").Uint64()
	if err == nil && epoch > rec.CancelEpoch {
		rec.CancelEpoch = epoch
	}
	return &rec, nil
}

// Mutate runs fn against a private copy and commits with an optimistic
// compare-and-swap transaction (§4.5). Only the owner may change
// non-cancel_epoch fields; this is enforced by requiring ownerID to match
// the stored owner before fn even runs.
func (s *redisStore) Mutate(ctx context.Context, sessionID, ownerID string, fn MutateFunc) (*Record, error) {
	key := recordKey(sessionID)
	var result *Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return commons.NewError(commons.KindUpstream, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return commons.NewError(commons.KindInternal, err)
		}
		rec.SetHistoryWindow(s.historyWindow)

		if ownerID != "" && rec.OwnerID != "" && rec.OwnerID != ownerID {
			return ErrForbidden
		}

		cp := rec.Clone()
		cp.SetHistoryWindow(s.historyWindow)
		if err := fn(cp); err != nil {
			return err
		}
		cp.Version = rec.Version + 1
		cp.LastActivityAt = time.Now()

		newData, err := json.Marshal(cp)
		if err != nil {
			return commons.NewError(commons.KindInternal, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, s.ttl)
			return nil
		})
		if err != nil {
			return commons.NewError(commons.KindUpstream, err)
		}
		result = cp

		s.publish(ctx, sessionID, Event{SessionID: sessionID, State: cp.State})
		return nil
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MutateWithRetry wraps Mutate with the caller-side retry policy named in
// §4.5 ("on mismatch returns conflict and the caller retries up to 3
// times").
func MutateWithRetry(ctx context.Context, s Store, sessionID, ownerID string, fn MutateFunc) (*Record, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := s.Mutate(ctx, sessionID, ownerID, fn)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *redisStore) Touch(ctx context.Context, sessionID string) error {
	key := recordKey(sessionID)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return commons.NewError(commons.KindUpstream, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return commons.NewError(commons.KindInternal, err)
	}
	rec.LastActivityAt = time.Now()
	newData, err := json.Marshal(&rec)
	if err != nil {
		return commons.NewError(commons.KindInternal, err)
	}
	return s.client.Set(ctx, key, newData, s.ttl).Err()
}

// BumpCancelEpoch increments cancel_epoch via a side key any worker may
// write, independent of the record's optimistic version (§4.5: "Any
// worker may bump cancel_epoch").
func (s *redisStore) BumpCancelEpoch(ctx context.Context, sessionID string) (uint64, error) {
	v, err := s.client.HIncrBy(ctx, epochKey(sessionID), "epoch", 1).Result()
	if err != nil {
		return 0, commons.NewError(commons.KindUpstream, err)
	}
	s.client.Expire(ctx, epochKey(sessionID), s.ttl)
	s.publish(ctx, sessionID, Event{SessionID: sessionID, CancelEpoch: uint64(v)})
	return uint64(v), nil
}

func (s *redisStore) publish(ctx context.Context, sessionID string, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, pubsubChannel(sessionID), data).Err(); err != nil {
		s.logger.Warnw("session event publish failed", "session_id", sessionID, "err", err)
	}
}

// Subscribe returns a best-effort channel of Events for other workers'
// cancel-epoch bumps and state changes (§4.5). The returned cancel func
// must be called to release the underlying pub/sub connection.
func (s *redisStore) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	pubsub := s.client.Subscribe(ctx, pubsubChannel(sessionID))
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		for msg := range pubsub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
				s.logger.Warnw("session event dropped, subscriber too slow", "session_id", sessionID)
			}
		}
	}()

	return ch, func() { _ = pubsub.Close() }, nil
}
