// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"sync"
)

// memStore is an in-memory Store implementation matching the same
// interface and optimistic-versioning semantics as redisStore, used in
// unit tests (A4) and in single-process deployments that don't need
// cross-worker coordination.
type memStore struct {
	mu            sync.Mutex
	records       map[string]*Record
	subs          map[string][]chan Event
	historyWindow int
}

// NewMemStore creates an in-memory Store for tests.
func NewMemStore(historyWindow int) Store {
	return &memStore{
		records:       make(map[string]*Record),
		subs:          make(map[string][]chan Event),
		historyWindow: historyWindow,
	}
}

func (m *memStore) Create(ctx context.Context, sessionID string, initial *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[sessionID]; ok {
		return ErrAlreadyExists
	}
	initial.SetHistoryWindow(m.historyWindow)
	initial.Version = 1
	m.records[sessionID] = initial.Clone()
	return nil
}

func (m *memStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memStore) Mutate(ctx context.Context, sessionID, ownerID string, fn MutateFunc) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if ownerID != "" && rec.OwnerID != "" && rec.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	cp := rec.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	cp.Version = rec.Version + 1
	m.records[sessionID] = cp
	m.notify(sessionID, Event{SessionID: sessionID, State: cp.State})
	return cp.Clone(), nil
}

func (m *memStore) Touch(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.LastActivityAt = timeNow()
	return nil
}

func (m *memStore) BumpCancelEpoch(ctx context.Context, sessionID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	rec.CancelEpoch++
	epoch := rec.CancelEpoch
	m.notify(sessionID, Event{SessionID: sessionID, CancelEpoch: epoch})
	return epoch, nil
}

func (m *memStore) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, 16)
	m.subs[sessionID] = append(m.subs[sessionID], ch)
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[sessionID]
		for i, c := range subs {
			if c == ch {
				m.subs[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}

// notify must be called with m.mu held.
func (m *memStore) notify(sessionID string, evt Event) {
	for _, ch := range m.subs[sessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
