// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callcontext

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// Store provides operations to save and retrieve call contexts from
// Postgres (D1). Rows are never deleted during the call lifecycle; they
// are only transitioned through statuses, because telephony provider
// status callbacks arrive asynchronously and may reference a context
// well after its session has ended.
type Store interface {
	// Save stores a call context, generating a ContextID (UUID) if unset.
	// Returns the context ID.
	Save(ctx context.Context, cc *CallContext) (string, error)

	// Get retrieves a call context by ContextID regardless of its current
	// status. Event callbacks need this even after the session ends.
	Get(ctx context.Context, contextID string) (*CallContext, error)

	// BySessionID retrieves a call context by the session_id bound to it,
	// used by the Call Control Facade (C10) to resolve the provider call
	// leg to hang up given only a session_id (§6 `POST /call/hangup`).
	BySessionID(ctx context.Context, sessionID string) (*CallContext, error)

	// Claim atomically transitions a context from "pending"/"queued" to
	// "claimed" via UPDATE ... WHERE status IN (...). Only one concurrent
	// media connection can win; later callers get an error.
	Claim(ctx context.Context, contextID string) (*CallContext, error)

	// Delete removes a context row. Intended for TTL-based cleanup only,
	// never during active call flows.
	Delete(ctx context.Context, contextID string) error

	// Complete marks a context as completed, called when its session ends.
	Complete(ctx context.Context, contextID string) error

	// Fail marks a context as failed.
	Fail(ctx context.Context, contextID string) error

	// BindSession records which session_id claimed this context, once the
	// media WebSocket handshake completes.
	BindSession(ctx context.Context, contextID, sessionID string) error

	// UpdateField sets a single allowlisted column.
	UpdateField(ctx context.Context, contextID, field, value string) error
}

type postgresStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewStore creates a Store backed by Postgres via gorm.
func NewStore(db *gorm.DB, logger commons.Logger) Store {
	return &postgresStore{db: db, logger: logger}
}

func (s *postgresStore) Save(ctx context.Context, cc *CallContext) (string, error) {
	if cc.ContextID == "" {
		cc.ContextID = uuid.New().String()
	}
	if cc.Status == "" {
		cc.Status = StatusPending
	}

	if err := s.db.WithContext(ctx).Create(cc).Error; err != nil {
		return "", fmt.Errorf("failed to save call context %s: %w", cc.ContextID, err)
	}

	s.logger.Infof("saved call context: contextId=%s, direction=%s, provider=%s",
		cc.ContextID, cc.Direction, cc.Provider)
	return cc.ContextID, nil
}

func (s *postgresStore) Get(ctx context.Context, contextID string) (*CallContext, error) {
	var cc CallContext
	if err := s.db.WithContext(ctx).Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("call context not found: %s: %w", contextID, err)
	}
	return &cc, nil
}

func (s *postgresStore) BySessionID(ctx context.Context, sessionID string) (*CallContext, error) {
	var cc CallContext
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id desc").First(&cc).Error; err != nil {
		return nil, fmt.Errorf("call context not found for session %s: %w", sessionID, err)
	}
	return &cc, nil
}

// Claim implements the "claimed by exactly one connection" race named in
// the supplemental CallContext section: the atomic UPDATE only succeeds
// once, so a duplicate media connection for the same context_id loses.
func (s *postgresStore) Claim(ctx context.Context, contextID string) (*CallContext, error) {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("context_id = ? AND status IN ?", contextID, []string{StatusPending, StatusQueued}).
		Updates(map[string]interface{}{
			"status":       StatusClaimed,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim call context %s: %w", contextID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("call context %s not found or already claimed", contextID)
	}

	var cc CallContext
	if err := s.db.WithContext(ctx).Where("context_id = ?", contextID).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch claimed call context %s: %w", contextID, err)
	}
	s.logger.Debugf("claimed call context: contextId=%s", cc.ContextID)
	return &cc, nil
}

func (s *postgresStore) Delete(ctx context.Context, contextID string) error {
	if err := s.db.WithContext(ctx).Where("context_id = ?", contextID).Delete(&CallContext{}).Error; err != nil {
		return fmt.Errorf("failed to delete call context %s: %w", contextID, err)
	}
	return nil
}

func (s *postgresStore) Complete(ctx context.Context, contextID string) error {
	return s.setStatus(ctx, contextID, StatusCompleted)
}

func (s *postgresStore) Fail(ctx context.Context, contextID string) error {
	return s.setStatus(ctx, contextID, StatusFailed)
}

func (s *postgresStore) setStatus(ctx context.Context, contextID, status string) error {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Updates(map[string]interface{}{
			"status":       status,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set call context %s status %s: %w", contextID, status, result.Error)
	}
	return nil
}

func (s *postgresStore) BindSession(ctx context.Context, contextID, sessionID string) error {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Updates(map[string]interface{}{
			"session_id":   sessionID,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to bind session to call context %s: %w", contextID, result.Error)
	}
	return nil
}

func (s *postgresStore) UpdateField(ctx context.Context, contextID, field, value string) error {
	allowed := map[string]bool{
		"channel_uuid": true,
		"status":       true,
		"provider":     true,
		"session_id":   true,
	}
	if !allowed[field] {
		return fmt.Errorf("field %q is not updatable on call context", field)
	}

	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("context_id = ?", contextID).
		Update(field, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update field %s on call context %s: %w", field, contextID, result.Error)
	}
	return nil
}
