// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callcontext implements D1, the Postgres-backed bridge between a
// telephony webhook (§4.10 Call Control Facade) and the media WebSocket
// that follows moments later.
package callcontext

import "time"

// Call context status constants (§3 supplemental CallContext).
const (
	StatusPending   = "pending"   // inbound: created, waiting for media connection
	StatusQueued    = "queued"    // outbound: created, waiting for provider to connect media
	StatusClaimed   = "claimed"   // media connection established
	StatusCompleted = "completed" // call ended normally
	StatusFailed    = "failed"    // call setup or execution failed
)

// Direction of the call that created this context.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// CallContext bridges an inbound webhook (or an outbound placement call)
// to the session_id the media WebSocket will claim. It is intentionally
// decoupled from session.Record (C5): provider status callbacks can
// arrive well after the SessionRecord and its conversation have ended, so
// this row is never deleted during the call lifecycle, only transitioned
// through statuses.
type CallContext struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ContextID   string    `gorm:"column:context_id;type:varchar(36);not null;uniqueIndex"`
	SessionID   string    `gorm:"column:session_id;type:varchar(64);not null;default:''"`
	Status      string    `gorm:"column:status;type:varchar(20);not null;default:pending"`
	Provider    string    `gorm:"column:provider;type:varchar(50);not null;default:''"`
	Direction   string    `gorm:"column:direction;type:varchar(20);not null;default:''"`
	CallerNumber string   `gorm:"column:caller_number;type:varchar(50);not null;default:''"`
	CalleeNumber string   `gorm:"column:callee_number;type:varchar(50);not null;default:''"`
	ChannelUUID string    `gorm:"column:channel_uuid;type:varchar(200);not null;default:''"`
	CreatedDate time.Time `gorm:"column:created_date;type:timestamp;not null;default:now()"`
	UpdatedDate time.Time `gorm:"column:updated_date;type:timestamp"`
}

func (CallContext) TableName() string { return "call_contexts" }

// IsPending reports whether the context has not yet been claimed by a
// media connection.
func (cc *CallContext) IsPending() bool {
	return cc.Status == StatusPending || cc.Status == StatusQueued
}

// IsClaimed reports whether a media connection has claimed this context.
func (cc *CallContext) IsClaimed() bool {
	return cc.Status == StatusClaimed
}
