// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package health implements A3's readiness/liveness surface (§6: `GET
// /health`, `GET /readiness`, `GET /agents`) as Gin handlers.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/voicebridge/internal/agent"
)

// Check reports one component's readiness (§6 `GET /readiness` →
// `{status, checks[{component,status,check_time_ms,details?}]}`). Status
// follows the §7 propagation policy's vocabulary: "healthy", "degraded",
// or "unhealthy".
type Check struct {
	Component   string `json:"component"`
	Status      string `json:"status"`
	CheckTimeMs int64  `json:"check_time_ms"`
	Details     string `json:"details,omitempty"`
}

// Checker probes one dependency (a client pool, the session store) and
// reports its current status. Implementations should be cheap — a ping
// or a pool-accounting read, never a synthesize/transcribe round trip.
type Checker interface {
	Name() string
	Check(ctx context.Context) (status string, details string)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	Label string
	Fn    func(ctx context.Context) (status string, details string)
}

func (f CheckerFunc) Name() string { return f.Label }
func (f CheckerFunc) Check(ctx context.Context) (string, string) {
	return f.Fn(ctx)
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Handlers serves the health/readiness/agents endpoints.
type Handlers struct {
	checkers       []Checker
	registry       *agent.Registry
	activeSessions func() int64
}

// New builds Handlers. activeSessions reads the process's live session
// count (wired from transport.Deps.ActiveSessions).
func New(checkers []Checker, registry *agent.Registry, activeSessions func() int64) *Handlers {
	return &Handlers{checkers: checkers, registry: registry, activeSessions: activeSessions}
}

// Healthz serves `GET /health` (§6: `{status, active_sessions}`). It never
// probes dependencies — a fast liveness signal only.
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          StatusHealthy,
		"active_sessions": h.activeSessions(),
	})
}

// Readiness serves `GET /readiness` (§6), probing each registered Checker
// and rolling the results up to an overall status: unhealthy if any
// checker reports unhealthy, else degraded if any reports degraded, else
// healthy (§7: Config failures downgrade a pool to unhealthy; Internal
// errors surface as degraded).
func (h *Handlers) Readiness(c *gin.Context) {
	checks := make([]Check, 0, len(h.checkers))
	overall := StatusHealthy

	for _, chk := range h.checkers {
		start := time.Now()
		status, details := chk.Check(c.Request.Context())
		checks = append(checks, Check{
			Component:   chk.Name(),
			Status:      status,
			CheckTimeMs: time.Since(start).Milliseconds(),
			Details:     details,
		})
		switch status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	httpStatus := http.StatusOK
	if overall == StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": overall, "checks": checks})
}

// agentSummary is one entry of `GET /agents`'s agents array (§6).
type agentSummary struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// Agents serves `GET /agents` (§6: `{status,agents[{key,display_name}]}`).
func (h *Handlers) Agents(c *gin.Context) {
	specs := h.registry.List()
	out := make([]agentSummary, 0, len(specs))
	for _, s := range specs {
		out = append(out, agentSummary{Key: s.Key, DisplayName: s.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusHealthy, "agents": out})
}

// RegisterRoutes wires the health endpoints onto engine.
func RegisterRoutes(engine *gin.Engine, h *Handlers) {
	engine.GET("/health", h.Healthz)
	engine.GET("/readiness", h.Readiness)
	engine.GET("/agents", h.Agents)
}
