// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/agent"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRegistry(t *testing.T) *agent.Registry {
	r, err := agent.NewRegistry([]*agent.Spec{{Key: agent.GreeterKey, DisplayName: "Greeter"}})
	require.NoError(t, err)
	return r
}

func TestReadiness_OverallHealthyWhenAllCheckersHealthy(t *testing.T) {
	checkers := []Checker{
		CheckerFunc{Label: "a", Fn: func(ctx context.Context) (string, string) { return StatusHealthy, "" }},
		CheckerFunc{Label: "b", Fn: func(ctx context.Context) (string, string) { return StatusHealthy, "" }},
	}
	h := New(checkers, newTestRegistry(t), func() int64 { return 0 })

	rec := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(rec)
	engine.GET("/readiness", h.Readiness)
	c.Request = httptest.NewRequest(http.MethodGet, "/readiness", nil)
	engine.ServeHTTP(rec, c.Request)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestReadiness_UnhealthyChecketDominatesDegraded(t *testing.T) {
	checkers := []Checker{
		CheckerFunc{Label: "degraded-one", Fn: func(ctx context.Context) (string, string) { return StatusDegraded, "" }},
		CheckerFunc{Label: "unhealthy-one", Fn: func(ctx context.Context) (string, string) { return StatusUnhealthy, "boom" }},
	}
	h := New(checkers, newTestRegistry(t), func() int64 { return 0 })

	rec := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(rec)
	engine.GET("/readiness", h.Readiness)
	c.Request = httptest.NewRequest(http.MethodGet, "/readiness", nil)
	engine.ServeHTTP(rec, c.Request)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestHealthz_ReportsActiveSessions(t *testing.T) {
	h := New(nil, newTestRegistry(t), func() int64 { return 3 })

	rec := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(rec)
	engine.GET("/health", h.Healthz)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	engine.ServeHTTP(rec, c.Request)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_sessions":3`)
}

func TestAgents_ListsRegisteredAgents(t *testing.T) {
	h := New(nil, newTestRegistry(t), func() int64 { return 0 })

	rec := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(rec)
	engine.GET("/agents", h.Agents)
	c.Request = httptest.NewRequest(http.MethodGet, "/agents", nil)
	engine.ServeHTTP(rec, c.Request)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), agent.GreeterKey)
}
