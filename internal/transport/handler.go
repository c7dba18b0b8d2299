// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rapidaai/voicebridge/internal/agent"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/conductor"
	"github.com/rapidaai/voicebridge/internal/config"
	"github.com/rapidaai/voicebridge/internal/llm"
	"github.com/rapidaai/voicebridge/internal/router"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/stt"
	"github.com/rapidaai/voicebridge/internal/tts"
	"github.com/rapidaai/voicebridge/internal/vad"
)

// browserSampleRate and telephonySampleRate are the pinned rates for
// each dialect (§4.1: "no resampling on the fast path" — 16kHz for the
// transcription/media variant).
const (
	browserSampleRate   = 16000
	telephonySampleRate = 16000
)

// Deps bundles the long-lived, process-wide singletons the transport
// handlers need to build one Conductor per connection. Registry and the
// client pools outlive any single session; Router and Conductor do not
// and are constructed fresh per call.
type Deps struct {
	Config   *config.AppConfig
	Logger   commons.Logger
	STTPool  stt.Pool
	TTSPool  tts.Pool
	LLMPool  llm.Pool
	Registry *agent.Registry
	Store    session.Store
	OwnerID  string

	DefaultSTTProvider string
	VoiceProfile       func(*session.Record) (provider, voice string)

	FallbackPhrase   string
	GreeterAgentKey  string
	GreetingText     string
	GreetingProvider string
	GreetingVoice    string
	GoodbyeText      string

	// VADFactory, when non-nil, gives each Conductor a per-session
	// Silero detector feeding the barge-in decision alongside STT
	// confidence.
	VADFactory vad.Factory

	// activeSessions backs `GET /health`'s active_sessions count (§6),
	// incremented/decremented around each Conductor.Run call.
	activeSessions int64
}

// ActiveSessions reports the number of sessions currently being served by
// this process (§6 `GET /health` → `{status, active_sessions}`).
func (d *Deps) ActiveSessions() int64 {
	return atomic.LoadInt64(&d.activeSessions)
}

// newConductor assembles one session's Orchestrator/Router/Conductor
// triple from the shared Deps (§4.6→§4.8 wiring).
func (d *Deps) newConductor() *conductor.Conductor {
	orch := agent.NewOrchestrator(
		d.Registry, d.LLMPool, d.Store, d.OwnerID, d.Logger,
		d.Config.HistoryWindowTurns,
		time.Duration(d.Config.ToolTimeoutMs)*time.Millisecond,
		d.FallbackPhrase, d.GreeterAgentKey,
	)
	r := router.New(
		orch, d.TTSPool, d.Store, d.OwnerID, d.Logger,
		time.Duration(d.Config.TurnTimeoutMs)*time.Millisecond,
		d.VoiceProfile,
	)
	return conductor.New(
		d.STTPool, d.TTSPool, r, d.Store, d.OwnerID, d.Logger,
		d.DefaultSTTProvider, d.Config.BargeInStabilityThresh, d.Config.BargeInMinAudioMs,
		d.GreetingText, d.GreetingProvider, d.GreetingVoice,
		time.Duration(d.Config.STTSilenceTimeoutMs)*time.Millisecond, d.GoodbyeText,
		d.VADFactory,
	)
}

func (d *Deps) newSession(kind session.TransportKind) *session.Record {
	rec := session.NewRecord(uuid.NewString(), kind, d.OwnerID, d.Config.HistoryWindowTurns)
	if d.Store != nil {
		if err := d.Store.Create(nil, rec.SessionID, rec); err != nil { //nolint:staticcheck // Create takes ctx but has nothing to cancel on at creation time
			d.Logger.Warnw("session store create failed", "session_id", rec.SessionID, "err", err)
		}
	}
	return rec
}

// Browser upgrades and serves the `/realtime` WebSocket (§4.9).
func (d *Deps) Browser(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.Logger.Warnw("browser websocket upgrade failed", "err", err)
		return
	}
	rec := d.newSession(session.TransportBrowser)
	t := NewBrowserTransport(conn, browserSampleRate, d.Logger)
	cdt := d.newConductor()
	atomic.AddInt64(&d.activeSessions, 1)
	defer atomic.AddInt64(&d.activeSessions, -1)
	if err := cdt.Run(c.Request.Context(), rec, t); err != nil {
		d.Logger.Warnw("browser session ended with error", "session_id", rec.SessionID, "err", err)
	}
}

// CallStream upgrades and serves the telephony media `/call/stream`
// WebSocket (§4.9). The inbound call-control webhook that hands off
// into this endpoint is C10's concern (internal/callcontrol).
func (d *Deps) CallStream(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.Logger.Warnw("telephony websocket upgrade failed", "err", err)
		return
	}
	rec := d.newSession(session.TransportTelephonyMedia)
	t := NewTelephonyTransport(conn, telephonySampleRate, d.Logger)
	cdt := d.newConductor()
	atomic.AddInt64(&d.activeSessions, 1)
	defer atomic.AddInt64(&d.activeSessions, -1)
	if err := cdt.Run(c.Request.Context(), rec, t); err != nil {
		d.Logger.Warnw("telephony session ended with error", "session_id", rec.SessionID, "err", err)
	}
}

// RegisterRoutes wires the transport endpoints onto engine, at the
// literal unprefixed paths callers and the telephony provider dial (§6).
func RegisterRoutes(engine *gin.Engine, d *Deps) {
	d.Logger.Infof("registering realtime transport routes")
	engine.GET("/realtime", d.Browser)
	engine.GET("/call/stream", d.CallStream)
}
