// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callcontrol

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// Handlers adapts the Facade onto the HTTP surface named in §6: the
// provider webhook, outbound placement, and hangup endpoints.
type Handlers struct {
	facade *Facade
	logger commons.Logger
}

// NewHandlers builds the gin.HandlerFunc adapters around facade.
func NewHandlers(facade *Facade, logger commons.Logger) *Handlers {
	return &Handlers{facade: facade, logger: logger}
}

// outboundRequest is the body of `POST /call/outbound` (§6).
type outboundRequest struct {
	Provider    string `json:"provider"`
	Target      string `json:"target" binding:"required"`
	SessionHint string `json:"session_hint"`
}

// hangupRequest is the body of `POST /call/hangup` (§6).
type hangupRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// Incoming handles `POST /call/incoming`: a telephony provider webhook
// announcing a new inbound call. The provider-specific body shape
// (Twilio form-encoded CallSid/From/To, Vonage JSON uuid/from/to) is
// normalized here into IncomingEvent before the facade ever sees it.
func (h *Handlers) Incoming(c *gin.Context) {
	ev, err := decodeIncoming(c)
	if err != nil {
		h.logger.Warnw("incoming call webhook decode failed", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed incoming call event"})
		return
	}

	directive, err := h.facade.HandleIncoming(c.Request.Context(), ev)
	if err != nil {
		h.logger.Warnw("incoming call handling failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not answer call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": directive.SessionID,
		"stream_url": directive.StreamURL,
	})
}

// decodeIncoming accepts either Twilio's form-encoded webhook body or a
// JSON body shaped like Vonage's answer webhook, distinguished by the
// declared provider query param (§6 leaves the exact envelope to the
// provider; the facade only needs the normalized fields).
func decodeIncoming(c *gin.Context) (IncomingEvent, error) {
	provider := c.DefaultQuery("provider", ProviderTwilio)
	switch provider {
	case ProviderTwilio:
		return IncomingEvent{
			Provider:     ProviderTwilio,
			ProviderCall: c.PostForm("CallSid"),
			From:         c.PostForm("From"),
			To:           c.PostForm("To"),
		}, nil
	case ProviderVonage:
		var body struct {
			UUID string `json:"uuid"`
			From string `json:"from"`
			To   string `json:"to"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			return IncomingEvent{}, err
		}
		return IncomingEvent{
			Provider:     ProviderVonage,
			ProviderCall: body.UUID,
			From:         body.From,
			To:           body.To,
		}, nil
	default:
		return IncomingEvent{}, commons.NewError(commons.KindProtocol, errUnknownProviderParam(provider))
	}
}

// Outbound handles `POST /call/outbound` (§6: `{target, session_hint?}` →
// `{session_id}`). An optional `provider` field selects Twilio or Vonage
// and defaults to Twilio, as for incoming webhooks.
func (h *Handlers) Outbound(c *gin.Context) {
	var req outboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Provider == "" {
		req.Provider = ProviderTwilio
	}
	sessionID, err := h.facade.PlaceOutboundCall(c.Request.Context(), req.Provider, req.Target, req.SessionHint)
	if err != nil {
		h.logger.Warnw("outbound call placement failed", "target", req.Target, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not place outbound call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// Hangup handles `POST /call/hangup` (§6: `{session_id}` → 204).
func (h *Handlers) Hangup(c *gin.Context) {
	var req hangupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.facade.Hangup(c.Request.Context(), req.SessionID); err != nil {
		h.logger.Warnw("hangup failed", "session_id", req.SessionID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not hang up"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes wires the call-control HTTP endpoints onto engine, at
// the literal unprefixed paths the provider webhooks are configured
// with (§6).
func RegisterRoutes(engine *gin.Engine, h *Handlers) {
	engine.POST("/call/incoming", h.Incoming)
	engine.POST("/call/outbound", h.Outbound)
	engine.POST("/call/hangup", h.Hangup)
}

type errUnknownProviderParam string

func (e errUnknownProviderParam) Error() string { return "unknown telephony provider: " + string(e) }
