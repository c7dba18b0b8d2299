// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callcontrol implements C10, the Call Control Facade (§4.10):
// inbound webhook intake for incoming calls and outbound call placement,
// delegating to the telephony provider's call-control API and handing
// off into the media WebSocket (C9) via the callcontext ledger (D1).
// The Twilio and Vonage SDK clients sit behind one facade, constructed
// from the credential bag the incoming event's provider names.
package callcontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	vng "github.com/vonage/vonage-go-sdk"
	"github.com/vonage/vonage-go-sdk/ncco"

	"github.com/rapidaai/voicebridge/internal/callcontext"
	"github.com/rapidaai/voicebridge/internal/commons"
)

// Provider names recognized in call contexts and webhook envelopes.
const (
	ProviderTwilio = "twilio"
	ProviderVonage = "vonage"
)

// callTimeout and callRetries bound every outbound provider RPC (§4.10:
// "wrapped with 5 s timeout and 2 retries on transient errors").
const (
	callTimeout = 5 * time.Second
	callRetries = 2
)

// Credentials resolves the account/application credential bag for a
// provider from static configuration (no external secrets vault, §1).
type Credentials map[string]string

// CredentialSource resolves a provider's Credentials at call time, so the
// facade never caches a stale secret across a config reload.
type CredentialSource func(provider string) (Credentials, error)

// IncomingEvent is the normalized shape of a provider webhook body (§6
// `POST /call/incoming`), after the HTTP layer (handlers.go) has decoded
// the provider-specific envelope (Twilio form-encoded vs. Vonage JSON)
// into a common struct.
type IncomingEvent struct {
	Provider     string
	ProviderCall string // Twilio CallSid / Vonage uuid
	From         string
	To           string
}

// AnswerDirective is returned to the provider in response to an incoming
// call webhook, telling it where to open the media stream (§6: "responds
// 200 with an answer directive including the /call/stream URL").
type AnswerDirective struct {
	SessionID string
	StreamURL string
}

// Facade is the C10 Call Control Facade.
type Facade struct {
	logger      commons.Logger
	contexts    callcontext.Store
	credentials CredentialSource
	streamURL   func(sessionID string) string
}

// New builds a Facade. streamURL formats the `/call/stream` URL the
// provider should connect its media stream to for a freshly allocated
// session_id.
func New(logger commons.Logger, contexts callcontext.Store, creds CredentialSource, streamURL func(string) string) *Facade {
	return &Facade{logger: logger, contexts: contexts, credentials: creds, streamURL: streamURL}
}

// HandleIncoming answers an inbound call webhook: allocates a session_id,
// records a pending CallContext the media WebSocket will claim once the
// provider connects, and returns where to send the media stream (§4.10,
// §6 `POST /call/incoming`).
func (f *Facade) HandleIncoming(ctx context.Context, ev IncomingEvent) (*AnswerDirective, error) {
	sessionID := uuid.NewString()
	cc := &callcontext.CallContext{
		SessionID:    sessionID,
		Status:       callcontext.StatusPending,
		Provider:     ev.Provider,
		Direction:    callcontext.DirectionInbound,
		CallerNumber: ev.From,
		CalleeNumber: ev.To,
		ChannelUUID:  ev.ProviderCall,
	}
	if _, err := f.contexts.Save(ctx, cc); err != nil {
		return nil, commons.NewError(commons.KindUpstream, fmt.Errorf("saving inbound call context: %w", err))
	}
	f.logger.Infof("incoming call answered: session_id=%s provider=%s from=%s", sessionID, ev.Provider, ev.From)
	return &AnswerDirective{SessionID: sessionID, StreamURL: f.streamURL(sessionID)}, nil
}

// PlaceOutboundCall places a call to target via the named provider and
// returns the newly created session_id (§4.10: "Exposes
// PlaceOutboundCall(target_e164, session_hint)"). sessionHint, if set, is
// used as the session_id instead of a freshly generated one, letting a
// caller correlate the placed call with a pre-existing record.
func (f *Facade) PlaceOutboundCall(ctx context.Context, provider, targetE164, sessionHint string) (string, error) {
	sessionID := sessionHint
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cc := &callcontext.CallContext{
		SessionID:    sessionID,
		Status:       callcontext.StatusQueued,
		Provider:     provider,
		Direction:    callcontext.DirectionOutbound,
		CalleeNumber: targetE164,
	}
	contextID, err := f.contexts.Save(ctx, cc)
	if err != nil {
		return "", commons.NewError(commons.KindUpstream, fmt.Errorf("saving outbound call context: %w", err))
	}

	providerCallID, err := f.dial(ctx, provider, targetE164, f.streamURL(sessionID))
	if err != nil {
		_ = f.contexts.Fail(ctx, contextID)
		return "", err
	}
	if err := f.contexts.UpdateField(ctx, contextID, "channel_uuid", providerCallID); err != nil {
		f.logger.Warnw("outbound call context channel_uuid update failed", "context_id", contextID, "err", err)
	}

	f.logger.Infof("outbound call placed: session_id=%s provider=%s to=%s provider_call=%s", sessionID, provider, targetE164, providerCallID)
	return sessionID, nil
}

// Hangup ends a call given its session_id by resolving the bound provider
// call leg and issuing a hangup RPC, then marks the call context
// completed (§6 `POST /call/hangup`).
func (f *Facade) Hangup(ctx context.Context, sessionID string) error {
	cc, err := f.contexts.BySessionID(ctx, sessionID)
	if err != nil {
		return commons.NewError(commons.KindUpstream, fmt.Errorf("resolving call context for %s: %w", sessionID, err))
	}
	if err := f.terminate(ctx, cc.Provider, cc.ChannelUUID); err != nil {
		return err
	}
	return f.contexts.Complete(ctx, cc.ContextID)
}

// dial places the outbound call with the named provider, wrapped in the
// §4.10 timeout/retry envelope.
func (f *Facade) dial(ctx context.Context, provider, targetE164, streamURL string) (string, error) {
	var providerCallID string
	err := withRetry(ctx, callRetries, func(callCtx context.Context) error {
		var dialErr error
		switch provider {
		case ProviderTwilio:
			providerCallID, dialErr = f.dialTwilio(callCtx, targetE164, streamURL)
		case ProviderVonage:
			providerCallID, dialErr = f.dialVonage(callCtx, targetE164, streamURL)
		default:
			return commons.NewError(commons.KindConfig, fmt.Errorf("unknown telephony provider %q", provider))
		}
		return dialErr
	})
	if err != nil {
		return "", err
	}
	return providerCallID, nil
}

func (f *Facade) terminate(ctx context.Context, provider, providerCallID string) error {
	return withRetry(ctx, callRetries, func(callCtx context.Context) error {
		switch provider {
		case ProviderTwilio:
			return f.hangupTwilio(callCtx, providerCallID)
		case ProviderVonage:
			return f.hangupVonage(callCtx, providerCallID)
		default:
			return commons.NewError(commons.KindConfig, fmt.Errorf("unknown telephony provider %q", provider))
		}
	})
}

func (f *Facade) dialTwilio(ctx context.Context, targetE164, streamURL string) (string, error) {
	client, from, err := f.twilioClient()
	if err != nil {
		return "", err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(targetE164)
	params.SetFrom(from)
	params.SetTwiml(fmt.Sprintf(`<Response><Connect><Stream url="%s"/></Connect></Response>`, streamURL))
	resp, err := client.Api.CreateCall(params)
	if err != nil {
		return "", commons.NewRetryableError(commons.KindUpstream, err)
	}
	if resp.Sid == nil {
		return "", commons.NewError(commons.KindUpstream, errors.New("twilio create call returned no sid"))
	}
	return *resp.Sid, nil
}

func (f *Facade) hangupTwilio(ctx context.Context, callSid string) error {
	client, _, err := f.twilioClient()
	if err != nil {
		return err
	}
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := client.Api.UpdateCall(callSid, params); err != nil {
		return commons.NewRetryableError(commons.KindUpstream, err)
	}
	return nil
}

func (f *Facade) twilioClient() (*twilio.RestClient, string, error) {
	creds, err := f.credentials(ProviderTwilio)
	if err != nil {
		return nil, "", commons.NewError(commons.KindConfig, err)
	}
	accountSid, ok := creds["account_sid"]
	if !ok {
		return nil, "", commons.NewError(commons.KindConfig, errors.New("twilio credentials missing account_sid"))
	}
	authToken, ok := creds["account_token"]
	if !ok {
		return nil, "", commons.NewError(commons.KindConfig, errors.New("twilio credentials missing account_token"))
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSid, Password: authToken})
	return client, creds["from_number"], nil
}

func (f *Facade) vonageAuth() (vng.Auth, error) {
	creds, err := f.credentials(ProviderVonage)
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, err)
	}
	appID, ok := creds["application_id"]
	if !ok {
		return nil, commons.NewError(commons.KindConfig, errors.New("vonage credentials missing application_id"))
	}
	privateKey, ok := creds["private_key"]
	if !ok {
		return nil, commons.NewError(commons.KindConfig, errors.New("vonage credentials missing private_key"))
	}
	auth, err := vng.CreateAuthFromAppPrivateKey(appID, []byte(privateKey))
	if err != nil {
		return nil, commons.NewError(commons.KindConfig, err)
	}
	return auth, nil
}

func (f *Facade) dialVonage(ctx context.Context, targetE164, streamURL string) (string, error) {
	auth, err := f.vonageAuth()
	if err != nil {
		return "", err
	}
	creds, _ := f.credentials(ProviderVonage)
	voiceClient := vng.NewVoiceClient(auth)
	connectNcco := ncco.Ncco{}
	connectNcco.AddAction(ncco.ConnectAction{
		Endpoint: []ncco.Endpoint{ncco.WebSocketEndpoint{
			Uri:         streamURL,
			ContentType: "audio/l16;rate=16000",
		}},
	})
	result, _, err := voiceClient.CreateCall(vng.CreateCallOpts{
		To: vng.CallTo{Type: "phone", Number: targetE164},
		From: vng.CallFrom{
			Type:   "phone",
			Number: creds["from_number"],
		},
		Ncco: connectNcco,
	})
	if err != nil {
		return "", commons.NewRetryableError(commons.KindUpstream, err)
	}
	return result.Uuid, nil
}

func (f *Facade) hangupVonage(ctx context.Context, callUUID string) error {
	auth, err := f.vonageAuth()
	if err != nil {
		return err
	}
	voiceClient := vng.NewVoiceClient(auth)
	if _, _, err := voiceClient.Hangup(callUUID); err != nil {
		return commons.NewRetryableError(commons.KindUpstream, err)
	}
	return nil
}

// withRetry runs fn under callTimeout, retrying up to attempts additional
// times on a retryable BridgeError (§4.10). Non-retryable provider errors
// surface as-is (ErrorKind::Upstream per §4.10).
func withRetry(ctx context.Context, attempts int, fn func(context.Context) error) error {
	var lastErr error
	for i := 0; i <= attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		var be *commons.BridgeError
		if !errors.As(err, &be) || !be.Retryable {
			return err
		}
	}
	return lastErr
}
