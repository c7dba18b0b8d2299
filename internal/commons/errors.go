// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import "fmt"

// ErrorKind is the error taxonomy from §7. Every error that crosses a
// component boundary in the bridge should be classified as one of these so
// the propagation policy can act on it without string sniffing.
type ErrorKind string

const (
	// KindTransport: the caller's connection is gone or malformed.
	KindTransport ErrorKind = "transport"
	// KindUpstream: an external service (STT/TTS/LLM/telephony) failed.
	KindUpstream ErrorKind = "upstream"
	// KindTimeout: a wall-clock cap was hit.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled: barge-in or shutdown cancellation — not an error to
	// surface to the caller, logged at debug only.
	KindCancelled ErrorKind = "cancelled"
	// KindProtocol: the remote violated the expected message shape.
	KindProtocol ErrorKind = "protocol"
	// KindConfig: misconfiguration detected at startup or first use.
	KindConfig ErrorKind = "config"
	// KindInternal: invariant violation. The session is terminated but
	// the process continues.
	KindInternal ErrorKind = "internal"
)

// BridgeError wraps a cause with its taxonomy kind and whether retrying the
// operation that produced it is meaningful.
type BridgeError struct {
	Kind      ErrorKind
	Retryable bool
	Cause     error
}

func (e *BridgeError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *BridgeError) Unwrap() error { return e.Cause }

// NewError wraps cause as a BridgeError of the given kind.
func NewError(kind ErrorKind, cause error) *BridgeError {
	return &BridgeError{Kind: kind, Cause: cause}
}

// NewRetryableError wraps cause as a retryable BridgeError, used for
// transient upstream failures eligible for the caller's retry budget.
func NewRetryableError(kind ErrorKind, cause error) *BridgeError {
	return &BridgeError{Kind: kind, Retryable: true, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to KindInternal when
// err was not produced by this package (an unclassified error is always
// treated as a bug, never surfaced verbatim to the caller).
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var be *BridgeError
	if asBridgeError(err, &be) {
		return be.Kind
	}
	return KindInternal
}

func asBridgeError(err error, target **BridgeError) bool {
	for err != nil {
		if be, ok := err.(*BridgeError); ok {
			*target = be
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
