package core

import (
	"errors"
	"fmt"

	"hubalert/internal/types"
)

// DispatchError is a recognized, retryable dispatch failure: a network hiccup,
// a provider transient error, a processing rejection the provider may accept
// on a later attempt.
type DispatchError struct {
	Reason string
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("dispatch failed: %s", e.Reason)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// UnsupportedByUserError is a terminal dispatch failure: this user/channel
// combination can never succeed (no address on file, token permanently
// invalid, method disabled for the person).
type UnsupportedByUserError struct {
	Method types.NotificationMethod
	Reason string
}

func (e *UnsupportedByUserError) Error() string {
	return fmt.Sprintf("method %s unsupported by user: %s", e.Method, e.Reason)
}

// NoSuchProviderError indicates a configuration or registry gap: no provider
// is registered for the requested method. Terminal for the attempt and
// operationally actionable.
type NoSuchProviderError struct {
	Method types.NotificationMethod
}

func (e *NoSuchProviderError) Error() string {
	return fmt.Sprintf("no provider registered for method %s", e.Method)
}

// Counter cause tokens. The spellings are part of the dashboard contract and
// must not change.
const (
	causeNoSuchProvider = "nosuchproviderexception"
	causeDispatch       = "dispatchexception"
	causeUnsupported    = "dispatchunsupportedbyuserexception"
	causeUnexpected     = "unexpected"
	causeExpired        = "expired"

	// methodNone keeps counter names parseable when a notification reaches
	// dispatch with no method assigned.
	methodNone = types.NotificationMethod("NONE")

	// CauseConnectionFailure marks a connection-level fatal error on a
	// provider. It is alarm-worthy: the failure invalidates all in-flight and
	// future sends on that provider, not just one notification.
	CauseConnectionFailure = "connectionfailure"
)

// causeToken maps a dispatch error to its counter cause token. Unrecognized
// errors map to the distinct "unexpected" token so operators can tell
// unmodeled provider behavior apart from expected domain failures.
func causeToken(err error) string {
	var (
		nsp *NoSuchProviderError
		de  *DispatchError
		ue  *UnsupportedByUserError
	)
	switch {
	case errors.As(err, &nsp):
		return causeNoSuchProvider
	case errors.As(err, &de):
		return causeDispatch
	case errors.As(err, &ue):
		return causeUnsupported
	default:
		return causeUnexpected
	}
}
