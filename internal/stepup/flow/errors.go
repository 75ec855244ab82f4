package flow

import (
	"context"
	"errors"

	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

var (
	// ErrInvalidCredential covers unknown-user and wrong-password alike.
	ErrInvalidCredential = errors.New("invalid username or password")

	// ErrRateLimited is the service refusing further attempts. Surfaced
	// verbatim; the client never retries a security-sensitive submission.
	ErrRateLimited = errors.New("rate limited")

	// ErrExpiredChallenge reports a pending step-up past its window.
	ErrExpiredChallenge = errors.New("step-up challenge expired")

	// ErrInvalidCode is the service rejecting a well-formed code.
	ErrInvalidCode = errors.New("code incorrect")

	// ErrMalformedCode is a client-side shape rejection, raised before any
	// network call is made.
	ErrMalformedCode = errors.New("code must be exactly 6 digits")

	// ErrPlatformUnavailable reports that no assertion-capable platform
	// authenticator is present. The selector hides the passkey option
	// rather than offering a method guaranteed to fail.
	ErrPlatformUnavailable = errors.New("no platform authenticator available")

	// ErrCeremonyCancelled is returned by Authenticator implementations when
	// the user dismisses the platform prompt.
	ErrCeremonyCancelled = errors.New("assertion ceremony cancelled")

	// ErrNetworkFailure reports a transport-level failure. The caller must
	// not interpret it as "no factor enabled"; progress is blocked instead.
	ErrNetworkFailure = errors.New("network failure")

	// ErrNoMethodsAvailable reports that every factor allowed at login time
	// has since been revoked or has no local handler. A fresh login is the
	// only way forward.
	ErrNoMethodsAvailable = errors.New("no verification methods available")

	// ErrProtocolViolation reports an internal invariant breach, such as
	// finalizing a non-success result or a superseded attempt. It always
	// fails closed: no session is granted.
	ErrProtocolViolation = errors.New("step-up protocol violation")
)

// mapGatewayErr folds a gateway error into the flow taxonomy. Typed service
// errors map by code; anything else on the wire is a network failure.
func mapGatewayErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrInvalidCredential):
		return ErrInvalidCredential
	case errors.Is(err, gateway.ErrInvalidCode):
		return ErrInvalidCode
	case errors.Is(err, gateway.ErrExpiredChallenge):
		return ErrExpiredChallenge
	case errors.Is(err, gateway.ErrRateLimited), errors.Is(err, gateway.ErrTooManyAttempts):
		return ErrRateLimited
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			return err
		}
		return errors.Join(ErrNetworkFailure, err)
	}
}
