package flow

import (
	"context"
	"errors"
	"time"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

// TOTPChallenge verifies a live numeric code against a pending step-up.
type TOTPChallenge struct {
	totp gateway.TOTPGateway
}

func NewTOTPChallenge(totp gateway.TOTPGateway) *TOTPChallenge {
	return &TOTPChallenge{totp: totp}
}

func (c *TOTPChallenge) Method() domain.FactorMethod { return domain.MethodTOTP }

// Submit runs one verification attempt. Order matters: shape check first
// (no network for garbage input), then local expiry (no network for a dead
// challenge), then exactly one verify call. Invalid codes are a terminal
// outcome for this attempt; resubmission is a fresh user action.
func (c *TOTPChallenge) Submit(ctx context.Context, pending *domain.PendingStepUp, code string) (ChallengeResult, error) {
	result := ChallengeResult{
		VerificationResult: domain.VerificationResult{Method: domain.MethodTOTP},
	}

	if pending == nil {
		return result, ErrProtocolViolation
	}
	if !ValidCodeShape(code) {
		return result, ErrMalformedCode
	}
	if pending.Expired(time.Now()) {
		result.Outcome = domain.OutcomeExpired
		return result, nil
	}

	tokens, err := c.totp.Verify(ctx, pending.Token, code)
	if err != nil {
		return result, mapVerifyErr(&result, err)
	}

	result.Outcome = domain.OutcomeSuccess
	result.Tokens = tokens
	return result, nil
}

// mapVerifyErr classifies a failed verify call. Per-attempt outcomes land in
// the result with a nil error; rate limiting stays an error so it surfaces
// verbatim.
func mapVerifyErr(result *ChallengeResult, err error) error {
	switch mapped := mapGatewayErr(err); {
	case errors.Is(mapped, ErrInvalidCode):
		result.Outcome = domain.OutcomeInvalidCode
		return nil
	case errors.Is(mapped, ErrExpiredChallenge):
		result.Outcome = domain.OutcomeExpired
		return nil
	case errors.Is(mapped, context.Canceled):
		result.Outcome = domain.OutcomeCancelled
		return nil
	case errors.Is(mapped, context.DeadlineExceeded):
		result.Outcome = domain.OutcomeExpired
		return nil
	case errors.Is(mapped, ErrRateLimited):
		return mapped
	default:
		result.Outcome = domain.OutcomeNetworkError
		return nil
	}
}
