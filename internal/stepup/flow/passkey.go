package flow

import (
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

// Authenticator is the platform's assertion primitive: given a challenge, it
// prompts the user and produces a signed assertion. Implementations must
// honor ctx cancellation and return ErrCeremonyCancelled when the user
// dismisses the prompt, or ErrPlatformUnavailable when no assertion
// capability exists at all.
type Authenticator interface {
	GetAssertion(ctx context.Context, assertion *protocol.CredentialAssertion) (*gateway.AssertionResponse, error)
}

// PasskeyChallenge drives the three-step assertion ceremony: fetch a
// challenge, invoke the platform authenticator, submit the assertion.
type PasskeyChallenge struct {
	passkeys gateway.PasskeyGateway
	platform Authenticator
}

func NewPasskeyChallenge(passkeys gateway.PasskeyGateway, platform Authenticator) *PasskeyChallenge {
	return &PasskeyChallenge{passkeys: passkeys, platform: platform}
}

func (c *PasskeyChallenge) Method() domain.FactorMethod { return domain.MethodPasskey }

// Submit runs one ceremony. The whole ceremony lives under a deadline
// derived from the pending step-up's expiry, so the timer dies with this
// call no matter how the ceremony ends. The input parameter is unused; the
// ceremony is keyed by account, not by a typed code.
func (c *PasskeyChallenge) Submit(ctx context.Context, pending *domain.PendingStepUp, _ string) (ChallengeResult, error) {
	result := ChallengeResult{
		VerificationResult: domain.VerificationResult{Method: domain.MethodPasskey},
	}

	if pending == nil {
		return result, ErrProtocolViolation
	}
	if c.platform == nil {
		return result, ErrPlatformUnavailable
	}
	if pending.Expired(time.Now()) {
		result.Outcome = domain.OutcomeExpired
		return result, nil
	}

	ctx, cancel := context.WithDeadline(ctx, pending.ExpiresAt)
	defer cancel()

	assertion, err := c.passkeys.ChallengeBegin(ctx, pending.Token, pending.AccountID)
	if err != nil {
		return result, mapVerifyErr(&result, err)
	}

	response, err := c.platform.GetAssertion(ctx, assertion)
	if err != nil {
		switch {
		case errors.Is(err, ErrPlatformUnavailable):
			return result, ErrPlatformUnavailable
		case errors.Is(err, ErrCeremonyCancelled), errors.Is(err, context.Canceled):
			result.Outcome = domain.OutcomeCancelled
			return result, nil
		case errors.Is(err, context.DeadlineExceeded):
			result.Outcome = domain.OutcomeExpired
			return result, nil
		default:
			result.Outcome = domain.OutcomeNetworkError
			return result, nil
		}
	}

	tokens, err := c.passkeys.ChallengeFinish(ctx, pending.Token, response)
	if err != nil {
		return result, mapVerifyErr(&result, err)
	}

	result.Outcome = domain.OutcomeSuccess
	result.Tokens = tokens
	return result, nil
}
