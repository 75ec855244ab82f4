package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/pkg/idx"
	"github.com/meridianhq/stepup/pkg/slogx"
)

// LoginOutcome is the authenticator's answer: token material ready for
// finalization (no second factor), or a pending step-up naming the enabled
// factors. Exactly one field is set.
type LoginOutcome struct {
	Tokens  *gateway.TokenPayload
	Pending *domain.PendingStepUp
}

// CredentialAuthenticator validates the primary credential pair. It writes
// no session state itself; promotion is the finalizer's job.
type CredentialAuthenticator struct {
	creds gateway.CredentialGateway
	guard *FreshnessGuard
}

func NewCredentialAuthenticator(creds gateway.CredentialGateway, guard *FreshnessGuard) *CredentialAuthenticator {
	return &CredentialAuthenticator{creds: creds, guard: guard}
}

// Login exchanges credentials with the service. When the service answers
// with tokens directly, the "no factors enabled" belief is re-checked
// through a live status read before the outcome is returned; skipping
// step-up on a cached or local belief is never allowed, in any environment.
func (a *CredentialAuthenticator) Login(
	ctx context.Context,
	attemptID idx.ID,
	username, password string,
) (*LoginOutcome, error) {
	log := slogx.FromContext(ctx)

	result, err := a.creds.Login(ctx, username, password)
	if err != nil {
		return nil, mapGatewayErr(err)
	}

	switch {
	case result.StepUp != nil:
		methods := domain.ParseMethods(result.StepUp.Methods)
		if len(methods) == 0 {
			// The service demanded a step-up this client cannot perform.
			log.Error("step-up required but no usable methods", "advertised", result.StepUp.Methods)
			return nil, fmt.Errorf("%w: step-up required with no usable methods", ErrProtocolViolation)
		}

		now := time.Now()
		pending := &domain.PendingStepUp{
			AttemptID:      attemptID,
			AccountID:      result.StepUp.AccountID,
			Token:          result.StepUp.Token,
			AllowedFactors: methods,
			IssuedAt:       now,
			ExpiresAt:      now.Add(time.Duration(result.StepUp.ExpiresIn) * time.Second),
		}
		log.Info("step-up required", "methods", result.StepUp.Methods)
		return &LoginOutcome{Pending: pending}, nil

	case result.Tokens != nil:
		claims, err := parseAccessClaims(result.Tokens.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}

		snap, err := a.guard.Snapshot(ctx, claims.Subject)
		if err != nil {
			// Cannot verify factor state; block rather than fail open.
			return nil, err
		}
		if enabled := snap.EnabledMethods(); len(enabled) > 0 {
			log.Error("service skipped step-up for an account with enabled factors", "enabled", enabled)
			return nil, fmt.Errorf("%w: login bypassed an enabled second factor", ErrProtocolViolation)
		}

		return &LoginOutcome{Tokens: result.Tokens}, nil

	default:
		return nil, fmt.Errorf("%w: login result carries neither tokens nor step-up", ErrProtocolViolation)
	}
}
