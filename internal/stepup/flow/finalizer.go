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

// SessionFinalizer is the single point where anything becomes a confirmed
// session. Every promotion path, including the no-factor one, runs through
// this component; calling it out of order fails closed.
type SessionFinalizer struct {
	notifier *Notifier
	enroll   *TOTPEnrollment // may be nil; drafts in scope are wiped on promotion
}

func NewSessionFinalizer(notifier *Notifier, enroll *TOTPEnrollment) *SessionFinalizer {
	return &SessionFinalizer{notifier: notifier, enroll: enroll}
}

// Finalize promotes a successful verification of a pending step-up.
// Rejected outright: a non-success result, missing tokens, an expired
// pending, or a method the pending never allowed.
func (f *SessionFinalizer) Finalize(
	ctx context.Context,
	pending *domain.PendingStepUp,
	result ChallengeResult,
) (*domain.ConfirmedSession, error) {
	if pending == nil {
		return nil, fmt.Errorf("%w: finalize without a pending step-up", ErrProtocolViolation)
	}
	if !result.Succeeded() {
		return nil, fmt.Errorf("%w: finalize with outcome %q", ErrProtocolViolation, result.Outcome)
	}
	if result.Tokens == nil {
		return nil, fmt.Errorf("%w: success result without token material", ErrProtocolViolation)
	}
	if pending.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: finalize an expired step-up", ErrProtocolViolation)
	}
	if !pending.Allows(result.Method) {
		return nil, fmt.Errorf("%w: method %s not allowed for this step-up", ErrProtocolViolation, result.Method)
	}

	return f.promote(ctx, pending.AttemptID, result.Tokens)
}

// FinalizePrimary promotes a login that required no second factor. The
// caller must have re-checked the factor status through the freshness guard;
// the authenticator does this unconditionally.
func (f *SessionFinalizer) FinalizePrimary(
	ctx context.Context,
	attemptID idx.ID,
	tokens *gateway.TokenPayload,
) (*domain.ConfirmedSession, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: finalize without token material", ErrProtocolViolation)
	}
	return f.promote(ctx, attemptID, tokens)
}

func (f *SessionFinalizer) promote(
	ctx context.Context,
	attemptID idx.ID,
	tokens *gateway.TokenPayload,
) (*domain.ConfirmedSession, error) {
	claims, err := parseAccessClaims(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	session := &domain.ConfirmedSession{
		AttemptID:    attemptID,
		Subject:      claims.Subject,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Scope:        tokens.Scope,
		AMR:          claims.AMR,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
	}

	// Ephemeral state dies with promotion: any open enrollment draft is
	// superseded by whatever the account state now says.
	if f.enroll != nil {
		f.enroll.DiscardCurrent()
	}

	slogx.FromContext(ctx).Info("session confirmed", "amr", session.AMR)
	f.notifier.Publish(Event{Type: EventSessionConfirmed, AttemptID: attemptID})

	return session, nil
}
