package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/pkg/idx"
	"github.com/meridianhq/stepup/pkg/slogx"
)

// TOTPEnrollment owns the enrollment lifecycle: begin, activate or cancel.
// At most one draft is live at a time; beginning a new one destroys the
// previous draft's secret material.
type TOTPEnrollment struct {
	totp  gateway.TOTPGateway
	guard *FreshnessGuard

	mu      sync.Mutex
	current *domain.TOTPEnrollmentDraft
}

func NewTOTPEnrollment(totp gateway.TOTPGateway, guard *FreshnessGuard) *TOTPEnrollment {
	return &TOTPEnrollment{totp: totp, guard: guard}
}

// Begin requests fresh enrollment material and constructs a draft. The
// provisioning URI is parsed and cross-checked against the secret before the
// draft is accepted; a QR code that enrolls a different secret than the one
// being activated would strand the user.
func (e *TOTPEnrollment) Begin(ctx context.Context) (*domain.TOTPEnrollmentDraft, error) {
	result, err := e.totp.EnrollBegin(ctx)
	if err != nil {
		return nil, mapGatewayErr(err)
	}

	key, err := otp.NewKeyFromURL(result.EnrollmentURI)
	if err != nil {
		return nil, fmt.Errorf("%w: bad enrollment URI: %v", ErrProtocolViolation, err)
	}
	if key.Type() != "totp" || key.Secret() != result.Secret {
		return nil, fmt.Errorf("%w: enrollment URI does not match issued secret", ErrProtocolViolation)
	}

	draft := &domain.TOTPEnrollmentDraft{
		DraftID:       idx.New(),
		Secret:        result.Secret,
		EnrollmentURI: result.EnrollmentURI,
		BackupCodes:   result.BackupCodes,
		CreatedAt:     time.Now(),
	}

	e.mu.Lock()
	if e.current != nil {
		e.current.Wipe()
	}
	e.current = draft
	e.mu.Unlock()

	return draft, nil
}

// Activate submits the user's activation code for the draft. The code's
// shape is checked locally first; a server rejection (ErrInvalidCode) keeps
// the draft alive so the user can retry without re-scanning.
func (e *TOTPEnrollment) Activate(ctx context.Context, draft *domain.TOTPEnrollmentDraft, code string) error {
	if draft == nil || draft.Wiped() {
		return fmt.Errorf("%w: activate on a dead enrollment draft", ErrProtocolViolation)
	}
	if !ValidCodeShape(code) {
		return ErrMalformedCode
	}

	if err := e.totp.EnrollActivate(ctx, code); err != nil {
		return mapGatewayErr(err)
	}

	// The factor is live; the account state behind the gateway supersedes
	// the draft from here on.
	e.discard(draft)
	e.guard.NoteMutation()

	return nil
}

// Cancel abandons the draft. The abandon call is best effort; the wipe is not.
func (e *TOTPEnrollment) Cancel(ctx context.Context, draft *domain.TOTPEnrollmentDraft) {
	if draft == nil || draft.Wiped() {
		return
	}

	if err := e.totp.EnrollAbandon(ctx); err != nil {
		slogx.FromContext(ctx).Warn("failed to abandon enrollment draft", "err", err)
	}

	e.discard(draft)
}

// RegenerateBackupCodes replaces the account's backup codes, guarded by a
// live TOTP code. The new codes are shown once and not retained here.
func (e *TOTPEnrollment) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	if !ValidCodeShape(code) {
		return nil, ErrMalformedCode
	}

	codes, err := e.totp.RegenerateBackupCodes(ctx, code)
	if err != nil {
		return nil, mapGatewayErr(err)
	}
	return codes, nil
}

// Remove disables the TOTP factor, guarded by a live TOTP code.
func (e *TOTPEnrollment) Remove(ctx context.Context, code string) error {
	if !ValidCodeShape(code) {
		return ErrMalformedCode
	}

	if err := e.totp.RemoveTOTP(ctx, code); err != nil {
		return mapGatewayErr(err)
	}

	e.guard.NoteMutation()
	return nil
}

// DiscardCurrent wipes any live draft. Called on attempt teardown and by the
// finalizer when a session is promoted while an enrollment dialog is open.
func (e *TOTPEnrollment) DiscardCurrent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		e.current.Wipe()
		e.current = nil
	}
}

func (e *TOTPEnrollment) discard(draft *domain.TOTPEnrollmentDraft) {
	e.mu.Lock()
	defer e.mu.Unlock()
	draft.Wipe()
	if e.current == draft {
		e.current = nil
	}
}
