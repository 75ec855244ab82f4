package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/pkg/idx"
	"github.com/meridianhq/stepup/pkg/slogx"
)

// Orchestrator owns login attempts. At most one attempt is live: starting a
// new one cancels the previous attempt's context, invalidates its pending
// step-up, and bumps a generation counter so a late verification result
// from the superseded attempt can never finalize a session.
type Orchestrator struct {
	gw        gateway.Gateway
	guard     *FreshnessGuard
	auth      *CredentialAuthenticator
	enroll    *TOTPEnrollment
	finalizer *SessionFinalizer
	notifier  *Notifier
	platform  Authenticator

	mu         sync.Mutex
	generation uint64
	attempt    *Attempt
}

// NewOrchestrator wires the flow components over one gateway. platform may
// be nil when the host has no assertion capability; the passkey option then
// resolves as unavailable instead of failing mid-ceremony.
func NewOrchestrator(gw gateway.Gateway, platform Authenticator) *Orchestrator {
	guard := NewFreshnessGuard(gw)
	notifier := NewNotifier()
	enroll := NewTOTPEnrollment(gw, guard)

	return &Orchestrator{
		gw:        gw,
		guard:     guard,
		auth:      NewCredentialAuthenticator(gw, guard),
		enroll:    enroll,
		finalizer: NewSessionFinalizer(notifier, enroll),
		notifier:  notifier,
		platform:  platform,
	}
}

// Notifier exposes auth-state-change subscription.
func (o *Orchestrator) Notifier() *Notifier { return o.notifier }

// Enrollment exposes the TOTP enrollment flow (settings path, independent
// of login).
func (o *Orchestrator) Enrollment() *TOTPEnrollment { return o.enroll }

// Guard exposes the freshness guard for callers that need a live status
// read outside a login attempt (e.g. a settings screen).
func (o *Orchestrator) Guard() *FreshnessGuard { return o.guard }

// Attempt is one login attempt. It owns the only references to the pending
// step-up and the selector; when the attempt ends, they die with it.
type Attempt struct {
	ID idx.ID

	o        *Orchestrator
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	pending  *domain.PendingStepUp
	selector *MethodSelector
	session  *domain.ConfirmedSession
}

// StartLogin begins a fresh attempt, invalidating any previous one first.
func (o *Orchestrator) StartLogin(ctx context.Context, username, password string) (*Attempt, error) {
	attemptID := idx.New()

	o.mu.Lock()
	var supersededID idx.ID
	if prev := o.attempt; prev != nil {
		prev.invalidate()
		supersededID = prev.ID
	}
	o.generation++
	gen := o.generation

	// The attempt outlives the StartLogin call but not the orchestrator's
	// say-so: its context is cancelled on supersession or explicit cancel.
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	attemptCtx = slogx.WithAttempt(attemptCtx, attemptID)

	attempt := &Attempt{
		ID:     attemptID,
		o:      o,
		gen:    gen,
		ctx:    attemptCtx,
		cancel: cancel,
	}
	o.attempt = attempt
	o.mu.Unlock()

	if !supersededID.IsZero() {
		o.notifier.Publish(Event{Type: EventAttemptInvalidated, AttemptID: supersededID})
	}

	outcome, err := o.auth.Login(attemptCtx, attemptID, username, password)
	if err != nil {
		return nil, err
	}

	if outcome.Tokens != nil {
		session, err := o.finalizer.FinalizePrimary(attemptCtx, attemptID, outcome.Tokens)
		if err != nil {
			return nil, err
		}
		attempt.session = session
		return attempt, nil
	}

	// Without a platform authenticator the passkey challenge is not
	// registered at all, so Resolve drops the method instead of offering a
	// ceremony that cannot run.
	challenges := []Challenge{NewTOTPChallenge(o.gw)}
	if o.platform != nil {
		challenges = append(challenges, NewPasskeyChallenge(o.gw, o.platform))
	}

	attempt.pending = outcome.Pending
	attempt.selector = NewMethodSelector(o.guard, challenges...)
	return attempt, nil
}

// invalidate tears the attempt down: context cancelled, pending dropped.
// Caller holds the orchestrator lock.
func (a *Attempt) invalidate() {
	a.cancel()
	a.pending = nil
	if a.selector != nil {
		_ = a.selector.Cancel()
	}
}

// live reports whether this attempt is still the orchestrator's current one.
func (a *Attempt) live() bool {
	a.o.mu.Lock()
	defer a.o.mu.Unlock()
	return a.gen == a.o.generation
}

// Completed reports whether the attempt already holds a confirmed session.
func (a *Attempt) Completed() bool { return a.session != nil }

// Session returns the confirmed session, if any.
func (a *Attempt) Session() *domain.ConfirmedSession { return a.session }

// Pending returns the pending step-up, if any.
func (a *Attempt) Pending() *domain.PendingStepUp { return a.pending }

// State returns the selector state, or Idle before step-up starts.
func (a *Attempt) State() SelectorState {
	if a.selector == nil {
		return StateIdle
	}
	return a.selector.State()
}

// ChosenMethod returns the method currently being challenged, if any.
func (a *Attempt) ChosenMethod() domain.FactorMethod {
	if a.selector == nil {
		return ""
	}
	return a.selector.ChosenMethod()
}

// Methods lists the currently offerable verification methods.
func (a *Attempt) Methods() []domain.FactorMethod {
	if a.selector == nil {
		return nil
	}
	return a.selector.Available()
}

// Resolve decides which methods are offerable, using a fresh status read.
func (a *Attempt) Resolve(ctx context.Context) error {
	if a.selector == nil || a.pending == nil {
		return fmt.Errorf("%w: resolve without a pending step-up", ErrProtocolViolation)
	}
	if !a.live() {
		return fmt.Errorf("%w: attempt superseded", ErrProtocolViolation)
	}
	return a.selector.Resolve(slogx.WithAttempt(ctx, a.ID), a.pending)
}

// Choose selects a verification method when more than one is offerable.
func (a *Attempt) Choose(method domain.FactorMethod) error {
	if a.selector == nil {
		return fmt.Errorf("%w: choose without a pending step-up", ErrProtocolViolation)
	}
	return a.selector.Choose(method)
}

// Submit runs one verification attempt and, on success, finalizes the
// session. The generation is re-checked under the orchestrator lock before
// promotion: a result that raced with a newer attempt is discarded.
func (a *Attempt) Submit(ctx context.Context, input string) (domain.VerificationResult, error) {
	if a.selector == nil || a.pending == nil {
		return domain.VerificationResult{}, fmt.Errorf("%w: submit without a pending step-up", ErrProtocolViolation)
	}

	result, err := a.selector.Submit(slogx.WithAttempt(ctx, a.ID), input)
	if err != nil {
		return result.VerificationResult, err
	}
	if !result.Succeeded() {
		return result.VerificationResult, nil
	}

	a.o.mu.Lock()
	stale := a.gen != a.o.generation
	a.o.mu.Unlock()
	if stale {
		return domain.VerificationResult{}, fmt.Errorf("%w: verification result from a superseded attempt", ErrProtocolViolation)
	}

	session, err := a.o.finalizer.Finalize(slogx.WithAttempt(ctx, a.ID), a.pending, result)
	if err != nil {
		return result.VerificationResult, err
	}

	a.session = session
	a.pending = nil
	return result.VerificationResult, nil
}

// Cancel abandons the attempt. The pending step-up is discarded; a fresh
// login is required to try again.
func (a *Attempt) Cancel() {
	a.o.mu.Lock()
	a.cancel()
	a.pending = nil
	if a.selector != nil && a.selector.State() != StateSucceeded {
		_ = a.selector.Cancel()
	}
	if a.gen == a.o.generation {
		a.o.attempt = nil
	}
	a.o.mu.Unlock()

	a.o.notifier.Publish(Event{Type: EventAttemptInvalidated, AttemptID: a.ID})
}
