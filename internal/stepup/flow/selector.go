package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/pkg/slogx"
)

// SelectorState is the method selector's position in the step-up protocol.
type SelectorState int

const (
	StateIdle SelectorState = iota
	StateResolving
	StateChoicePresented
	StateChallenging
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s SelectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateChoicePresented:
		return "choice_presented"
	case StateChallenging:
		return "challenging"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MethodSelector owns the choice and execution of a second-factor method for
// one pending step-up. It is the only place methods are dispatched, so the
// "switch methods only from choice or failure, abort what you abandon" rule
// is enforced in exactly one spot.
type MethodSelector struct {
	guard      *FreshnessGuard
	challenges map[domain.FactorMethod]Challenge

	mu        sync.Mutex
	state     SelectorState
	pending   *domain.PendingStepUp
	available []domain.FactorMethod
	method    domain.FactorMethod
	inflight  context.CancelFunc
}

// NewMethodSelector builds a selector over the given challenge handlers.
func NewMethodSelector(guard *FreshnessGuard, challenges ...Challenge) *MethodSelector {
	byMethod := make(map[domain.FactorMethod]Challenge, len(challenges))
	for _, c := range challenges {
		byMethod[c.Method()] = c
	}
	return &MethodSelector{
		guard:      guard,
		challenges: byMethod,
		state:      StateIdle,
	}
}

// State returns the current protocol state.
func (s *MethodSelector) State() SelectorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Available lists the methods the user may currently choose from.
func (s *MethodSelector) Available() []domain.FactorMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.available)
}

// ChosenMethod returns the method currently being challenged.
func (s *MethodSelector) ChosenMethod() domain.FactorMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.method
}

// Resolve consumes the pending step-up and a fresh status snapshot to decide
// which methods are really offerable. A factor revoked between login and
// challenge drops out here; exactly one survivor skips the choice entirely.
// No challenge network call happens before Resolve returns.
//
// Legal from Idle, and again from Failed as long as no verification attempt
// was ever dispatched: a status read lost to a network blip should cost a
// retry, not the user's primary credentials.
func (s *MethodSelector) Resolve(ctx context.Context, pending *domain.PendingStepUp) error {
	s.mu.Lock()
	retryable := s.state == StateFailed && s.method == ""
	if s.state != StateIdle && !retryable {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: resolve from state %s", ErrProtocolViolation, state)
	}
	s.state = StateResolving
	s.pending = pending
	s.mu.Unlock()

	snap, err := s.guard.Snapshot(ctx, pending.AccountID)
	if err != nil {
		s.transition(StateFailed)
		return err
	}

	var available []domain.FactorMethod
	for _, m := range pending.AllowedFactors {
		if !snap.Enabled(m) {
			continue
		}
		if _, ok := s.challenges[m]; !ok {
			continue
		}
		available = append(available, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.available = available
	switch len(available) {
	case 0:
		s.state = StateFailed
		return ErrNoMethodsAvailable
	case 1:
		// The single-method auto branch: still a real transition, but the
		// user never sees a choice because exactly one method exists.
		s.method = available[0]
		s.state = StateChallenging
	default:
		s.state = StateChoicePresented
	}

	slogx.FromContext(ctx).Info("step-up methods resolved",
		"available", available,
		"state", s.state.String(),
	)
	return nil
}

// Choose selects a method. Legal only from ChoicePresented, or from Failed
// to switch methods after a failed attempt; any in-flight ceremony for the
// abandoned method is aborted first.
func (s *MethodSelector) Choose(method domain.FactorMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateChoicePresented && s.state != StateFailed {
		return fmt.Errorf("%w: choose from state %s", ErrProtocolViolation, s.state)
	}
	if !slices.Contains(s.available, method) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownMethod, method)
	}

	s.abortInflightLocked()
	s.method = method
	s.state = StateChallenging
	return nil
}

// Submit runs one verification attempt with the chosen method. A failed
// attempt lands in Failed; submitting again from Failed re-enters
// Challenging with the same method. Locally rejected input (ErrMalformedCode)
// is not an attempt and leaves the state untouched.
func (s *MethodSelector) Submit(ctx context.Context, input string) (ChallengeResult, error) {
	s.mu.Lock()
	if s.state != StateChallenging && s.state != StateFailed {
		state := s.state
		s.mu.Unlock()
		return ChallengeResult{}, fmt.Errorf("%w: submit from state %s", ErrProtocolViolation, state)
	}
	if s.method == "" {
		s.mu.Unlock()
		return ChallengeResult{}, fmt.Errorf("%w: submit with no method chosen", ErrProtocolViolation)
	}

	challenge := s.challenges[s.method]
	pending := s.pending
	s.state = StateChallenging

	ctx, cancel := context.WithCancel(ctx)
	s.inflight = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.inflight != nil {
			s.inflight()
			s.inflight = nil
		}
		s.mu.Unlock()
	}()

	result, err := challenge.Submit(ctx, pending, input)
	if err != nil {
		if errors.Is(err, ErrMalformedCode) {
			// Not an attempt; the user just mistyped. Stay in Challenging.
			return result, err
		}
		if errors.Is(err, ErrPlatformUnavailable) {
			s.dropMethod(s.Method())
			return result, err
		}
		s.transition(StateFailed)
		return result, err
	}

	if result.Succeeded() {
		s.transition(StateSucceeded)
	} else {
		s.transition(StateFailed)
	}
	return result, nil
}

// Method returns the chosen method without locking gymnastics for callers
// inside this package.
func (s *MethodSelector) Method() domain.FactorMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.method
}

// Cancel abandons the step-up entirely: the in-flight ceremony is aborted
// and the pending reference dropped. A fresh login is required afterwards.
// Cancelling a succeeded flow is a protocol violation.
func (s *MethodSelector) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSucceeded {
		return fmt.Errorf("%w: cancel after success", ErrProtocolViolation)
	}

	s.abortInflightLocked()
	s.pending = nil
	s.state = StateCancelled
	return nil
}

// dropMethod removes a method that turned out to be unusable (no platform
// support) and falls back to the remaining choices, or Failed if none.
func (s *MethodSelector) dropMethod(method domain.FactorMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.available = slices.DeleteFunc(slices.Clone(s.available), func(m domain.FactorMethod) bool {
		return m == method
	})
	s.method = ""

	if len(s.available) == 0 {
		s.state = StateFailed
		return
	}
	s.state = StateChoicePresented
}

func (s *MethodSelector) transition(to SelectorState) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

func (s *MethodSelector) abortInflightLocked() {
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
}
