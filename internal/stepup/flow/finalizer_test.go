package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/pkg/idx"
)

func TestFinalizePromotesSuccess(t *testing.T) {
	t.Parallel()

	notifier := NewNotifier()
	var events []Event
	notifier.Subscribe(func(ev Event) { events = append(events, ev) })

	finalizer := NewSessionFinalizer(notifier, nil)
	pending := testPending(domain.MethodTOTP)

	session, err := finalizer.Finalize(context.Background(), pending, successResult(t, domain.MethodTOTP, "acct_1"))
	require.NoError(t, err)
	require.Equal(t, pending.AttemptID, session.AttemptID)
	require.Equal(t, "acct_1", session.Subject)
	require.Equal(t, []string{"pwd", "otp"}, session.AMR)
	require.True(t, session.Valid(time.Now()))
	require.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

	require.Len(t, events, 1)
	require.Equal(t, EventSessionConfirmed, events[0].Type)
	require.Equal(t, pending.AttemptID, events[0].AttemptID)
}

func TestFinalizeFailsClosed(t *testing.T) {
	t.Parallel()

	finalizer := NewSessionFinalizer(NewNotifier(), nil)

	t.Run("nil pending", func(t *testing.T) {
		t.Parallel()
		_, err := finalizer.Finalize(context.Background(), nil, successResult(t, domain.MethodTOTP, "acct_1"))
		require.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("non-success outcome", func(t *testing.T) {
		t.Parallel()
		result := ChallengeResult{VerificationResult: domain.VerificationResult{
			Method:  domain.MethodTOTP,
			Outcome: domain.OutcomeInvalidCode,
		}}
		_, err := finalizer.Finalize(context.Background(), testPending(domain.MethodTOTP), result)
		require.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("success without tokens", func(t *testing.T) {
		t.Parallel()
		result := ChallengeResult{VerificationResult: domain.VerificationResult{
			Method:  domain.MethodTOTP,
			Outcome: domain.OutcomeSuccess,
		}}
		_, err := finalizer.Finalize(context.Background(), testPending(domain.MethodTOTP), result)
		require.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("expired pending", func(t *testing.T) {
		t.Parallel()
		pending := testPending(domain.MethodTOTP)
		pending.ExpiresAt = time.Now().Add(-time.Second)
		_, err := finalizer.Finalize(context.Background(), pending, successResult(t, domain.MethodTOTP, "acct_1"))
		require.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()
		pending := testPending(domain.MethodPasskey)
		_, err := finalizer.Finalize(context.Background(), pending, successResult(t, domain.MethodTOTP, "acct_1"))
		require.ErrorIs(t, err, ErrProtocolViolation)
	})
}

func TestFinalizePrimary(t *testing.T) {
	t.Parallel()

	finalizer := NewSessionFinalizer(NewNotifier(), nil)
	attemptID := idx.New()

	session, err := finalizer.FinalizePrimary(context.Background(), attemptID, testTokens(t, "acct_1", "pwd"))
	require.NoError(t, err)
	require.Equal(t, attemptID, session.AttemptID)
	require.Equal(t, []string{"pwd"}, session.AMR)

	_, err = finalizer.FinalizePrimary(context.Background(), idx.New(), nil)
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestFinalizeWipesOpenEnrollmentDraft(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	enroll := NewTOTPEnrollment(gw, NewFreshnessGuard(gw))
	draft := beginTestDraft(t, gw, enroll)

	finalizer := NewSessionFinalizer(NewNotifier(), enroll)

	_, err := finalizer.Finalize(context.Background(), testPending(domain.MethodTOTP), successResult(t, domain.MethodTOTP, "acct_1"))
	require.NoError(t, err)
	require.True(t, draft.Wiped(), "promotion must destroy draft secret material")
}

func TestNotifierSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	notifier := NewNotifier()

	var got []Event
	unsubscribe := notifier.Subscribe(func(ev Event) { got = append(got, ev) })

	id := idx.New()
	notifier.Publish(Event{Type: EventAttemptInvalidated, AttemptID: id})
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].AttemptID)

	unsubscribe()
	notifier.Publish(Event{Type: EventAttemptInvalidated, AttemptID: idx.New()})
	require.Len(t, got, 1)
}
