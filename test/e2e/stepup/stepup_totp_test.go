package stepup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/flow"
)

// TestTOTPVerification walks the full code flow: wrong code first, then the
// live code, over a real HTTP round trip.
func TestTOTPVerification(t *testing.T) {
	srv, _, orchestrator := setupService(t, nil)
	account := srv.AddAccount("alice", "hunter2")

	secret := newTOTPSecret(t)
	srv.EnableTOTP(account, secret)

	attempt, err := orchestrator.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	resolveToChallenge(t, attempt)

	result, err := attempt.Submit(context.Background(), "000000")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeInvalidCode, result.Outcome)
	require.False(t, attempt.Completed())

	result, err = attempt.Submit(context.Background(), liveCode(t, secret))
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Equal(t, account.ID, attempt.Session().Subject)
	require.Equal(t, []string{"pwd", "otp"}, attempt.Session().AMR)
}

// TestBackupCodeIsSingleUse verifies a backup code completes the step-up
// once and is dead afterwards.
func TestBackupCodeIsSingleUse(t *testing.T) {
	srv, _, orchestrator := setupService(t, nil)
	account := srv.AddAccount("alice", "hunter2")
	srv.EnableTOTP(account, newTOTPSecret(t))
	srv.SetBackupCodes(account, "882299")

	attempt, err := orchestrator.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	resolveToChallenge(t, attempt)

	result, err := attempt.Submit(context.Background(), "882299")
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	// Same code on a fresh attempt: refused.
	attempt, err = orchestrator.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	resolveToChallenge(t, attempt)

	result, err = attempt.Submit(context.Background(), "882299")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeInvalidCode, result.Outcome)
}

// TestMalformedCodeNeverLeavesTheClient: shape-invalid input is rejected
// locally and burns no server-side attempt.
func TestMalformedCodeNeverLeavesTheClient(t *testing.T) {
	srv, _, orchestrator := setupService(t, nil)
	account := srv.AddAccount("alice", "hunter2")
	secret := newTOTPSecret(t)
	srv.EnableTOTP(account, secret)

	attempt, err := orchestrator.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	resolveToChallenge(t, attempt)

	for _, input := range []string{"", "12345", "12345678", "abc123"} {
		_, err := attempt.Submit(context.Background(), input)
		require.ErrorIs(t, err, flow.ErrMalformedCode)
	}

	// The flow is still live and the full attempt budget remains.
	result, err := attempt.Submit(context.Background(), liveCode(t, secret))
	require.NoError(t, err)
	require.True(t, result.Succeeded())
}

// TestAttemptBudgetExhaustion: the service caps failed verifications per
// step-up session; the cap surfaces as a rate-limit error, not an outcome.
func TestAttemptBudgetExhaustion(t *testing.T) {
	srv, _, orchestrator := setupService(t, nil)
	srv.MaxAttempts = 2

	account := srv.AddAccount("alice", "hunter2")
	srv.EnableTOTP(account, newTOTPSecret(t))

	attempt, err := orchestrator.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	resolveToChallenge(t, attempt)

	for i := 0; i < 2; i++ {
		result, err := attempt.Submit(context.Background(), "000000")
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeInvalidCode, result.Outcome)
	}

	_, err = attempt.Submit(context.Background(), "000000")
	require.ErrorIs(t, err, flow.ErrRateLimited)
}

// TestExpiredStepUpWindow: once the window closes, verification reports an
// expired outcome and only a fresh login can continue.
func TestExpiredStepUpWindow(t *testing.T) {
	srv, _, orchestrator := setupService(t, nil)
	srv.StepUpTTL = 50 * time.Millisecond

	account := srv.AddAccount("alice", "hunter2")
	secret := newTOTPSecret(t)
	srv.EnableTOTP(account, secret)

	attempt, err := orchestrator.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	resolveToChallenge(t, attempt)

	time.Sleep(100 * time.Millisecond)

	result, err := attempt.Submit(context.Background(), liveCode(t, secret))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeExpired, result.Outcome)
	require.False(t, attempt.Completed())
}
