package flow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/pkg/idx"
)

// scriptStepUpLogin makes every login answer with a step-up requirement for
// the given methods.
func scriptStepUpLogin(gw *fakeGateway, methods ...string) {
	gw.loginFn = func(ctx context.Context, username, password string) (*gateway.LoginResult, error) {
		return &gateway.LoginResult{StepUp: &gateway.StepUpRequired{
			AccountID: "acct_1",
			Token:     "stepup-token-1",
			Methods:   methods,
			ExpiresIn: 60,
		}}, nil
	}
}

func TestOrchestratorPrimaryOnlyLogin(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	gw.loginFn = func(ctx context.Context, username, password string) (*gateway.LoginResult, error) {
		return &gateway.LoginResult{Tokens: testTokens(t, "acct_1", "pwd")}, nil
	}
	gw.serveStatus(false, false)

	o := NewOrchestrator(gw, nil)

	var confirmed []idx.ID
	o.Notifier().Subscribe(func(ev Event) {
		if ev.Type == EventSessionConfirmed {
			confirmed = append(confirmed, ev.AttemptID)
		}
	})

	attempt, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.True(t, attempt.Completed())
	require.Equal(t, "acct_1", attempt.Session().Subject)
	require.Nil(t, attempt.Pending())
	require.Equal(t, []idx.ID{attempt.ID}, confirmed)
}

func TestOrchestratorFullTOTPFlow(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	scriptStepUpLogin(gw, "totp")
	gw.serveStatus(true, false)
	gw.verifyFn = func(ctx context.Context, stepUpToken, code string) (*gateway.TokenPayload, error) {
		require.Equal(t, "stepup-token-1", stepUpToken)
		return testTokens(t, "acct_1", "pwd", "otp"), nil
	}

	o := NewOrchestrator(gw, nil)

	attempt, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.False(t, attempt.Completed())
	require.NotNil(t, attempt.Pending())

	require.NoError(t, attempt.Resolve(context.Background()))
	require.Equal(t, StateChallenging, attempt.State(), "single method auto-selects")

	result, err := attempt.Submit(context.Background(), "123456")
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.True(t, attempt.Completed())
	require.Equal(t, []string{"pwd", "otp"}, attempt.Session().AMR)
	require.Nil(t, attempt.Pending(), "pending state dies with promotion")
}

func TestOrchestratorNilPlatformDropsPasskey(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	scriptStepUpLogin(gw, "totp", "passkey")
	gw.serveStatus(true, true)
	gw.verifyFn = func(ctx context.Context, stepUpToken, code string) (*gateway.TokenPayload, error) {
		return testTokens(t, "acct_1", "pwd", "otp"), nil
	}

	o := NewOrchestrator(gw, nil)

	attempt, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	// Passkey is enabled and allowed, but with no platform authenticator it
	// resolves as unavailable rather than panicking mid-ceremony.
	require.NoError(t, attempt.Resolve(context.Background()))
	require.Equal(t, []domain.FactorMethod{domain.MethodTOTP}, attempt.Methods())
	require.Equal(t, StateChallenging, attempt.State())

	result, err := attempt.Submit(context.Background(), "123456")
	require.NoError(t, err)
	require.True(t, result.Succeeded())
}

func TestOrchestratorNewLoginSupersedesPrevious(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	scriptStepUpLogin(gw, "totp", "passkey")

	o := NewOrchestrator(gw, nil)

	var mu sync.Mutex
	var invalidated []idx.ID
	o.Notifier().Subscribe(func(ev Event) {
		if ev.Type == EventAttemptInvalidated {
			mu.Lock()
			invalidated = append(invalidated, ev.AttemptID)
			mu.Unlock()
		}
	})

	first, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	second, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	mu.Lock()
	require.Equal(t, []idx.ID{first.ID}, invalidated)
	mu.Unlock()

	require.Nil(t, first.Pending(), "superseded attempt loses its pending step-up")
	require.ErrorIs(t, first.Resolve(context.Background()), ErrProtocolViolation)
	require.NotNil(t, second.Pending())
}

func TestOrchestratorLateResultCannotFinalize(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	scriptStepUpLogin(gw, "totp")
	gw.serveStatus(true, false)

	verifying := make(chan struct{})
	release := make(chan struct{})
	gw.verifyFn = func(ctx context.Context, stepUpToken, code string) (*gateway.TokenPayload, error) {
		close(verifying)
		<-release
		// The service says yes, but by now a newer attempt owns the flow.
		return testTokens(t, "acct_1", "pwd", "otp"), nil
	}

	o := NewOrchestrator(gw, nil)

	first, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.NoError(t, first.Resolve(context.Background()))

	done := make(chan struct{})
	var submitErr error
	go func() {
		defer close(done)
		_, submitErr = first.Submit(context.Background(), "123456")
	}()

	<-verifying
	_, err = o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	close(release)
	<-done

	require.ErrorIs(t, submitErr, ErrProtocolViolation)
	require.False(t, first.Completed(), "a stale verification result must never become a session")
}

func TestOrchestratorCancelPublishesInvalidation(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	scriptStepUpLogin(gw, "totp")

	o := NewOrchestrator(gw, nil)

	var invalidated []idx.ID
	o.Notifier().Subscribe(func(ev Event) {
		if ev.Type == EventAttemptInvalidated {
			invalidated = append(invalidated, ev.AttemptID)
		}
	})

	attempt, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	attempt.Cancel()
	require.Equal(t, []idx.ID{attempt.ID}, invalidated)
	require.Nil(t, attempt.Pending())

	_, err = attempt.Submit(context.Background(), "123456")
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestOrchestratorResolveWithoutPendingIsViolation(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	gw.loginFn = func(ctx context.Context, username, password string) (*gateway.LoginResult, error) {
		return &gateway.LoginResult{Tokens: testTokens(t, "acct_1", "pwd")}, nil
	}
	gw.serveStatus(false, false)

	o := NewOrchestrator(gw, nil)

	attempt, err := o.StartLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.True(t, attempt.Completed())

	require.ErrorIs(t, attempt.Resolve(context.Background()), ErrProtocolViolation)
	require.ErrorIs(t, attempt.Choose(domain.MethodTOTP), ErrProtocolViolation)
}
