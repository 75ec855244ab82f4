package flow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/pkg/idx"
)

// fakeGateway scripts every gateway method with a function field. Unset
// methods fail the test if called, so each test states exactly the traffic
// it expects.
type fakeGateway struct {
	t *testing.T

	loginFn           func(ctx context.Context, username, password string) (*gateway.LoginResult, error)
	statusFn          func(ctx context.Context, accountID string) (domain.StatusSnapshot, error)
	enrollBeginFn     func(ctx context.Context) (*gateway.EnrollBeginResult, error)
	enrollActivateFn  func(ctx context.Context, code string) error
	enrollAbandonFn   func(ctx context.Context) error
	regenFn           func(ctx context.Context, code string) ([]string, error)
	removeFn          func(ctx context.Context, code string) error
	verifyFn          func(ctx context.Context, stepUpToken, code string) (*gateway.TokenPayload, error)
	challengeBeginFn  func(ctx context.Context, stepUpToken, accountID string) (*protocol.CredentialAssertion, error)
	challengeFinishFn func(ctx context.Context, stepUpToken string, assertion *gateway.AssertionResponse) (*gateway.TokenPayload, error)

	statusCalls atomic.Int64
	verifyCalls atomic.Int64
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{t: t}
}

func (f *fakeGateway) Login(ctx context.Context, username, password string) (*gateway.LoginResult, error) {
	if f.loginFn == nil {
		f.t.Fatal("unexpected Login call")
	}
	return f.loginFn(ctx, username, password)
}

func (f *fakeGateway) FactorStatus(ctx context.Context, accountID string) (domain.StatusSnapshot, error) {
	f.statusCalls.Add(1)
	if f.statusFn == nil {
		f.t.Fatal("unexpected FactorStatus call")
	}
	return f.statusFn(ctx, accountID)
}

func (f *fakeGateway) EnrollBegin(ctx context.Context) (*gateway.EnrollBeginResult, error) {
	if f.enrollBeginFn == nil {
		f.t.Fatal("unexpected EnrollBegin call")
	}
	return f.enrollBeginFn(ctx)
}

func (f *fakeGateway) EnrollActivate(ctx context.Context, code string) error {
	if f.enrollActivateFn == nil {
		f.t.Fatal("unexpected EnrollActivate call")
	}
	return f.enrollActivateFn(ctx, code)
}

func (f *fakeGateway) EnrollAbandon(ctx context.Context) error {
	if f.enrollAbandonFn == nil {
		f.t.Fatal("unexpected EnrollAbandon call")
	}
	return f.enrollAbandonFn(ctx)
}

func (f *fakeGateway) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	if f.regenFn == nil {
		f.t.Fatal("unexpected RegenerateBackupCodes call")
	}
	return f.regenFn(ctx, code)
}

func (f *fakeGateway) RemoveTOTP(ctx context.Context, code string) error {
	if f.removeFn == nil {
		f.t.Fatal("unexpected RemoveTOTP call")
	}
	return f.removeFn(ctx, code)
}

func (f *fakeGateway) Verify(ctx context.Context, stepUpToken, code string) (*gateway.TokenPayload, error) {
	f.verifyCalls.Add(1)
	if f.verifyFn == nil {
		f.t.Fatal("unexpected Verify call")
	}
	return f.verifyFn(ctx, stepUpToken, code)
}

func (f *fakeGateway) ChallengeBegin(ctx context.Context, stepUpToken, accountID string) (*protocol.CredentialAssertion, error) {
	if f.challengeBeginFn == nil {
		f.t.Fatal("unexpected ChallengeBegin call")
	}
	return f.challengeBeginFn(ctx, stepUpToken, accountID)
}

func (f *fakeGateway) ChallengeFinish(ctx context.Context, stepUpToken string, assertion *gateway.AssertionResponse) (*gateway.TokenPayload, error) {
	if f.challengeFinishFn == nil {
		f.t.Fatal("unexpected ChallengeFinish call")
	}
	return f.challengeFinishFn(ctx, stepUpToken, assertion)
}

// serveStatus scripts FactorStatus with a fixed answer stamped at call time.
func (f *fakeGateway) serveStatus(totp, passkey bool) {
	f.statusFn = func(ctx context.Context, accountID string) (domain.StatusSnapshot, error) {
		return domain.StatusSnapshot{
			TOTPEnabled:    totp,
			PasskeyEnabled: passkey,
			FetchedAt:      time.Now(),
		}, nil
	}
}

// fakeAuthenticator scripts the platform assertion primitive.
type fakeAuthenticator struct {
	getFn func(ctx context.Context, assertion *protocol.CredentialAssertion) (*gateway.AssertionResponse, error)
}

func (f *fakeAuthenticator) GetAssertion(ctx context.Context, assertion *protocol.CredentialAssertion) (*gateway.AssertionResponse, error) {
	return f.getFn(ctx, assertion)
}

// scriptedChallenge is a Challenge whose behavior each test supplies inline.
type scriptedChallenge struct {
	method domain.FactorMethod
	submit func(ctx context.Context, pending *domain.PendingStepUp, input string) (ChallengeResult, error)
}

func (c *scriptedChallenge) Method() domain.FactorMethod { return c.method }

func (c *scriptedChallenge) Submit(ctx context.Context, pending *domain.PendingStepUp, input string) (ChallengeResult, error) {
	return c.submit(ctx, pending, input)
}

// testPending builds a live pending step-up allowing the given methods.
func testPending(methods ...domain.FactorMethod) *domain.PendingStepUp {
	now := time.Now()
	return &domain.PendingStepUp{
		AttemptID:      idx.New(),
		AccountID:      "acct_1",
		Token:          "stepup-token-1",
		AllowedFactors: methods,
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Minute),
	}
}

// mintAccessToken signs a throwaway HS256 token carrying the claims the
// client actually reads.
func mintAccessToken(t *testing.T, subject string, amr ...string) string {
	t.Helper()

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"amr": amr,
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

// testTokens builds a TokenPayload around a freshly minted access token.
func testTokens(t *testing.T, subject string, amr ...string) *gateway.TokenPayload {
	t.Helper()
	return &gateway.TokenPayload{
		AccessToken:  mintAccessToken(t, subject, amr...),
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		Scope:        "profile:read",
	}
}

func successResult(t *testing.T, method domain.FactorMethod, subject string) ChallengeResult {
	t.Helper()
	return ChallengeResult{
		VerificationResult: domain.VerificationResult{
			Method:  method,
			Outcome: domain.OutcomeSuccess,
		},
		Tokens: testTokens(t, subject, "pwd", "otp"),
	}
}
