// Package gateway defines the network boundary of the step-up client. The
// hosted auth service owns credential checks, TOTP validation, assertion
// verification and rate limiting; this package only specifies the contract
// the orchestrator consumes.
package gateway

import (
	"context"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/meridianhq/stepup/internal/stepup/domain"
)

// TokenPayload is the raw token material returned by the service when an
// attempt completes. The session finalizer turns it into a ConfirmedSession.
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// StepUpRequired is the service's answer when primary credentials are valid
// but a second factor is enabled for the account.
type StepUpRequired struct {
	AccountID string   `json:"account_id"`
	Token     string   `json:"step_up_token"`
	Methods   []string `json:"methods"`
	ExpiresIn int      `json:"expires_in"` // seconds until the step-up token expires
}

// LoginResult carries exactly one of Tokens or StepUp.
type LoginResult struct {
	Tokens *TokenPayload
	StepUp *StepUpRequired
}

// EnrollBeginResult is the secret material for a fresh TOTP enrollment draft.
// Each call yields new material; the previous draft's secret is gone.
type EnrollBeginResult struct {
	Secret        string   `json:"secret"`
	EnrollmentURI string   `json:"enrollment_uri"`
	BackupCodes   []string `json:"backup_codes"`
}

// CredentialGateway exchanges primary credentials for tokens or a step-up
// requirement. It must not distinguish an unknown user from a wrong password.
type CredentialGateway interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
}

// StatusGateway answers "which factors are enabled right now". Every call
// must reach the service; implementations must refuse any response that
// shows signs of having been served from a cache.
type StatusGateway interface {
	FactorStatus(ctx context.Context, accountID string) (domain.StatusSnapshot, error)
}

// TOTPGateway covers enrollment lifecycle and live-code verification.
type TOTPGateway interface {
	EnrollBegin(ctx context.Context) (*EnrollBeginResult, error)
	EnrollActivate(ctx context.Context, code string) error
	EnrollAbandon(ctx context.Context) error
	RegenerateBackupCodes(ctx context.Context, code string) ([]string, error)
	RemoveTOTP(ctx context.Context, code string) error

	// Verify submits one code against a pending step-up token. One attempt
	// per call; the client never loops.
	Verify(ctx context.Context, stepUpToken, code string) (*TokenPayload, error)
}

// PasskeyGateway covers the two network-bound legs of the assertion ceremony.
type PasskeyGateway interface {
	ChallengeBegin(ctx context.Context, stepUpToken, accountID string) (*protocol.CredentialAssertion, error)
	ChallengeFinish(ctx context.Context, stepUpToken string, assertion *AssertionResponse) (*TokenPayload, error)
}

// AssertionResponse is the authenticator's answer to an assertion challenge,
// in the wire shape the service verifies.
type AssertionResponse struct {
	CredentialID      string `json:"credential_id"`      // base64url credential ID
	ClientDataJSON    string `json:"client_data_json"`   // base64url client data
	AuthenticatorData string `json:"authenticator_data"` // base64url authenticator data
	Signature         string `json:"signature"`          // base64url signature
	UserHandle        string `json:"user_handle,omitempty"`
}

// Gateway aggregates the full boundary for wiring convenience. Components
// accept the narrow interfaces.
type Gateway interface {
	CredentialGateway
	StatusGateway
	TOTPGateway
	PasskeyGateway
}
