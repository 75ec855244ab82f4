package stepup_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/stepup/internal/stepup/flow"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/internal/stepup/gateway/authhttp"
	"github.com/meridianhq/stepup/internal/stepup/gateway/gatewaytest"
)

// setupService starts the in-memory auth service and a client orchestrator
// wired to it over real HTTP.
func setupService(t *testing.T, platform flow.Authenticator) (*gatewaytest.Server, *authhttp.Client, *flow.Orchestrator) {
	t.Helper()

	srv := gatewaytest.NewServer()
	t.Cleanup(srv.Close)

	client := authhttp.New(srv.URL())
	return srv, client, flow.NewOrchestrator(client, platform)
}

// newTOTPSecret mints a base32 secret the test can generate codes for.
func newTOTPSecret(t *testing.T) string {
	t.Helper()

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "stepup.test",
		AccountName: "e2e",
	})
	require.NoError(t, err)
	return key.Secret()
}

// liveCode computes the current TOTP code for a secret.
func liveCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// softwareKey is a platform authenticator holding one resident credential.
// It answers any challenge for that credential without user interaction.
type softwareKey struct {
	credentialID []byte
}

func (k *softwareKey) GetAssertion(ctx context.Context, assertion *protocol.CredentialAssertion) (*gateway.AssertionResponse, error) {
	clientData, err := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": base64.RawURLEncoding.EncodeToString(assertion.Response.Challenge),
		"origin":    "https://stepup.test",
	})
	if err != nil {
		return nil, err
	}

	return &gateway.AssertionResponse{
		CredentialID:      base64.RawURLEncoding.EncodeToString(k.credentialID),
		ClientDataJSON:    base64.RawURLEncoding.EncodeToString(clientData),
		AuthenticatorData: base64.RawURLEncoding.EncodeToString([]byte("e2e-authenticator-data")),
		Signature:         base64.RawURLEncoding.EncodeToString([]byte("e2e-signature")),
	}, nil
}

// resolveToChallenge runs Resolve and asserts the flow landed directly in
// the challenging state (single available method).
func resolveToChallenge(t *testing.T, attempt *flow.Attempt) {
	t.Helper()

	require.NoError(t, attempt.Resolve(context.Background()))
	require.Equal(t, flow.StateChallenging, attempt.State())
}
