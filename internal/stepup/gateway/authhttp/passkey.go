package authhttp

import (
	"context"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

type challengeBeginRequest struct {
	StepUpToken string `json:"step_up_token"`
	AccountID   string `json:"account_id"`
}

type challengeFinishRequest struct {
	StepUpToken string                     `json:"step_up_token"`
	Assertion   *gateway.AssertionResponse `json:"assertion"`
}

// ChallengeBegin requests an assertion challenge scoped to the account and
// this step-up token. The challenge is single-use server-side.
func (c *Client) ChallengeBegin(ctx context.Context, stepUpToken, accountID string) (*protocol.CredentialAssertion, error) {
	var assertion protocol.CredentialAssertion
	req := challengeBeginRequest{StepUpToken: stepUpToken, AccountID: accountID}
	err := c.doJSON(ctx, http.MethodPost, "/v1/stepup/passkey/challenge", req, &assertion, http.StatusOK, requestOpts{
		noStore: true,
	})
	if err != nil {
		return nil, err
	}
	return &assertion, nil
}

// ChallengeFinish submits the authenticator's assertion for verification.
func (c *Client) ChallengeFinish(ctx context.Context, stepUpToken string, assertion *gateway.AssertionResponse) (*gateway.TokenPayload, error) {
	var tokens gateway.TokenPayload
	req := challengeFinishRequest{StepUpToken: stepUpToken, Assertion: assertion}
	err := c.doJSON(ctx, http.MethodPost, "/v1/stepup/passkey/verify", req, &tokens, http.StatusOK, requestOpts{})
	if err != nil {
		return nil, err
	}
	return &tokens, nil
}
