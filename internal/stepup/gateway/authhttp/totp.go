package authhttp

import (
	"context"
	"net/http"

	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

type codeRequest struct {
	Code string `json:"code"`
}

type verifyRequest struct {
	StepUpToken string `json:"step_up_token"`
	Code        string `json:"code"`
}

type backupCodesResponse struct {
	Codes []string `json:"codes"`
}

// EnrollBegin requests fresh TOTP enrollment material. Requires a bearer
// token: enrollment is a settings operation on an authenticated account.
func (c *Client) EnrollBegin(ctx context.Context) (*gateway.EnrollBeginResult, error) {
	var result gateway.EnrollBeginResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/mfa/totp/enroll", nil, &result, http.StatusOK, requestOpts{
		authed:  true,
		noStore: true,
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// EnrollActivate submits the activation code for the current draft. On
// success the service marks TOTP enabled and discards the draft server-side.
func (c *Client) EnrollActivate(ctx context.Context, code string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/mfa/totp/activate", codeRequest{Code: code}, nil, http.StatusOK, requestOpts{
		authed: true,
	})
}

// EnrollAbandon tells the service the current draft will never be activated.
func (c *Client) EnrollAbandon(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/mfa/totp/abandon", nil, nil, http.StatusNoContent, requestOpts{
		authed: true,
	})
}

// RegenerateBackupCodes replaces the account's backup codes. Requires a live
// TOTP code; the old codes stop working the moment this returns.
func (c *Client) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	var result backupCodesResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/mfa/backup-codes", codeRequest{Code: code}, &result, http.StatusOK, requestOpts{
		authed:  true,
		noStore: true,
	})
	if err != nil {
		return nil, err
	}
	return result.Codes, nil
}

// RemoveTOTP disables the TOTP factor. Requires a live TOTP code.
func (c *Client) RemoveTOTP(ctx context.Context, code string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/mfa/totp", codeRequest{Code: code}, nil, http.StatusOK, requestOpts{
		authed: true,
	})
}

// Verify submits one TOTP code against a pending step-up token. One attempt
// per call; looping on invalid_code is the user's decision, never ours.
func (c *Client) Verify(ctx context.Context, stepUpToken, code string) (*gateway.TokenPayload, error) {
	var tokens gateway.TokenPayload
	req := verifyRequest{StepUpToken: stepUpToken, Code: code}
	err := c.doJSON(ctx, http.MethodPost, "/v1/stepup/totp/verify", req, &tokens, http.StatusOK, requestOpts{})
	if err != nil {
		return nil, err
	}
	return &tokens, nil
}
