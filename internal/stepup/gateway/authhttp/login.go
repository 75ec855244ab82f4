package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges primary credentials for tokens, or for a step-up
// requirement when the account has a second factor enabled. The step-up
// answer arrives as 409 Conflict: the credentials were valid but the
// account's state demands another verification step.
func (c *Client) Login(ctx context.Context, username, password string) (*gateway.LoginResult, error) {
	raw, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/login"), bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var tokens gateway.TokenPayload
		if err := json.Unmarshal(body, &tokens); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &gateway.LoginResult{Tokens: &tokens}, nil

	case http.StatusConflict:
		var wire struct {
			Error string `json:"error"`
			gateway.StepUpRequired
		}
		if err := json.Unmarshal(body, &wire); err != nil || wire.Error != gateway.CodeStepUpRequired {
			return nil, parseError(resp, body)
		}
		if wire.Token == "" || len(wire.Methods) == 0 {
			return nil, parseError(resp, body)
		}
		stepUp := wire.StepUpRequired
		return &gateway.LoginResult{StepUp: &stepUp}, nil

	default:
		return nil, parseError(resp, body)
	}
}
