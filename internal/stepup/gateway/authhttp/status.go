package authhttp

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/meridianhq/stepup/internal/stepup/domain"
)

type factorStatusResponse struct {
	TOTPEnabled    bool `json:"totp_enabled"`
	PasskeyEnabled bool `json:"passkey_enabled"`
}

// FactorStatus reads the account's enabled-factor set. The request is
// decorated no-store and the response is refused if it shows any cache-hit
// indicator; there is deliberately no field on Client where a previous
// snapshot could be remembered.
func (c *Client) FactorStatus(ctx context.Context, accountID string) (domain.StatusSnapshot, error) {
	var wire factorStatusResponse

	path := "/v1/accounts/" + url.PathEscape(accountID) + "/factors"
	err := c.doJSON(ctx, http.MethodGet, path, nil, &wire, http.StatusOK, requestOpts{
		noStore: true,
	})
	if err != nil {
		return domain.StatusSnapshot{}, err
	}

	return domain.StatusSnapshot{
		TOTPEnabled:    wire.TOTPEnabled,
		PasskeyEnabled: wire.PasskeyEnabled,
		FetchedAt:      time.Now(),
	}, nil
}
