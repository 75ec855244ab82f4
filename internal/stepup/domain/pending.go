package domain

import (
	"slices"
	"time"

	"github.com/meridianhq/stepup/pkg/idx"
)

// PendingStepUp is the ephemeral state between a successful primary
// credential check and a successful second-factor verification. It is not an
// authenticated session; the Token it carries is only accepted by the
// verification endpoints. It is held in memory by the attempt that created
// it and must never reach durable storage or another attempt.
type PendingStepUp struct {
	AttemptID      idx.ID
	AccountID      string
	Token          string // opaque step-up token minted by the gateway
	AllowedFactors []FactorMethod
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the step-up window has closed.
func (p *PendingStepUp) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Allows reports whether the account may verify with the given method.
func (p *PendingStepUp) Allows(m FactorMethod) bool {
	return slices.Contains(p.AllowedFactors, m)
}

// Remaining returns the time left before expiry, clamped at zero.
func (p *PendingStepUp) Remaining(now time.Time) time.Duration {
	if d := p.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
