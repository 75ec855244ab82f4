package flow

import (
	"context"

	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/gateway"
)

// ChallengeResult is a VerificationResult plus the token material the
// service returned on success. The tokens only ever reach the finalizer.
type ChallengeResult struct {
	domain.VerificationResult
	Tokens *gateway.TokenPayload
}

// Challenge drives one second-factor verification method. Each Submit is one
// attempt; per-attempt outcomes come back in the result, while conditions
// that make the attempt itself impossible (malformed input, rate limiting,
// missing platform support) come back as errors.
type Challenge interface {
	Method() domain.FactorMethod
	Submit(ctx context.Context, pending *domain.PendingStepUp, input string) (ChallengeResult, error)
}

// ValidCodeShape reports whether s is exactly six ASCII digits. Anything
// else is rejected locally, before a network call.
func ValidCodeShape(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
