package domain

import (
	"time"

	"github.com/meridianhq/stepup/pkg/idx"
)

// ConfirmedSession is an authenticated session. Only the session finalizer
// constructs one; no other component may promote pending state.
type ConfirmedSession struct {
	AttemptID    idx.ID
	Subject      string // account identifier from the token claims
	AccessToken  string
	RefreshToken string
	Scope        string
	AMR          []string // authentication method references, e.g. ["pwd","otp"]
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Valid reports whether the session's access token is still live.
func (s *ConfirmedSession) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
