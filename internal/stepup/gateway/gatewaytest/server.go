// Package gatewaytest provides an in-memory auth service with the wire
// behavior the step-up client depends on: step-up sessions with attempt
// caps, live TOTP validation, backup-code redemption, assertion challenges,
// rate limiting, and mandatory no-store headers. Tests run the client
// against it over a real HTTP round trip.
package gatewaytest

import (
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/meridianhq/stepup/pkg/cryptox"
	"github.com/meridianhq/stepup/pkg/idx"
)

// Account is a test fixture account. Mutate it only through the helpers;
// the server reads it under its own lock.
type Account struct {
	ID       string
	Username string
	Password string

	TOTPEnabled    bool
	TOTPSecret     string
	PasskeyEnabled bool
	CredentialID   []byte

	backupCodeFingerprints map[string]bool // fingerprint -> unused

	// draft enrollment state, mirrors the client's draft lifecycle
	draftSecret      string
	draftBackupCodes []string
}

type stepUpSession struct {
	accountID string
	methods   []string
	attempts  int
	challenge []byte // outstanding passkey challenge, single use
	expiresAt time.Time
}

// Server is the fake auth service. Zero value is not usable; construct with
// NewServer and stop with Close.
type Server struct {
	HTTP *httptest.Server

	// StepUpTTL is the lifetime of step-up tokens minted at login.
	StepUpTTL time.Duration
	// MaxAttempts caps failed verifications per step-up session.
	MaxAttempts int

	signingKey []byte

	mu        sync.Mutex
	accounts  map[string]*Account // by ID
	byName    map[string]*Account // by username
	stepUps   map[string]*stepUpSession
	limiters  map[string]*rate.Limiter // verify limiter per account
	verifyRPS rate.Limit
	cacheHit  bool

	statusCalls atomic.Int64
}

// NewServer starts the fake service on a loopback listener.
func NewServer() *Server {
	s := &Server{
		StepUpTTL:   time.Minute,
		MaxAttempts: 5,
		signingKey:  []byte(cryptox.MustGenerateToken(cryptox.TokenSize256)),
		accounts:    make(map[string]*Account),
		byName:      make(map[string]*Account),
		stepUps:     make(map[string]*stepUpSession),
		limiters:    make(map[string]*rate.Limiter),
		verifyRPS:   rate.Inf,
	}

	r := chi.NewRouter()
	r.Post("/v1/login", s.handleLogin)
	r.Get("/v1/accounts/{accountID}/factors", s.handleFactorStatus)
	r.Post("/v1/mfa/totp/enroll", s.authed(s.handleEnrollBegin))
	r.Post("/v1/mfa/totp/activate", s.authed(s.handleEnrollActivate))
	r.Post("/v1/mfa/totp/abandon", s.authed(s.handleEnrollAbandon))
	r.Post("/v1/mfa/backup-codes", s.authed(s.handleRegenerateBackupCodes))
	r.Delete("/v1/mfa/totp", s.authed(s.handleRemoveTOTP))
	r.Post("/v1/stepup/totp/verify", s.handleTOTPVerify)
	r.Post("/v1/stepup/passkey/challenge", s.handlePasskeyChallenge)
	r.Post("/v1/stepup/passkey/verify", s.handlePasskeyVerify)

	s.HTTP = httptest.NewServer(r)
	return s
}

// URL returns the service base URL.
func (s *Server) URL() string { return s.HTTP.URL }

// Close stops the listener.
func (s *Server) Close() { s.HTTP.Close() }

// AddAccount registers an account with no factors enabled.
func (s *Server) AddAccount(username, password string) *Account {
	a := &Account{
		ID:                     idx.New().String(),
		Username:               username,
		Password:               password,
		backupCodeFingerprints: make(map[string]bool),
	}

	s.mu.Lock()
	s.accounts[a.ID] = a
	s.byName[username] = a
	s.mu.Unlock()
	return a
}

// EnableTOTP activates the TOTP factor with the given base32 secret.
func (s *Server) EnableTOTP(a *Account, secret string) {
	s.mu.Lock()
	a.TOTPEnabled = true
	a.TOTPSecret = secret
	s.mu.Unlock()
}

// EnablePasskey registers a credential and activates the passkey factor.
func (s *Server) EnablePasskey(a *Account, credentialID []byte) {
	s.mu.Lock()
	a.PasskeyEnabled = true
	a.CredentialID = credentialID
	s.mu.Unlock()
}

// DisableTOTP revokes the TOTP factor, as an administrator or another
// device of the same user would.
func (s *Server) DisableTOTP(a *Account) {
	s.mu.Lock()
	a.TOTPEnabled = false
	a.TOTPSecret = ""
	a.backupCodeFingerprints = make(map[string]bool)
	s.mu.Unlock()
}

// DisablePasskey revokes the passkey factor.
func (s *Server) DisablePasskey(a *Account) {
	s.mu.Lock()
	a.PasskeyEnabled = false
	a.CredentialID = nil
	s.mu.Unlock()
}

// SetBackupCodes installs single-use backup codes for the account.
func (s *Server) SetBackupCodes(a *Account, codes ...string) {
	s.mu.Lock()
	a.backupCodeFingerprints = make(map[string]bool, len(codes))
	for _, c := range codes {
		a.backupCodeFingerprints[cryptox.FingerprintToken(c)] = true
	}
	s.mu.Unlock()
}

// SetServeCacheHit makes factor-status responses carry cache-hit headers.
// The client must refuse them.
func (s *Server) SetServeCacheHit(hit bool) {
	s.mu.Lock()
	s.cacheHit = hit
	s.mu.Unlock()
}

// SetVerifyRateLimit throttles verification calls per account.
func (s *Server) SetVerifyRateLimit(rps rate.Limit) {
	s.mu.Lock()
	s.verifyRPS = rps
	s.limiters = make(map[string]*rate.Limiter)
	s.mu.Unlock()
}

// StatusCalls reports how many factor-status requests reached the service.
// The freshness tests assert this climbs once per read.
func (s *Server) StatusCalls() int64 { return s.statusCalls.Load() }

// LiveStepUps reports how many step-up sessions are outstanding.
func (s *Server) LiveStepUps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stepUps)
}

func (s *Server) limiter(accountID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[accountID]
	if !ok {
		l = rate.NewLimiter(s.verifyRPS, 1)
		s.limiters[accountID] = l
	}
	return l
}
