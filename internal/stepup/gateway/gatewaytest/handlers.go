package gatewaytest

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"

	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/pkg/cryptox"
	"github.com/meridianhq/stepup/pkg/httpx"
)

const relyingPartyID = "stepup.test"

type ctxKey struct{}

func writeErr(w http.ResponseWriter, status int, code, desc string) {
	httpx.WriteJSON(w, status, map[string]string{
		"error":             code,
		"error_description": desc,
	})
}

// mintTokens issues an HS256 access token for the account. Tests only need
// claims the client reads: sub, exp, iat and amr.
func (s *Server) mintTokens(a *Account, amr []string) gateway.TokenPayload {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": a.ID,
		"iss": "gatewaytest",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"amr": amr,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		panic(err)
	}

	return gateway.TokenPayload{
		AccessToken:  signed,
		RefreshToken: cryptox.MustGenerateToken(cryptox.TokenSize256),
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		Scope:        "profile:read profile:write",
	}
}

// authed verifies the bearer token and attaches the account to the context.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeErr(w, http.StatusUnauthorized, gateway.CodeInvalidToken, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return s.signingKey, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			writeErr(w, http.StatusUnauthorized, gateway.CodeInvalidToken, "invalid bearer token")
			return
		}

		sub, _ := claims["sub"].(string)
		s.mu.Lock()
		account := s.accounts[sub]
		s.mu.Unlock()
		if account == nil {
			writeErr(w, http.StatusUnauthorized, gateway.CodeInvalidToken, "unknown subject")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, account)))
	}
}

func accountFrom(r *http.Request) *Account {
	a, _ := r.Context().Value(ctxKey{}).(*Account)
	return a
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	account := s.byName[req.Username]
	s.mu.Unlock()

	// Same answer for unknown user and wrong password.
	if account == nil || !cryptox.ConstantTimeEquals(account.Password, req.Password) {
		writeErr(w, http.StatusUnauthorized, gateway.CodeInvalidCredentials, "invalid username or password")
		return
	}

	s.mu.Lock()
	var methods []string
	if account.TOTPEnabled {
		methods = append(methods, "totp")
		if len(account.backupCodeFingerprints) > 0 {
			methods = append(methods, "backup_codes")
		}
	}
	if account.PasskeyEnabled {
		methods = append(methods, "passkey")
	}
	s.mu.Unlock()

	if len(methods) == 0 {
		httpx.WriteJSON(w, http.StatusOK, s.mintTokens(account, []string{"pwd"}))
		return
	}

	token := cryptox.MustGenerateToken(cryptox.TokenSize256)
	s.mu.Lock()
	s.stepUps[token] = &stepUpSession{
		accountID: account.ID,
		methods:   methods,
		expiresAt: time.Now().Add(s.StepUpTTL),
	}
	ttl := s.StepUpTTL
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusConflict, map[string]any{
		"error":             gateway.CodeStepUpRequired,
		"error_description": "a second factor is required to complete this login",
		"account_id":        account.ID,
		"step_up_token":     token,
		"methods":           methods,
		"expires_in":        int(ttl.Seconds()),
	})
}

func (s *Server) handleFactorStatus(w http.ResponseWriter, r *http.Request) {
	s.statusCalls.Add(1)

	s.mu.Lock()
	account := s.accounts[chi.URLParam(r, "accountID")]
	cacheHit := s.cacheHit
	s.mu.Unlock()

	if account == nil {
		writeErr(w, http.StatusNotFound, gateway.CodeInvalidRequest, "unknown account")
		return
	}

	if cacheHit {
		// Simulates a misconfigured intermediary answering from cache.
		w.Header().Set("Age", "42")
		w.Header().Set("X-Cache", "HIT")
	}

	s.mu.Lock()
	body := map[string]bool{
		"totp_enabled":    account.TOTPEnabled,
		"passkey_enabled": account.PasskeyEnabled,
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleEnrollBegin(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	s.mu.Lock()
	enabled := account.TOTPEnabled
	s.mu.Unlock()
	if enabled {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "TOTP already enabled")
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "gatewaytest",
		AccountName: account.Username,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, gateway.CodeServerError, "failed to generate secret")
		return
	}

	codes := make([]string, 10)
	for i := range codes {
		codes[i] = cryptox.MustGenerateToken(cryptox.TokenSize128)
	}

	s.mu.Lock()
	account.draftSecret = key.Secret()
	account.draftBackupCodes = codes
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, gateway.EnrollBeginResult{
		Secret:        key.Secret(),
		EnrollmentURI: key.URL(),
		BackupCodes:   codes,
	})
}

func (s *Server) handleEnrollActivate(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	secret := account.draftSecret
	s.mu.Unlock()
	if secret == "" {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "no enrollment in progress")
		return
	}

	if !totp.Validate(req.Code, secret) {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidCode, "invalid TOTP code")
		return
	}

	s.mu.Lock()
	account.TOTPEnabled = true
	account.TOTPSecret = secret
	account.backupCodeFingerprints = make(map[string]bool, len(account.draftBackupCodes))
	for _, c := range account.draftBackupCodes {
		account.backupCodeFingerprints[cryptox.FingerprintToken(c)] = true
	}
	account.draftSecret = ""
	account.draftBackupCodes = nil
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "TOTP enabled"})
}

func (s *Server) handleEnrollAbandon(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	s.mu.Lock()
	account.draftSecret = ""
	account.draftBackupCodes = nil
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	enabled, secret := account.TOTPEnabled, account.TOTPSecret
	s.mu.Unlock()
	if !enabled || !totp.Validate(req.Code, secret) {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidCode, "invalid TOTP code")
		return
	}

	codes := make([]string, 10)
	fingerprints := make(map[string]bool, len(codes))
	for i := range codes {
		codes[i] = cryptox.MustGenerateToken(cryptox.TokenSize128)
		fingerprints[cryptox.FingerprintToken(codes[i])] = true
	}

	s.mu.Lock()
	account.backupCodeFingerprints = fingerprints
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"codes": codes})
}

func (s *Server) handleRemoveTOTP(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	enabled, secret := account.TOTPEnabled, account.TOTPSecret
	s.mu.Unlock()
	if !enabled || !totp.Validate(req.Code, secret) {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidCode, "invalid TOTP code")
		return
	}

	s.mu.Lock()
	account.TOTPEnabled = false
	account.TOTPSecret = ""
	account.backupCodeFingerprints = make(map[string]bool)
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "TOTP removed"})
}

// lookupStepUp fetches and polices a step-up session: expiry and the
// attempt cap are enforced here for every verification endpoint.
func (s *Server) lookupStepUp(w http.ResponseWriter, token string) (*stepUpSession, *Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.stepUps[token]
	if session == nil {
		writeErr(w, http.StatusUnauthorized, gateway.CodeInvalidToken, "unknown step-up token")
		return nil, nil, false
	}
	if time.Now().After(session.expiresAt) {
		delete(s.stepUps, token)
		writeErr(w, http.StatusUnauthorized, gateway.CodeExpiredChallenge, "step-up challenge expired")
		return nil, nil, false
	}
	if session.attempts >= s.MaxAttempts {
		delete(s.stepUps, token)
		writeErr(w, http.StatusTooManyRequests, gateway.CodeTooManyAttempts, "too many failed attempts")
		return nil, nil, false
	}

	return session, s.accounts[session.accountID], true
}

func (s *Server) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StepUpToken string `json:"step_up_token"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON body")
		return
	}

	session, account, ok := s.lookupStepUp(w, req.StepUpToken)
	if !ok {
		return
	}

	if !s.limiter(account.ID).Allow() {
		writeErr(w, http.StatusTooManyRequests, gateway.CodeRateLimited, "too many requests")
		return
	}

	s.mu.Lock()
	secret := account.TOTPSecret
	fingerprint := cryptox.FingerprintToken(req.Code)
	isBackup := account.backupCodeFingerprints[fingerprint]
	s.mu.Unlock()

	switch {
	case secret != "" && totp.Validate(req.Code, secret):
		s.consumeStepUp(req.StepUpToken)
		httpx.WriteJSON(w, http.StatusOK, s.mintTokens(account, []string{"pwd", "otp"}))

	case isBackup:
		// Backup codes are single use.
		s.mu.Lock()
		delete(account.backupCodeFingerprints, fingerprint)
		s.mu.Unlock()
		s.consumeStepUp(req.StepUpToken)
		httpx.WriteJSON(w, http.StatusOK, s.mintTokens(account, []string{"pwd", "otp"}))

	default:
		s.mu.Lock()
		session.attempts++
		s.mu.Unlock()
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidCode, "invalid code")
	}
}

func (s *Server) handlePasskeyChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StepUpToken string `json:"step_up_token"`
		AccountID   string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON body")
		return
	}

	session, account, ok := s.lookupStepUp(w, req.StepUpToken)
	if !ok {
		return
	}
	if account.ID != req.AccountID || !account.PasskeyEnabled {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "passkey not available for this account")
		return
	}

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		writeErr(w, http.StatusInternalServerError, gateway.CodeServerError, "failed to generate challenge")
		return
	}

	s.mu.Lock()
	session.challenge = challenge
	credentialID := account.CredentialID
	s.mu.Unlock()

	assertion := protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:      protocol.URLEncodedBase64(challenge),
			RelyingPartyID: relyingPartyID,
			Timeout:        60000,
			AllowedCredentials: []protocol.CredentialDescriptor{{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: credentialID,
			}},
			UserVerification: protocol.VerificationPreferred,
		},
	}

	httpx.WriteJSON(w, http.StatusOK, assertion)
}

func (s *Server) handlePasskeyVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StepUpToken string                     `json:"step_up_token"`
		Assertion   *gateway.AssertionResponse `json:"assertion"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Assertion == nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "invalid JSON body")
		return
	}

	session, account, ok := s.lookupStepUp(w, req.StepUpToken)
	if !ok {
		return
	}

	if !s.limiter(account.ID).Allow() {
		writeErr(w, http.StatusTooManyRequests, gateway.CodeRateLimited, "too many requests")
		return
	}

	s.mu.Lock()
	challenge := session.challenge
	session.challenge = nil // single use
	credentialID := base64.RawURLEncoding.EncodeToString(account.CredentialID)
	s.mu.Unlock()

	if challenge == nil {
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidRequest, "no outstanding challenge")
		return
	}

	if !s.assertionValid(req.Assertion, challenge, credentialID) {
		s.mu.Lock()
		session.attempts++
		s.mu.Unlock()
		writeErr(w, http.StatusBadRequest, gateway.CodeInvalidCode, "assertion rejected")
		return
	}

	s.consumeStepUp(req.StepUpToken)
	httpx.WriteJSON(w, http.StatusOK, s.mintTokens(account, []string{"pwd", "webauthn"}))
}

// assertionValid checks the assertion against the outstanding challenge.
// Signature verification is out of scope for a test double; challenge echo
// and credential binding are what the client-visible contract needs.
func (s *Server) assertionValid(assertion *gateway.AssertionResponse, challenge []byte, credentialID string) bool {
	if assertion.CredentialID != credentialID {
		return false
	}

	raw, err := base64.RawURLEncoding.DecodeString(assertion.ClientDataJSON)
	if err != nil {
		return false
	}

	var clientData protocol.CollectedClientData
	if err := json.Unmarshal(raw, &clientData); err != nil {
		return false
	}

	return clientData.Type == protocol.AssertCeremony &&
		string(clientData.Challenge) == base64.RawURLEncoding.EncodeToString(challenge)
}

func (s *Server) consumeStepUp(token string) {
	s.mu.Lock()
	delete(s.stepUps, token)
	s.mu.Unlock()
}
