package domain

// Outcome classifies how a single verification attempt ended.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeInvalidCode  Outcome = "invalid_code"
	OutcomeExpired      Outcome = "expired"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeNetworkError Outcome = "network_error"
)

// VerificationResult is produced by exactly one challenge per attempt and
// consumed exactly once: by the finalizer on success, or by the caller's
// error path otherwise.
type VerificationResult struct {
	Method  FactorMethod
	Outcome Outcome
}

// Succeeded reports whether this result may be promoted to a session.
func (r VerificationResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
