package domain

import "time"

// StatusSnapshot is the result of one live factor-status read. FetchedAt is
// stamped when the response left the wire; a snapshot taken before the most
// recent known enrollment or revocation must not drive any decision.
type StatusSnapshot struct {
	TOTPEnabled    bool
	PasskeyEnabled bool
	FetchedAt      time.Time
}

// EnabledMethods lists the factor methods the snapshot reports as active.
func (s StatusSnapshot) EnabledMethods() []FactorMethod {
	var out []FactorMethod
	if s.TOTPEnabled {
		out = append(out, MethodTOTP)
	}
	if s.PasskeyEnabled {
		out = append(out, MethodPasskey)
	}
	return out
}

// Enabled reports whether the given method is active in this snapshot.
func (s StatusSnapshot) Enabled(m FactorMethod) bool {
	switch m {
	case MethodTOTP:
		return s.TOTPEnabled
	case MethodPasskey:
		return s.PasskeyEnabled
	default:
		return false
	}
}
