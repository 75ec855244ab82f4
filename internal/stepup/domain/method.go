package domain

import (
	"errors"
	"fmt"
)

// FactorMethod identifies a second-factor verification method.
type FactorMethod string

const (
	// MethodTOTP is a time-based one-time password typed by the user.
	MethodTOTP FactorMethod = "totp"
	// MethodPasskey is a WebAuthn assertion ceremony.
	MethodPasskey FactorMethod = "passkey"
)

// ErrUnknownMethod reports a factor method this client does not implement.
var ErrUnknownMethod = errors.New("unknown factor method")

// ParseMethod parses the wire name of a factor method.
func ParseMethod(s string) (FactorMethod, error) {
	switch FactorMethod(s) {
	case MethodTOTP:
		return MethodTOTP, nil
	case MethodPasskey:
		return MethodPasskey, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

func (m FactorMethod) String() string { return string(m) }

// ParseMethods parses a list of wire method names, silently dropping methods
// this client does not implement. The server may advertise methods (e.g.
// recovery flows) that are not part of the interactive step-up surface.
func ParseMethods(names []string) []FactorMethod {
	var out []FactorMethod
	for _, n := range names {
		m, err := ParseMethod(n)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
