package accounts

import (
	"regexp"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Method identifies a second-factor verification mechanism.
type Method string

const (
	MethodTOTP     Method = "totp"
	MethodSMS      Method = "sms"
	MethodRecovery Method = "recovery"
)

// methodEndpoints is the exhaustive Method -> endpoint table. VerifyMfa
// dispatches on the resolved path, so moving to a unified verify endpoint
// is a one-table change.
var methodEndpoints = map[Method]string{
	MethodTOTP:     "/auth/mfa/login/totp",
	MethodSMS:      "/auth/mfa/login/sms",
	MethodRecovery: "/auth/mfa/login/recovery",
}

var otpCodePattern = regexp.MustCompile(`^\d{6}$`)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	_, ok := methodEndpoints[m]
	return ok
}

// Methods returns every supported method in preference order. The first
// entry doubles as the default selection when a challenge arrives.
func Methods() []Method {
	return []Method{MethodTOTP, MethodSMS, MethodRecovery}
}

// ParseMethods maps the wire representation of available methods onto the
// known set, dropping anything the client does not understand.
func ParseMethods(raw []string) []Method {
	out := make([]Method, 0, len(raw))
	seen := map[Method]struct{}{}
	for _, r := range raw {
		m := Method(strings.ToLower(strings.TrimSpace(r)))
		if !m.Valid() {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// MfaChallenge is a pending second-factor requirement captured from a
// credential response. It is consumed on success or on returning to the
// identify step.
type MfaChallenge struct {
	UserID         string
	Methods        []Method
	RedirectTarget string
}

// Has reports whether the challenge offers the given method.
func (c *MfaChallenge) Has(m Method) bool {
	if c == nil {
		return false
	}
	for _, available := range c.Methods {
		if available == m {
			return true
		}
	}
	return false
}

// DefaultMethod returns the first available method, which doubles as the
// UI preselection when a challenge arrives.
func (c *MfaChallenge) DefaultMethod() Method {
	if c == nil || len(c.Methods) == 0 {
		return ""
	}
	return c.Methods[0]
}

// MfaRequest is a dispatchable descriptor for a verification submission.
// Resolving one performs no I/O; the Service executes it.
type MfaRequest struct {
	Method Method
	Path   string
	UserID string
	Code   string
}

// ResolveMfa validates the submitted code shape for the chosen method and
// maps it to the correct verification endpoint. TOTP and SMS codes must be
// exactly six digits; recovery codes are opaque but must be non-empty.
func ResolveMfa(challenge *MfaChallenge, method Method, code string) (MfaRequest, error) {
	if challenge == nil || challenge.UserID == "" {
		return MfaRequest{}, ErrMissingContext.WithMetadata(map[string]any{
			"reason": "no pending mfa challenge",
		})
	}

	if !challenge.Has(method) {
		return MfaRequest{}, ErrInvalidTransition.WithMetadata(map[string]any{
			"method":    method,
			"available": challenge.Methods,
		})
	}

	code = strings.TrimSpace(code)
	switch method {
	case MethodTOTP, MethodSMS:
		if !otpCodePattern.MatchString(code) {
			return MfaRequest{}, ErrInvalidCode.WithMetadata(map[string]any{
				"method": method,
				"reason": "expected six digits",
			})
		}
	case MethodRecovery:
		if code == "" {
			return MfaRequest{}, ErrInvalidCode.WithMetadata(map[string]any{
				"method": method,
				"reason": "recovery code is empty",
			})
		}
	default:
		return MfaRequest{}, goerrors.New("unknown mfa method", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"method": method})
	}

	return MfaRequest{
		Method: method,
		Path:   methodEndpoints[method],
		UserID: challenge.UserID,
		Code:   code,
	}, nil
}
