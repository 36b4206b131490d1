package accounts

import "strings"

// Identity is the authenticated principal as returned by the backend. It is
// a value replaced wholesale on every successful login or fetch, never
// partially mutated.
type Identity struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// DisplayName returns the label shown after login, preferring the username.
func (i Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	if name := strings.TrimSpace(i.FirstName + " " + i.LastName); name != "" {
		return name
	}
	return i.Email
}

// LoginResult is the tagged union a credential submission resolves to:
// either a finalized identity or a pending MFA challenge, never both.
type LoginResult struct {
	Identity  *Identity
	Challenge *MfaChallenge

	// AccessToken is set when the backend operates in bearer-token mode.
	// Cookie-based deployments leave it empty.
	AccessToken string
}

// MfaRequired reports whether the result carries a pending challenge.
func (r *LoginResult) MfaRequired() bool {
	return r != nil && r.Challenge != nil
}
