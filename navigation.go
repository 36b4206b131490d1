package accounts

import (
	"net/url"
	"strings"
)

// DefaultRedirectTarget is the canonical account hub every flow falls back
// to when the entry point carried no explicit redirect.
const DefaultRedirectTarget = "https://accounts.kerliix.com"

// Route paths mirror the account client's screens. Flow controllers hand
// these to the host Navigator; the routing mechanism itself is opaque.
const (
	RouteLogin       = "/login"
	RouteRegister    = "/register"
	RouteVerifyEmail = "/verify-email"
	RouteAddPhone    = "/add-phone"
	RouteVerifyPhone = "/verify-phone"
	RouteAvatar      = "/profile-picture"
	RouteWelcome     = "/welcome"
)

// ResolveRedirect reads the redirect target from flow-entry query values.
// It is read once at entry and carried unchanged through every subsequent
// transition.
func ResolveRedirect(query url.Values) string {
	if query == nil {
		return DefaultRedirectTarget
	}
	if target := strings.TrimSpace(query.Get("redirect")); target != "" {
		return target
	}
	return DefaultRedirectTarget
}
