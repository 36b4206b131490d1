package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenExpiry decodes an access token without verifying its signature and
// returns the expiry claim. The client never validates signatures; it only
// needs to know when a bearer token will stop working so the session store
// can refresh ahead of a 401.
func TokenExpiry(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to decode access token")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "access token has no usable expiry")
	}
	if exp == nil {
		return time.Time{}, goerrors.New("access token has no expiry claim", goerrors.CategoryBadInput)
	}

	return exp.Time, nil
}

// TokenExpired reports whether the token's expiry has passed at now.
// Tokens that cannot be decoded are treated as expired.
func TokenExpired(raw string, now time.Time) bool {
	if raw == "" {
		return true
	}
	exp, err := TokenExpiry(raw)
	if err != nil {
		return true
	}
	return !exp.After(now)
}
