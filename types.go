package accounts

import (
	"context"
	"fmt"
)

// Logger is the minimal logging surface every component accepts.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Service is the accounts backend contract consumed by the session store
// and the flow controllers. Client is the HTTP implementation; tests
// substitute mocks.
type Service interface {
	CurrentIdentity(ctx context.Context) (*Identity, error)
	RefreshToken(ctx context.Context) error
	Logout(ctx context.Context) error

	CheckIdentifier(ctx context.Context, identifier string) (*IdentifierCheck, error)
	LoginWithPassword(ctx context.Context, identifier, password string) (*LoginResult, error)
	LoginWithPasskey(ctx context.Context, identifier string) (*LoginResult, error)
	VerifyMfa(ctx context.Context, req MfaRequest) (*LoginResult, error)

	Register(ctx context.Context, payload RegisterPayload) (string, error)
	VerifyEmail(ctx context.Context, email, code string) (*Identity, error)
	AddPhone(ctx context.Context, phone string) error
	VerifyPhone(ctx context.Context, email, code string) (*Identity, error)
	UploadAvatar(ctx context.Context, image []byte, contentType string) error

	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

// IdentifierCheck is the existence-check response for the identify step.
type IdentifierCheck struct {
	Exists      bool `json:"exists"`
	HasPasskeys bool `json:"hasPasskeys"`
}

// Navigator is the opaque navigate(path, state) capability supplied by the
// host. Flow controllers never touch the routing mechanism directly.
type Navigator interface {
	Navigate(path string, state NavState)
}

// NavigatorFunc adapts a function into a Navigator.
type NavigatorFunc func(path string, state NavState)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(path string, state NavState) {
	if f != nil {
		f(path, state)
	}
}

// NavState is the in-memory state threaded across navigations. It is handed
// to the host Navigator directly so nothing sensitive touches a URL.
type NavState struct {
	Email          string
	RedirectTarget string
	Challenge      *MfaChallenge
}

// ImageTransform is the external crop-and-compress collaborator used by the
// avatar step. It is treated as a pure function over the raw image bytes.
type ImageTransform func(image []byte, region CropRegion) ([]byte, error)

// CropRegion selects the portion of the source image to keep.
type CropRegion struct {
	X, Y          int
	Width, Height int
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
