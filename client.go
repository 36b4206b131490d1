package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	pathCurrentIdentity = "/auth/me"
	pathRefreshToken    = "/auth/refresh"
	pathLogout          = "/auth/logout"
	pathCheckIdentifier = "/auth/check-user-exists"
	pathLoginPassword   = "/auth/login/password"
	pathLoginPasskey    = "/auth/login/passkey"
	pathRegister        = "/auth/register"
	pathVerifyEmail     = "/auth/verify-email"
	pathAddPhone        = "/auth/add-phone"
	pathVerifyPhone     = "/auth/verify-phone"
	pathUploadAvatar    = "/auth/profile-picture"
	pathForgotPassword  = "/auth/forgot-password"
	pathResetPassword   = "/auth/reset-password"
)

// Config holds client options. BaseURL is required; everything else has a
// sensible default.
type Config struct {
	BaseURL string

	// HTTPClient overrides the default client, e.g. to install a cookie
	// jar or a recording transport in tests.
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is not provided.
	Timeout time.Duration

	Logger Logger
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  Logger
}

var _ Service = (*Client)(nil)

// NewClient creates a client for the accounts backend.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = defLogger{}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    httpClient,
		logger:  logger,
	}
}

// CurrentIdentity implements Service.
func (c *Client) CurrentIdentity(ctx context.Context) (*Identity, error) {
	identity := &Identity{}
	if err := c.do(ctx, http.MethodGet, pathCurrentIdentity, nil, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// RefreshToken implements Service.
func (c *Client) RefreshToken(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, pathRefreshToken, nil, nil)
}

// Logout implements Service.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, pathLogout, nil, nil)
}

// CheckIdentifier implements Service.
func (c *Client) CheckIdentifier(ctx context.Context, identifier string) (*IdentifierCheck, error) {
	check := &IdentifierCheck{}
	body := map[string]string{"identifier": identifier}
	if err := c.do(ctx, http.MethodPost, pathCheckIdentifier, body, check); err != nil {
		return nil, err
	}
	return check, nil
}

// LoginWithPassword implements Service.
func (c *Client) LoginWithPassword(ctx context.Context, identifier, password string) (*LoginResult, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	return c.login(ctx, pathLoginPassword, body)
}

// LoginWithPasskey implements Service.
func (c *Client) LoginWithPasskey(ctx context.Context, identifier string) (*LoginResult, error) {
	body := map[string]string{"identifier": identifier}
	return c.login(ctx, pathLoginPasskey, body)
}

// VerifyMfa implements Service. The endpoint comes from the resolved
// request descriptor, never from the caller.
func (c *Client) VerifyMfa(ctx context.Context, req MfaRequest) (*LoginResult, error) {
	body := map[string]string{"userId": req.UserID, "code": req.Code}
	return c.login(ctx, req.Path, body)
}

// Register implements Service. The returned string is the backend's
// human-readable confirmation message.
func (c *Client) Register(ctx context.Context, payload RegisterPayload) (string, error) {
	out := struct {
		Message string `json:"message"`
	}{}
	if err := c.do(ctx, http.MethodPost, pathRegister, payload, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// VerifyEmail implements Service.
func (c *Client) VerifyEmail(ctx context.Context, email, code string) (*Identity, error) {
	return c.verify(ctx, pathVerifyEmail, email, code)
}

// VerifyPhone implements Service.
func (c *Client) VerifyPhone(ctx context.Context, email, code string) (*Identity, error) {
	return c.verify(ctx, pathVerifyPhone, email, code)
}

// AddPhone implements Service.
func (c *Client) AddPhone(ctx context.Context, phone string) error {
	body := map[string]string{"phone": phone}
	return c.do(ctx, http.MethodPost, pathAddPhone, body, nil)
}

// UploadAvatar implements Service.
func (c *Client) UploadAvatar(ctx context.Context, image []byte, contentType string) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("avatar", "avatar")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build avatar upload")
	}
	if _, err := part.Write(image); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build avatar upload")
	}
	if err := form.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build avatar upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathUploadAvatar, &buf)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build avatar upload")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(pathUploadAvatar, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(pathUploadAvatar, resp)
	}
	return nil
}

// RequestPasswordReset implements Service.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, pathForgotPassword, body, nil)
}

// ResetPassword implements Service.
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	body := map[string]string{"token": token, "password": password}
	return c.do(ctx, http.MethodPost, pathResetPassword, body, nil)
}

// loginEnvelope is the duck-typed wire shape of every credential response.
// The presence of mfaRequired distinguishes a pending challenge from a
// finalized identity; result converts it into the tagged union.
type loginEnvelope struct {
	MfaRequired bool     `json:"mfaRequired"`
	UserID      string   `json:"userId"`
	MfaMethods  []string `json:"mfaMethods"`
	AccessToken string   `json:"accessToken"`

	Identity
}

func (e loginEnvelope) result() *LoginResult {
	if e.MfaRequired {
		return &LoginResult{
			Challenge: &MfaChallenge{
				UserID:  e.UserID,
				Methods: ParseMethods(e.MfaMethods),
			},
		}
	}

	identity := e.Identity
	return &LoginResult{
		Identity:    &identity,
		AccessToken: e.AccessToken,
	}
}

func (c *Client) login(ctx context.Context, path string, body any) (*LoginResult, error) {
	envelope := loginEnvelope{}
	if err := c.do(ctx, http.MethodPost, path, body, &envelope); err != nil {
		return nil, err
	}
	return envelope.result(), nil
}

func (c *Client) verify(ctx context.Context, path, email, code string) (*Identity, error) {
	out := struct {
		User *Identity `json:"user"`
	}{}
	body := map[string]string{"email": email, "code": code}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, c.decodeError(path, fmt.Errorf("response is missing user"))
	}
	return out.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request body")
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.decodeError(path, err)
	}
	return nil
}

// statusError maps HTTP status classes onto the package error taxonomy.
func (c *Client) statusError(path string, resp *http.Response) error {
	message := serverMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		clone := ErrUnauthenticated.Clone()
		return clone.WithMetadata(map[string]any{"path": path, "message": message})
	case resp.StatusCode == http.StatusNotFound:
		clone := ErrIdentifierNotFound.Clone()
		return clone.WithMetadata(map[string]any{"path": path, "message": message})
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if message == "" {
			message = "request rejected"
		}
		return goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(TextCodeInvalidCredentials).
			WithCode(resp.StatusCode).
			WithMetadata(map[string]any{"path": path, "status": resp.StatusCode})
	default:
		c.logger.Error("request to %s failed with status %d", path, resp.StatusCode)
		clone := ErrRequestFailed.Clone()
		return clone.WithMetadata(map[string]any{"path": path, "status": resp.StatusCode})
	}
}

func (c *Client) transportError(path string, err error) error {
	c.logger.Error("request to %s failed: %v", path, err)
	clone := ErrRequestFailed.Clone()
	clone.Source = err
	return clone.WithMetadata(map[string]any{"path": path})
}

func (c *Client) decodeError(path string, err error) error {
	c.logger.Error("malformed response from %s: %v", path, err)
	clone := ErrRequestFailed.Clone()
	clone.Source = err
	return clone.WithMetadata(map[string]any{"path": path, "reason": "malformed response"})
}

// serverMessage pulls the backend's {message} out of an error body, if any.
func serverMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<16))
	if err != nil {
		return ""
	}
	out := struct {
		Message string `json:"message"`
	}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return out.Message
}
