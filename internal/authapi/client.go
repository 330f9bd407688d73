// Package authapi speaks to the authentication server. It is the only place
// that knows request bodies and the many response shapes the server uses;
// everything it returns is already normalized into vault types.
package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/transport"
	"github.com/MrEthical07/goSession/vault"
)

var (
	// ErrMalformed reports a success response that carried neither tokens nor a user.
	ErrMalformed = errors.New("authapi: malformed response")
)

// StatusError is a non-2xx answer.
type StatusError struct {
	Status int
	// Message is filtered and safe to show.
	Message string
	// Expired is set when the server says the credential in the request has
	// expired (as opposed to being wrong).
	Expired bool
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authapi: status %d", e.Status)
	}
	return fmt.Sprintf("authapi: status %d: %s", e.Status, e.Message)
}

// Unauthorized reports a 401 or 403.
func (e *StatusError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// AsStatus unwraps a *StatusError.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Paths are the endpoint paths relative to the transport base URL.
type Paths struct {
	Login           string
	VerifyTwoFactor string
	Refresh         string
	Logout          string
	Me              string
	Register        string
}

// DefaultPaths are the server's /auth routes.
func DefaultPaths() Paths {
	return Paths{
		Login:           "/auth/login",
		VerifyTwoFactor: "/auth/verify-2fa",
		Refresh:         "/auth/refresh",
		Logout:          "/auth/logout",
		Me:              "/auth/me",
		Register:        "/auth/register",
	}
}

// Config configures a [Client].
type Config struct {
	Paths Paths
	// DefaultAccessTTL is assumed when a token response states no expiry and
	// the token carries no exp claim.
	DefaultAccessTTL time.Duration
	Now              func() time.Time
}

// Client calls the authentication endpoints.
type Client struct {
	t     transport.Transport
	paths Paths
	ttl   time.Duration
	now   func() time.Time
}

// New returns a Client over t.
func New(t transport.Transport, cfg Config) *Client {
	def := DefaultPaths()
	p := cfg.Paths
	if p.Login == "" {
		p.Login = def.Login
	}
	if p.VerifyTwoFactor == "" {
		p.VerifyTwoFactor = def.VerifyTwoFactor
	}
	if p.Refresh == "" {
		p.Refresh = def.Refresh
	}
	if p.Logout == "" {
		p.Logout = def.Logout
	}
	if p.Me == "" {
		p.Me = def.Me
	}
	if p.Register == "" {
		p.Register = def.Register
	}
	if cfg.DefaultAccessTTL <= 0 {
		cfg.DefaultAccessTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{t: t, paths: p, ttl: cfg.DefaultAccessTTL, now: cfg.Now}
}

// RegisterInput is the account creation form.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone"`
}

// Login exchanges an identifier and secret for a session or a challenge.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*LoginOutcome, error) {
	resp, err := c.post(ctx, c.paths.Login, "", map[string]string{
		"identifier": SanitizeIdentifier(identifier),
		"password":   secret,
	})
	if err != nil {
		return nil, err
	}
	return normalizeLogin(resp.Body, c.now(), c.ttl)
}

// VerifyTwoFactor submits a step-up code. The server may answer with another
// challenge, which is reported as ErrMalformed.
func (c *Client) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*Session, error) {
	resp, err := c.post(ctx, c.paths.VerifyTwoFactor, "", map[string]string{
		"temp_token": tempToken,
		"code":       strings.TrimSpace(code),
	})
	if err != nil {
		return nil, err
	}
	out, err := normalizeLogin(resp.Body, c.now(), c.ttl)
	if err != nil {
		return nil, err
	}
	if out.Session == nil {
		return nil, ErrMalformed
	}
	return out.Session, nil
}

// Refresh exchanges a refresh token. An empty token relies on the session
// cookie.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var payload any
	if refreshToken != "" {
		payload = map[string]string{"refresh_token": refreshToken}
	}
	resp, err := c.post(ctx, c.paths.Refresh, "", payload)
	if err != nil {
		return nil, err
	}
	return normalizeSession(resp.Body, c.now(), c.ttl)
}

// Logout tells the server to drop the session.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var payload any
	if refreshToken != "" {
		payload = map[string]string{"refresh_token": refreshToken}
	}
	_, err := c.post(ctx, c.paths.Logout, accessToken, payload)
	return err
}

// Me returns the current user. An empty access token relies on the session
// cookie.
func (c *Client) Me(ctx context.Context, accessToken string) (*vault.UserSnapshot, error) {
	resp, err := c.do(ctx, &transport.Request{
		Method: http.MethodGet,
		URL:    c.paths.Me,
		Header: bearer(accessToken),
	})
	if err != nil {
		return nil, err
	}
	return normalizeUser(resp.Body)
}

// Register creates an account and returns the server's message.
func (c *Client) Register(ctx context.Context, in RegisterInput) (string, error) {
	in.Username = SanitizeIdentifier(in.Username)
	in.Email = SanitizeIdentifier(in.Email)
	resp, err := c.post(ctx, c.paths.Register, "", in)
	if err != nil {
		return "", err
	}
	return FilterMessage(errorMessage(resp.Body)), nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload any) (*transport.Response, error) {
	req := &transport.Request{
		Method: http.MethodPost,
		URL:    path,
		Header: bearer(accessToken),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("authapi: encode request: %w", err)
		}
		req.Body = data
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := c.t.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		raw := errorMessage(resp.Body)
		return nil, &StatusError{
			Status:  resp.Status,
			Message: FilterMessage(raw),
			Expired: resp.Status == http.StatusGone || strings.Contains(strings.ToLower(raw), "expired"),
		}
	}
	return resp, nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
