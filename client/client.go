// Package client is a thin JSON client for the auth gateway. It holds no
// mutable token state: the bearer credential is supplied per request by an
// injected TokenSource, typically the session store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// User is the gateway's public view of an account.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	AvatarURL     string `json:"avatar_url"`
	Provider      string `json:"provider"`
	EmailVerified bool   `json:"email_verified"`
}

// Session is a token pair bound to a user.
type Session struct {
	User         User      `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthError carries the gateway's error envelope alongside the HTTP status.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s (%d %s)", e.Message, e.Status, e.Code)
}

// TokenSource supplies the current bearer credential, or "" when signed out.
type TokenSource interface {
	AccessToken() string
}

// StaticToken is a fixed-credential TokenSource for tools and tests.
type StaticToken string

func (t StaticToken) AccessToken() string { return string(t) }

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Register(ctx context.Context, email, password, name string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/register",
		map[string]string{"email": email, "password": password, "name": name}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FederatedSignIn exchanges a provider identity token. Provider is the
// gateway route suffix, "google" or "apple".
func (c *Client) FederatedSignIn(ctx context.Context, provider, token string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/"+provider,
		map[string]string{"token": token}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh",
		map[string]string{"refresh_token": refreshToken}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SignOut revokes the given refresh token. The bearer comes from the
// token source like every other authenticated call.
func (c *Client) SignOut(ctx context.Context, refreshToken string) error {
	body := map[string]string{}
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	return c.do(ctx, http.MethodPost, "/api/auth/logout", body, nil)
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/reset-password/request",
		map[string]string{"email": email}, nil)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, password string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/reset-password/confirm",
		map[string]string{"token": token, "password": password}, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &AuthError{Status: resp.StatusCode, Code: "INVALID_RESPONSE", Message: http.StatusText(resp.StatusCode)}
	}
	if resp.StatusCode >= 400 || !env.Success {
		authErr := &AuthError{Status: resp.StatusCode, Code: "INTERNAL", Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			authErr.Code = env.Error.Code
			authErr.Message = env.Error.Message
		}
		return authErr
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
