package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var ErrFederatedTokenInvalid = errors.New("federated token invalid")

// FederatedUserInfo is the normalized identity returned by a provider.
type FederatedUserInfo struct {
	Subject       string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// FederatedVerifier exchanges a provider access token for the identity
// it was issued to.
type FederatedVerifier interface {
	Verify(ctx context.Context, accessToken string) (*FederatedUserInfo, error)
}

// GoogleVerifier calls Google's userinfo endpoint with the supplied
// access token. A token Google rejects maps to ErrFederatedTokenInvalid.
type GoogleVerifier struct {
	userInfoURL string
	timeout     time.Duration
}

func NewGoogleVerifier(userInfoURL string, timeout time.Duration) *GoogleVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleVerifier{userInfoURL: userInfoURL, timeout: timeout}
}

func (v *GoogleVerifier) Verify(ctx context.Context, accessToken string) (*FederatedUserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	client := oauth2.NewClient(ctx, src)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		// A provider too slow to answer cannot vouch for the token.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("userinfo timeout: %w", ErrFederatedTokenInvalid)
		}
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrFederatedTokenInvalid
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read userinfo response: %w", err)
	}
	var info FederatedUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode userinfo response: %w", err)
	}
	if info.Subject == "" {
		return nil, ErrFederatedTokenInvalid
	}
	return &info, nil
}

// AppleVerifier is wired only when an endpoint is configured. Until
// then the auth service reports Apple sign-in as unavailable.
type AppleVerifier struct {
	userInfoURL string
	timeout     time.Duration
}

func NewAppleVerifier(userInfoURL string, timeout time.Duration) *AppleVerifier {
	if userInfoURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AppleVerifier{userInfoURL: userInfoURL, timeout: timeout}
}

func (v *AppleVerifier) Verify(ctx context.Context, accessToken string) (*FederatedUserInfo, error) {
	g := &GoogleVerifier{userInfoURL: v.userInfoURL, timeout: v.timeout}
	return g.Verify(ctx, accessToken)
}
