package session

import (
	"errors"
	"net/url"
	"strconv"
	"time"
)

// ErrCallbackMissingTokens means the redirect URL carried no usable token pair.
var ErrCallbackMissingTokens = errors.New("session: callback URL missing access or refresh token")

// CallbackTokens is the parsed result of a federated login redirect.
type CallbackTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ParseCallbackURL extracts the token pair from a federated redirect URL.
// Providers deliver the tokens either in the fragment or the query string;
// both are parsed as ordinary URL-encoded parameters, with the fragment
// taking precedence. Parameter order does not matter.
func ParseCallbackURL(rawURL string) (*CallbackTokens, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("session: callback URL is not a valid URL")
	}

	params := u.Query()
	if u.Fragment != "" {
		if frag, err := url.ParseQuery(u.Fragment); err == nil {
			for key, vals := range frag {
				params[key] = vals
			}
		}
	}

	tokens := &CallbackTokens{
		AccessToken:  params.Get("access_token"),
		RefreshToken: params.Get("refresh_token"),
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, ErrCallbackMissingTokens
	}
	if raw := params.Get("expires_in"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			tokens.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if raw := params.Get("expires_at"); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			tokens.ExpiresAt = time.Unix(unix, 0)
		}
	}
	return tokens, nil
}
