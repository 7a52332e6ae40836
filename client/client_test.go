package client

import (
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func envelopeJSON(success bool, data any, code, message string) []byte {
	env := map[string]any{"success": success}
	if data != nil {
		env["data"] = data
	}
	if code != "" {
		env["error"] = map[string]string{"code": code, "message": message}
	}
	raw, _ := json.Marshal(env)
	return raw
}

func TestSignInDecodesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["email"] != "kim@example.com" || body["password"] != "pw123" {
			t.Errorf("unexpected credentials: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(envelopeJSON(true, map[string]any{
			"user":          map[string]any{"id": "u-1", "email": "kim@example.com"},
			"access_token":  "at-1",
			"refresh_token": "rt-1",
		}, "", ""))
	}))
	defer srv.Close()

	sess, err := New(srv.URL).SignIn(context.Background(), "kim@example.com", "pw123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.User.ID != "u-1" || sess.AccessToken != "at-1" || sess.RefreshToken != "rt-1" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestErrorEnvelopeBecomesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write(envelopeJSON(false, nil, "UNAUTHORIZED", "Invalid credentials"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).SignIn(context.Background(), "kim@example.com", "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.Status != http.StatusUnauthorized || authErr.Code != "UNAUTHORIZED" || authErr.Message != "Invalid credentials" {
		t.Errorf("unexpected error: %+v", authErr)
	}
}

func TestBearerComesFromTokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-from-source" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(envelopeJSON(true, map[string]any{
			"user": map[string]any{"id": "u-1"},
		}, "", ""))
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokenSource(StaticToken("token-from-source")))
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("Me: %v", err)
	}
}

func TestAnonymousRequestHasNoBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected Authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(envelopeJSON(true, nil, "", ""))
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokenSource(StaticToken("")))
	if err := c.RequestPasswordReset(context.Background(), "kim@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
}
