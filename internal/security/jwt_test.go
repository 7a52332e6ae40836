package security

import (
	"testing"
	"time"
)

func newTestManager() *JWTManager {
	return NewJWTManager(
		"iss",
		"aud",
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
	)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager()
	raw, err := m.SignAccessToken("user-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", claims.Subject)
	}
	if claims.ID == "" {
		t.Fatal("expected non-empty jti")
	}
}

func TestRefreshTokenRejectedByAccessParser(t *testing.T) {
	m := newTestManager()
	raw, err := m.SignRefreshToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(raw); err == nil {
		t.Fatal("expected refresh token to fail access parsing")
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	m := newTestManager()
	raw, err := m.SignAccessToken("user-1", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(raw); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenFromOtherIssuerRejected(t *testing.T) {
	other := NewJWTManager("other-iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321")
	raw, err := other.SignAccessToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestManager().ParseAccessToken(raw); err == nil {
		t.Fatal("expected issuer mismatch to be rejected")
	}
}
