package service

import (
	"context"
	"errors"
	"time"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/repository"
	"github.com/owlby/owlby-backend/internal/security"
)

var (
	ErrInvalidRefreshToken       = errors.New("invalid refresh token")
	ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")
)

// TokenPair is what issuance and rotation hand back to the HTTP layer.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenService mints access/refresh pairs and rotates refresh tokens.
// Refresh tokens are single-use: rotation revokes the old session row,
// and presenting a rotated token again revokes its whole family.
type TokenService struct {
	jwtMgr      *security.JWTManager
	sessionRepo repository.SessionRepository
	pepper      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, sessionRepo repository.SessionRepository, pepper string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{jwtMgr: jwtMgr, sessionRepo: sessionRepo, pepper: pepper, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (s *TokenService) Issue(ctx context.Context, user *domain.User, ua, ip string) (*TokenPair, error) {
	pair, refreshClaims, err := s.mintPair(user.ID)
	if err != nil {
		return nil, err
	}
	tokenID := refreshClaims.ID
	hash := security.HashRefreshToken(pair.RefreshToken, s.pepper)
	if err := s.sessionRepo.Create(ctx, &domain.Session{
		UserID:           user.ID,
		RefreshTokenHash: hash,
		TokenID:          ptr(tokenID),
		FamilyID:         ptr(tokenID),
		ParentTokenID:    nil,
		UserAgent:        ua,
		IP:               ip,
		ExpiresAt:        time.Now().Add(s.refreshTTL),
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *TokenService) Rotate(ctx context.Context, refreshToken, ua, ip string) (*TokenPair, string, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, "", ErrInvalidRefreshToken
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessionRepo.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, "", ErrInvalidRefreshToken
		}
		return nil, "", err
	}
	userID := claims.Subject
	if session.UserID != userID {
		return nil, "", ErrInvalidRefreshToken
	}
	tokenID := getString(session.TokenID)
	familyID := getString(session.FamilyID)
	if tokenID != "" && claims.ID != "" && tokenID != claims.ID {
		return nil, "", ErrInvalidRefreshToken
	}
	// Reuse detection runs before the expiry check: a rotated token is a
	// replay signal for as long as the row exists, not just while unexpired.
	if session.RevokedAt != nil {
		reason := getString(session.RevokedReason)
		if reason == "" || reason == "rotated" || reason == "reuse_detected" {
			// A rotated token coming back means the refresh token leaked
			// somewhere along the chain. Kill the whole family.
			_ = s.sessionRepo.MarkReuseDetectedByHash(ctx, hash)
			if familyID != "" {
				_, _ = s.sessionRepo.RevokeByFamilyID(ctx, familyID, "reuse_detected")
			}
			return nil, "", ErrRefreshTokenReuseDetected
		}
		return nil, "", ErrInvalidRefreshToken
	}
	if session.ExpiresAt.Before(time.Now()) {
		return nil, "", ErrInvalidRefreshToken
	}
	pair, newClaims, err := s.mintPair(userID)
	if err != nil {
		return nil, "", err
	}
	newHash := security.HashRefreshToken(pair.RefreshToken, s.pepper)
	_, err = s.sessionRepo.RotateSession(ctx, hash, &domain.Session{
		UserID:           userID,
		RefreshTokenHash: newHash,
		TokenID:          ptr(newClaims.ID),
		FamilyID:         ptr(familyID),
		ParentTokenID:    ptr(tokenID),
		UserAgent:        ua,
		IP:               ip,
		ExpiresAt:        time.Now().Add(s.refreshTTL),
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, "", ErrInvalidRefreshToken
		}
		return nil, "", err
	}
	return pair, userID, nil
}

func (s *TokenService) RevokeAll(ctx context.Context, userID, reason string) error {
	return s.sessionRepo.RevokeByUserID(ctx, userID, reason)
}

// mintPair signs the refresh token first so its jti can double as the
// access token's jti, binding the pair together.
func (s *TokenService) mintPair(userID string) (*TokenPair, *security.Claims, error) {
	refresh, err := s.jwtMgr.SignRefreshToken(userID, s.refreshTTL)
	if err != nil {
		return nil, nil, err
	}
	refreshClaims, err := s.jwtMgr.ParseRefreshToken(refresh)
	if err != nil {
		return nil, nil, err
	}
	access, err := s.jwtMgr.SignAccessTokenWithJTI(userID, s.accessTTL, refreshClaims.ID)
	if err != nil {
		return nil, nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(s.accessTTL),
	}, refreshClaims, nil
}

func ptr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func getString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
