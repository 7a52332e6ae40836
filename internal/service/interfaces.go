package service

import (
	"context"

	"github.com/owlby/owlby-backend/internal/domain"
)

// AuthServiceInterface is what the HTTP handlers program against.
type AuthServiceInterface interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, in LoginInput) (*AuthResult, error)
	FederatedLogin(ctx context.Context, in FederatedLoginInput) (*AuthResult, error)
	Refresh(ctx context.Context, refreshToken, ua, ip string) (*AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
}
