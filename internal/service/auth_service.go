package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/observability"
	"github.com/owlby/owlby-backend/internal/repository"
	"github.com/owlby/owlby-backend/internal/security"
)

var (
	ErrUserExists          = errors.New("user already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidOneTimeToken = errors.New("invalid or expired token")
)

const (
	tokenKindPasswordReset     = "password_reset"
	tokenKindEmailVerification = "email_verification"
)

type RegisterInput struct {
	Email     string
	Password  string
	Name      string
	UserAgent string
	IP        string
}

type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IP        string
}

type FederatedLoginInput struct {
	Provider    string
	AccessToken string
	UserAgent   string
	IP          string
}

// AuthResult is the outcome of any flow that ends in a signed-in user.
type AuthResult struct {
	User   *domain.User
	Tokens *TokenPair
}

type AuthService struct {
	userRepo        repository.UserRepository
	tokenService    *TokenService
	sessionRepo     repository.SessionRepository
	oneTimeTokens   OneTimeTokenStore
	mailer          Mailer
	google          FederatedVerifier
	apple           FederatedVerifier
	pepper          string
	resetTTL        time.Duration
	verificationTTL time.Duration
	guard           AuthAbuseGuard
	logger          *slog.Logger
}

type AuthServiceParams struct {
	UserRepo        repository.UserRepository
	TokenService    *TokenService
	SessionRepo     repository.SessionRepository
	OneTimeTokens   OneTimeTokenStore
	Mailer          Mailer
	Google          FederatedVerifier
	Apple           FederatedVerifier
	Pepper          string
	ResetTTL        time.Duration
	VerificationTTL time.Duration
	// Guard is optional; nil disables failed-attempt cooldowns.
	Guard  AuthAbuseGuard
	Logger *slog.Logger
}

func NewAuthService(p AuthServiceParams) *AuthService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:        p.UserRepo,
		tokenService:    p.TokenService,
		sessionRepo:     p.SessionRepo,
		oneTimeTokens:   p.OneTimeTokens,
		mailer:          p.Mailer,
		google:          p.Google,
		apple:           p.Apple,
		pepper:          p.Pepper,
		resetTTL:        p.ResetTTL,
		verificationTTL: p.VerificationTTL,
		guard:           p.Guard,
		logger:          logger,
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	if _, err := s.userRepo.FindByEmail(ctx, email); err == nil {
		observability.RecordAuthLogin("password", "register_conflict")
		return nil, ErrUserExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: &hash,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.sendVerificationMail(ctx, user)

	tokens, err := s.tokenService.Issue(ctx, user, in.UserAgent, in.IP)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("password", "registered")
	observability.AuditEvent(ctx, "auth.register", "success", "",
		slog.String("user_id", user.ID))
	return &AuthResult{User: user, Tokens: tokens}, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	if err := s.checkAbuse(ctx, AuthAbuseScopeLogin, email, in.IP); err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.registerAbuseFailure(ctx, AuthAbuseScopeLogin, email, in.IP)
			observability.RecordAuthLogin("password", "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil || !security.VerifyPassword(*user.PasswordHash, in.Password) {
		s.registerAbuseFailure(ctx, AuthAbuseScopeLogin, email, in.IP)
		observability.RecordAuthLogin("password", "invalid_credentials")
		observability.AuditEvent(ctx, "auth.login", "failure", "invalid_credentials",
			slog.String("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}
	tokens, err := s.tokenService.Issue(ctx, user, in.UserAgent, in.IP)
	if err != nil {
		return nil, err
	}
	s.resetAbuse(ctx, AuthAbuseScopeLogin, email, in.IP)
	observability.RecordAuthLogin("password", "success")
	observability.AuditEvent(ctx, "auth.login", "success", "",
		slog.String("user_id", user.ID))
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// checkAbuse maps an active cooldown to ErrTooManyAttempts. Guard
// backend errors fail open so an unreachable redis cannot lock out
// every login.
func (s *AuthService) checkAbuse(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	if s.guard == nil {
		return nil
	}
	cooldown, err := s.guard.Check(ctx, scope, identity, ip)
	if err != nil {
		s.logger.WarnContext(ctx, "abuse guard check failed", slog.Any("error", err))
		return nil
	}
	if cooldown > 0 {
		observability.RecordRateLimitDecision(ctx, string(scope), "denied")
		return ErrTooManyAttempts
	}
	return nil
}

func (s *AuthService) registerAbuseFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) {
	if s.guard == nil {
		return
	}
	if _, err := s.guard.RegisterFailure(ctx, scope, identity, ip); err != nil {
		s.logger.WarnContext(ctx, "abuse guard register failed", slog.Any("error", err))
	}
}

func (s *AuthService) resetAbuse(ctx context.Context, scope AuthAbuseScope, identity, ip string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Reset(ctx, scope, identity, ip); err != nil {
		s.logger.WarnContext(ctx, "abuse guard reset failed", slog.Any("error", err))
	}
}

// FederatedLogin verifies a provider access token, then finds or
// creates the matching account. Lookup order is provider subject
// first, then email, so repeating a federated sign-in never creates
// a second account.
func (s *AuthService) FederatedLogin(ctx context.Context, in FederatedLoginInput) (*AuthResult, error) {
	var verifier FederatedVerifier
	switch in.Provider {
	case "google":
		verifier = s.google
	case "apple":
		verifier = s.apple
	default:
		return nil, ErrProviderUnavailable
	}
	if verifier == nil || (in.Provider == "apple" && isNilVerifier(s.apple)) {
		return nil, ErrProviderUnavailable
	}

	info, err := verifier.Verify(ctx, in.AccessToken)
	if err != nil {
		if errors.Is(err, ErrFederatedTokenInvalid) {
			observability.RecordAuthLogin(in.Provider, "invalid_token")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	user, err := s.resolveFederatedUser(ctx, in.Provider, info)
	if err != nil {
		return nil, err
	}
	tokens, err := s.tokenService.Issue(ctx, user, in.UserAgent, in.IP)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin(in.Provider, "success")
	observability.AuditEvent(ctx, "auth.federated_login", "success", "",
		slog.String("provider", in.Provider), slog.String("user_id", user.ID))
	return &AuthResult{User: user, Tokens: tokens}, nil
}

func (s *AuthService) resolveFederatedUser(ctx context.Context, provider string, info *FederatedUserInfo) (*domain.User, error) {
	findBySubject := s.userRepo.FindByGoogleID
	if provider == "apple" {
		findBySubject = s.userRepo.FindByAppleID
	}

	user, err := findBySubject(ctx, info.Subject)
	if err == nil {
		return s.refreshFederatedProfile(ctx, user, info)
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	if info.Email != "" {
		user, err = s.userRepo.FindByEmail(ctx, normalizeEmail(info.Email))
		if err == nil {
			s.linkProvider(user, provider, info.Subject)
			return s.refreshFederatedProfile(ctx, user, info)
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}

	user = &domain.User{
		Email:         normalizeEmail(info.Email),
		Name:          info.Name,
		EmailVerified: info.EmailVerified,
	}
	s.linkProvider(user, provider, info.Subject)
	if info.Picture != "" {
		user.Avatar = &info.Picture
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserDuplicate) {
			// Raced with a concurrent sign-in for the same identity.
			if existing, lookupErr := findBySubject(ctx, info.Subject); lookupErr == nil {
				return existing, nil
			}
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) refreshFederatedProfile(ctx context.Context, user *domain.User, info *FederatedUserInfo) (*domain.User, error) {
	changed := false
	if info.Name != "" && user.Name != info.Name {
		user.Name = info.Name
		changed = true
	}
	if info.Picture != "" && (user.Avatar == nil || *user.Avatar != info.Picture) {
		user.Avatar = &info.Picture
		changed = true
	}
	if info.EmailVerified && !user.EmailVerified {
		user.EmailVerified = true
		changed = true
	}
	if changed {
		if err := s.userRepo.Update(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

func (s *AuthService) linkProvider(user *domain.User, provider, subject string) {
	sub := subject
	switch provider {
	case "google":
		user.GoogleID = &sub
	case "apple":
		user.AppleID = &sub
	}
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken, ua, ip string) (*AuthResult, error) {
	tokens, userID, err := s.tokenService.Rotate(ctx, refreshToken, ua, ip)
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshTokenReuseDetected):
			observability.RecordAuthRefresh("reuse_detected")
			observability.AuditEvent(ctx, "auth.refresh", "failure", "reuse_detected")
			return nil, ErrInvalidRefreshToken
		case errors.Is(err, ErrInvalidRefreshToken):
			observability.RecordAuthRefresh("invalid")
			return nil, err
		}
		return nil, err
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Logout revokes the presented refresh token. Unknown tokens succeed
// so that sign-out is idempotent from the client's point of view.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	if err := s.sessionRepo.RevokeByHash(ctx, hash, "logout"); err != nil {
		return err
	}
	observability.RecordAuthLogout("success")
	return nil
}

// LogoutAll ends every session for the user, across all devices.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.tokenService.RevokeAll(ctx, userID, "logout_all"); err != nil {
		return err
	}
	observability.RecordAuthLogout("success")
	observability.AuditEvent(ctx, "auth.logout_all", "success", "", slog.String("user_id", userID))
	return nil
}

// RequestPasswordReset always reports success so responses cannot be
// used to probe which emails are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	normalized := normalizeEmail(email)
	if err := s.checkAbuse(ctx, AuthAbuseScopeForgot, normalized, ""); err != nil {
		return err
	}
	s.registerAbuseFailure(ctx, AuthAbuseScopeForgot, normalized, "")
	user, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.AuditEvent(ctx, "auth.password_reset_request", "noop", "unknown_email")
			return nil
		}
		return err
	}
	token, err := security.NewOneTimeToken()
	if err != nil {
		return err
	}
	if err := s.oneTimeTokens.Put(ctx, tokenKindPasswordReset, token, user.ID, s.resetTTL); err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		s.logger.ErrorContext(ctx, "send password reset mail", slog.String("error", err.Error()))
	}
	observability.AuditEvent(ctx, "auth.password_reset_request", "success", "",
		slog.String("user_id", user.ID))
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.oneTimeTokens.Consume(ctx, tokenKindPasswordReset, token)
	if err != nil {
		if errors.Is(err, ErrOneTimeTokenNotFound) {
			return ErrInvalidOneTimeToken
		}
		return err
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	// A reset means the old credentials may be compromised.
	if err := s.tokenService.RevokeAll(ctx, userID, "password_reset"); err != nil {
		return err
	}
	observability.AuditEvent(ctx, "auth.password_reset", "success", "",
		slog.String("user_id", userID))
	return nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.oneTimeTokens.Consume(ctx, tokenKindEmailVerification, token)
	if err != nil {
		if errors.Is(err, ErrOneTimeTokenNotFound) {
			return ErrInvalidOneTimeToken
		}
		return err
	}
	if err := s.userRepo.MarkEmailVerified(ctx, userID); err != nil {
		return err
	}
	observability.AuditEvent(ctx, "auth.email_verified", "success", "",
		slog.String("user_id", userID))
	return nil
}

// ResendVerification mirrors RequestPasswordReset's anti-enumeration
// stance: unknown and already-verified emails both report success.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.EmailVerified {
		return nil
	}
	s.sendVerificationMail(ctx, user)
	return nil
}

func (s *AuthService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.userRepo.FindByID(ctx, id)
}

func (s *AuthService) sendVerificationMail(ctx context.Context, user *domain.User) {
	token, err := security.NewOneTimeToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "generate verification token", slog.String("error", err.Error()))
		return
	}
	if err := s.oneTimeTokens.Put(ctx, tokenKindEmailVerification, token, user.ID, s.verificationTTL); err != nil {
		s.logger.ErrorContext(ctx, "store verification token", slog.String("error", err.Error()))
		return
	}
	if err := s.mailer.SendEmailVerification(ctx, user.Email, token); err != nil {
		s.logger.ErrorContext(ctx, "send verification mail", slog.String("error", err.Error()))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNilVerifier(v FederatedVerifier) bool {
	if v == nil {
		return true
	}
	av, ok := v.(*AppleVerifier)
	return ok && av == nil
}
