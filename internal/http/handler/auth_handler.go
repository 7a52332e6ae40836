package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/http/middleware"
	"github.com/owlby/owlby-backend/internal/http/response"
	"github.com/owlby/owlby-backend/internal/service"
)

type AuthHandler struct {
	auth service.AuthServiceInterface
}

func NewAuthHandler(auth service.AuthServiceInterface) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// UserView is the wire shape of an account. The password hash never
// leaves the service layer.
type UserView struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Avatar        *string   `json:"avatar,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type sessionView struct {
	User         UserView  `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func NewUserView(u *domain.User) UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Avatar:        u.Avatar,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

func newSessionView(res *service.AuthResult) sessionView {
	return sessionView{
		User:         NewUserView(res.User),
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresAt:    res.Tokens.ExpiresAt,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	if req.Email == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}
	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		UserAgent: r.UserAgent(),
		IP:        middleware.ClientIP(r),
	})
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			response.Error(w, r, http.StatusBadRequest, "USER_EXISTS", "User already exists", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, newSessionView(res))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	if req.Email == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		IP:        middleware.ClientIP(r),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
			return
		}
		if errors.Is(err, service.ErrTooManyAttempts) {
			response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts, try again later", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, newSessionView(res))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "refresh_token is required", nil)
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.RefreshToken, r.UserAgent(), middleware.ClientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, newSessionView(res))
}

// Logout ends the presented refresh session, or every session for the
// authenticated user when no refresh token accompanies the request.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	var err error
	if req.RefreshToken != "" {
		err = h.auth.Logout(r.Context(), req.RefreshToken)
	} else if user, ok := middleware.UserFromContext(r.Context()); ok {
		err = h.auth.LogoutAll(r.Context(), user.ID)
	}
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "Logged out"})
}

type federatedRequest struct {
	Token string `json:"token"`
	// Older clients send the provider token under access_token.
	AccessToken string `json:"access_token"`
}

func (req *federatedRequest) token() string {
	if req.Token != "" {
		return req.Token
	}
	return req.AccessToken
}

func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	h.federated(w, r, "google")
}

func (h *AuthHandler) Apple(w http.ResponseWriter, r *http.Request) {
	h.federated(w, r, "apple")
}

func (h *AuthHandler) federated(w http.ResponseWriter, r *http.Request, provider string) {
	var req federatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.token() == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "token is required", nil)
		return
	}
	res, err := h.auth.FederatedLogin(r.Context(), service.FederatedLoginInput{
		Provider:    provider,
		AccessToken: req.token(),
		UserAgent:   r.UserAgent(),
		IP:          middleware.ClientIP(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderUnavailable):
			response.Error(w, r, http.StatusNotImplemented, "NOT_IMPLEMENTED", provider+" sign-in is not configured", nil)
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, newSessionView(res))
}

type emailRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset reports the same success either way so the
// endpoint cannot confirm which emails have accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "email is required", nil)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrTooManyAttempts) {
			response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts, try again later", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "If that email exists, a reset link has been sent"})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "token and password are required", nil)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		if errors.Is(err, service.ErrInvalidOneTimeToken) {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "Password updated"})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "token is required", nil)
		return
	}
	if err := h.auth.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, service.ErrInvalidOneTimeToken) {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "Email verified"})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "email is required", nil)
		return
	}
	if err := h.auth.ResendVerification(r.Context(), req.Email); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "If that email exists, a verification link has been sent"})
}
