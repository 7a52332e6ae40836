package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/owlby/owlby-backend/internal/health"
	"github.com/owlby/owlby-backend/internal/http/handler"
	"github.com/owlby/owlby-backend/internal/http/middleware"
	"github.com/owlby/owlby-backend/internal/http/response"
	"github.com/owlby/owlby-backend/internal/security"
)

type Dependencies struct {
	AuthHandler         *handler.AuthHandler
	UserHandler         *handler.UserHandler
	LearningNodeHandler *handler.LearningNodeHandler
	JWTManager          *security.JWTManager
	UserResolver        middleware.UserResolver
	CORSOrigins         []string
	AuthRateLimitRPM    int
	APIRateLimitRPM     int
	BodyLimitBytes      int64
	GlobalRateLimiter   func(http.Handler) http.Handler
	AuthRateLimiter     func(http.Handler) http.Handler
	Idempotency         func(scope string) func(http.Handler) http.Handler
	Readiness           *health.ProbeRunner
	EnableOTelHTTP      bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	bodyLimit := dep.BodyLimitBytes
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}
	r.Use(middleware.BodyLimit(bodyLimit))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}

	requireAuth := middleware.AuthMiddleware(dep.JWTManager, dep.UserResolver)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/auth", func(r chi.Router) {
		registerChain := []func(http.Handler) http.Handler{authLimiter}
		if dep.Idempotency != nil {
			registerChain = append(registerChain, dep.Idempotency("auth.register"))
		}
		r.With(registerChain...).Post("/register", dep.AuthHandler.Register)
		r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
		r.With(authLimiter).Post("/google", dep.AuthHandler.Google)
		r.With(authLimiter).Post("/apple", dep.AuthHandler.Apple)
		r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
		r.With(authLimiter).Post("/reset-password/request", dep.AuthHandler.RequestPasswordReset)
		r.With(authLimiter).Post("/reset-password/confirm", dep.AuthHandler.ResetPassword)
		r.With(authLimiter).Post("/verify-email", dep.AuthHandler.VerifyEmail)
		r.With(authLimiter).Post("/resend-verification", dep.AuthHandler.ResendVerification)
		r.With(requireAuth).Post("/logout", dep.AuthHandler.Logout)
		r.With(requireAuth).Get("/me", dep.UserHandler.Me)
	})

	r.Route("/api/learning-nodes", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/", dep.LearningNodeHandler.Create)
		r.Get("/", dep.LearningNodeHandler.List)
		r.Get("/{id}", dep.LearningNodeHandler.Get)
		r.Put("/{id}", dep.LearningNodeHandler.Update)
		r.Delete("/{id}", dep.LearningNodeHandler.Delete)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

