package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/owlby/owlby-backend/internal/app"
	"github.com/owlby/owlby-backend/internal/config"
	"github.com/owlby/owlby-backend/internal/database"
	"github.com/owlby/owlby-backend/internal/health"
	"github.com/owlby/owlby-backend/internal/http/handler"
	"github.com/owlby/owlby-backend/internal/http/middleware"
	"github.com/owlby/owlby-backend/internal/http/router"
	"github.com/owlby/owlby-backend/internal/observability"
	"github.com/owlby/owlby-backend/internal/repository"
	"github.com/owlby/owlby-backend/internal/security"
	"github.com/owlby/owlby-backend/internal/service"
	"github.com/owlby/owlby-backend/internal/tools/common"
)

func main() {
	root := &cobra.Command{
		Use:   "owlby-server",
		Short: "Auth gateway and learning content API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if envFile != "" {
				if err := common.LoadEnvFile(envFile); err != nil {
					return err
				}
			}
			return run(cmd.Context())
		},
	}
	root.Flags().String("env-file", "", "optional env file to load before startup")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, loggerProvider, err := observability.InitLogger(ctx, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runtime.LoggerProvider = loggerProvider

	db, err := database.Open(cfg, logger)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	nodeRepo := repository.NewLearningNodeRepository(db)

	var oneTimeTokens service.OneTimeTokenStore = service.NewMemoryOneTimeTokenStore()
	var abuseGuard service.AuthAbuseGuard
	var negativeCache service.NegativeLookupCacheStore = service.NewNoopNegativeLookupCacheStore()
	if redisClient != nil {
		oneTimeTokens = service.NewRedisOneTimeTokenStore(redisClient, "onetime")
		abuseGuard = service.NewRedisAuthAbuseGuard(redisClient, "auth_abuse", service.AuthAbusePolicy{
			FreeAttempts: 5,
			BaseDelay:    2 * time.Second,
			Multiplier:   2,
			MaxDelay:     5 * time.Minute,
			ResetWindow:  15 * time.Minute,
		})
		negativeCache = service.NewRedisNegativeLookupCacheStore(redisClient, "negative_lookup")
	}

	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, cfg.RefreshTokenPepper, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authSvc := service.NewAuthService(service.AuthServiceParams{
		UserRepo:        userRepo,
		TokenService:    tokenSvc,
		SessionRepo:     sessionRepo,
		OneTimeTokens:   oneTimeTokens,
		Mailer:          service.NewLogMailer(logger),
		Google:          service.NewGoogleVerifier(cfg.GoogleUserInfoURL, cfg.UpstreamTimeout),
		Apple:           service.NewAppleVerifier(cfg.AppleUserInfoURL, cfg.UpstreamTimeout),
		Pepper:          cfg.RefreshTokenPepper,
		ResetTTL:        cfg.PasswordResetTTL,
		VerificationTTL: cfg.EmailVerificationTTL,
		Guard:           abuseGuard,
		Logger:          logger,
	})

	readiness := health.NewProbeRunner(2 * time.Second)
	readiness.Register("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if redisClient != nil {
		readiness.Register("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	deps := router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(authSvc),
		UserHandler:         handler.NewUserHandler(),
		LearningNodeHandler: handler.NewLearningNodeHandler(nodeRepo),
		JWTManager:          jwtMgr,
		UserResolver:        service.NewCachedUserResolver(userRepo, negativeCache, 5*time.Minute),
		CORSOrigins:         cfg.CORSOrigins,
		AuthRateLimitRPM:    cfg.AuthRateLimitRPM,
		APIRateLimitRPM:     cfg.APIRateLimitRPM,
		BodyLimitBytes:      cfg.BodyLimitBytes,
		Readiness:           readiness,
		EnableOTelHTTP:      cfg.OTELEnabled,
	}
	if redisClient != nil {
		limiter := middleware.NewRedisWindowLimiter(redisClient, "ratelimit")
		deps.GlobalRateLimiter = middleware.NewRateLimiterWith(limiter, cfg.APIRateLimitRPM, time.Minute, middleware.FailOpen, "api", nil).Middleware()
		deps.AuthRateLimiter = middleware.NewRateLimiterWith(limiter, cfg.AuthRateLimitRPM, time.Minute, middleware.FailClosed, "auth", nil).Middleware()

		idemStore := service.NewRedisIdempotencyStore(redisClient, "idem")
		deps.Idempotency = func(scope string) func(http.Handler) http.Handler {
			return middleware.Idempotency(idemStore, scope, 24*time.Hour)
		}
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCleanup := startSessionCleanup(logger, sessionRepo)
	a := app.New(cfg, logger, server, runtime, readiness, stopCleanup)
	return a.Run(ctx)
}

// startSessionCleanup prunes long-expired session rows in the
// background so the table does not grow without bound.
func startSessionCleanup(logger *slog.Logger, sessions repository.SessionRepository) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				removed, err := sessions.CleanupExpired(ctx)
				cancel()
				if err != nil {
					logger.Error("session cleanup", slog.String("error", err.Error()))
					continue
				}
				if removed > 0 {
					logger.Info("session cleanup", slog.Int64("removed", removed))
				}
			}
		}
	}()
	var once func()
	closed := false
	once = func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	return once
}
