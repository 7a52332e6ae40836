package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/http/handler"
	"github.com/owlby/owlby-backend/internal/http/middleware"
	"github.com/owlby/owlby-backend/internal/http/router"
	"github.com/owlby/owlby-backend/internal/repository"
	"github.com/owlby/owlby-backend/internal/security"
	"github.com/owlby/owlby-backend/internal/service"
)

const testPepper = "pepper-1234567890"

type testStack struct {
	BaseURL string
	Client  *http.Client
	Close   func()
}

// newAuthTestServer runs the full gateway over loopback HTTP with a
// sqlite-backed store, a miniredis instance for the redis-backed
// components, and a stubbed google userinfo upstream.
func newAuthTestServer(t *testing.T) *testStack {
	t.Helper()

	dsn := fmt.Sprintf("file:integration_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.LearningNode{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	userinfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !strings.HasPrefix(token, "valid-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             "sub-" + strings.TrimPrefix(token, "valid-"),
			"email":          strings.TrimPrefix(token, "valid-") + "@gmail.example.com",
			"verified_email": true,
			"name":           "Federated User",
		})
	}))
	t.Cleanup(userinfo.Close)

	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321")
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	nodeRepo := repository.NewLearningNodeRepository(db)
	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, testPepper, 15*time.Minute, 24*time.Hour)
	authSvc := service.NewAuthService(service.AuthServiceParams{
		UserRepo:        userRepo,
		TokenService:    tokenSvc,
		SessionRepo:     sessionRepo,
		OneTimeTokens:   service.NewRedisOneTimeTokenStore(redisClient, "onetime"),
		Mailer:          service.NewLogMailer(nil),
		Google:          service.NewGoogleVerifier(userinfo.URL, 5*time.Second),
		Apple:           nil,
		Pepper:          testPepper,
		ResetTTL:        time.Hour,
		VerificationTTL: 24 * time.Hour,
	})

	idemStore := service.NewRedisIdempotencyStore(redisClient, "idem")
	srv := httptest.NewServer(router.NewRouter(router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(authSvc),
		UserHandler:         handler.NewUserHandler(),
		LearningNodeHandler: handler.NewLearningNodeHandler(nodeRepo),
		JWTManager:          jwtMgr,
		UserResolver:        service.NewCachedUserResolver(userRepo, service.NewRedisNegativeLookupCacheStore(redisClient, "negative_lookup"), time.Minute),
		CORSOrigins:         nil,
		AuthRateLimitRPM:    1000,
		APIRateLimitRPM:     1000,
		Idempotency: func(scope string) func(http.Handler) http.Handler {
			return middleware.Idempotency(idemStore, scope, time.Hour)
		},
	}))
	t.Cleanup(srv.Close)

	return &testStack{
		BaseURL: srv.URL,
		Client:  srv.Client(),
		Close:   srv.Close,
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, stack *testStack, method, path string, headers map[string]string, body string) (int, apiEnvelope, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, stack.BaseURL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := stack.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope from %s: %v", raw, err)
	}
	return resp.StatusCode, env, raw
}

func dataField(t *testing.T, env apiEnvelope, path ...string) any {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	var cur any = data
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("field %v not an object in %s", path, env.Data)
		}
		cur = m[key]
	}
	return cur
}
