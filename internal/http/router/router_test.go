package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/health"
	"github.com/owlby/owlby-backend/internal/http/handler"
	"github.com/owlby/owlby-backend/internal/repository"
	"github.com/owlby/owlby-backend/internal/security"
	"github.com/owlby/owlby-backend/internal/service"
)

func newGatewayForTest(t *testing.T) (http.Handler, Dependencies) {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.LearningNode{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321")
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	nodeRepo := repository.NewLearningNodeRepository(db)
	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, "pepper-1234567890", 15*time.Minute, 24*time.Hour)
	authSvc := service.NewAuthService(service.AuthServiceParams{
		UserRepo:        userRepo,
		TokenService:    tokenSvc,
		SessionRepo:     sessionRepo,
		OneTimeTokens:   service.NewMemoryOneTimeTokenStore(),
		Mailer:          service.NewLogMailer(nil),
		Google:          nil,
		Apple:           nil,
		Pepper:          "pepper-1234567890",
		ResetTTL:        time.Hour,
		VerificationTTL: 24 * time.Hour,
	})

	dep := Dependencies{
		AuthHandler:         handler.NewAuthHandler(authSvc),
		UserHandler:         handler.NewUserHandler(),
		LearningNodeHandler: handler.NewLearningNodeHandler(nodeRepo),
		JWTManager:          jwtMgr,
		UserResolver:        userRepo.FindByID,
		CORSOrigins:         []string{"http://localhost"},
		AuthRateLimitRPM:    1000,
		APIRateLimitRPM:     1000,
	}
	return NewRouter(dep), dep
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	data, _ := env["data"].(map[string]any)
	return data
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	errObj, _ := env["error"].(map[string]any)
	msg, _ := errObj["message"].(string)
	return msg
}

func TestRegisterLoginMeScenario(t *testing.T) {
	r, _ := newGatewayForTest(t)

	// Register.
	rr := perform(r, http.MethodPost, "/api/auth/register", nil, `{"email":"alice@example.com","password":"pw123","name":"Alice"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := decodeData(t, rr)
	user, _ := data["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Fatalf("expected registered email, got %v", user["email"])
	}
	registeredID, _ := user["id"].(string)
	if registeredID == "" {
		t.Fatal("expected a user id")
	}

	// Login with the same credentials resolves the same user.
	rr = perform(r, http.MethodPost, "/api/auth/login", nil, `{"email":"alice@example.com","password":"pw123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	data = decodeData(t, rr)
	user, _ = data["user"].(map[string]any)
	if user["id"] != registeredID {
		t.Fatalf("expected same user id %s, got %v", registeredID, user["id"])
	}
	accessToken, _ := data["access_token"].(string)

	// Wrong password is a generic 401.
	rr = perform(r, http.MethodPost, "/api/auth/login", nil, `{"email":"alice@example.com","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password expected 401, got %d", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != "Invalid credentials" {
		t.Fatalf("expected 'Invalid credentials', got %q", msg)
	}

	// Unknown email yields the identical message.
	rr = perform(r, http.MethodPost, "/api/auth/login", nil, `{"email":"nobody@example.com","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized || errorMessage(t, rr) != "Invalid credentials" {
		t.Fatalf("unknown email expected identical 401, got %d", rr.Code)
	}

	// /me without a header is rejected.
	rr = perform(r, http.MethodGet, "/api/auth/me", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("me without header expected 401, got %d", rr.Code)
	}

	// /me with the bearer resolves the account.
	rr = perform(r, http.MethodGet, "/api/auth/me", map[string]string{"Authorization": "Bearer " + accessToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("me expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	data = decodeData(t, rr)
	user, _ = data["user"].(map[string]any)
	if user["id"] != registeredID {
		t.Fatalf("expected me to return user %s, got %v", registeredID, user["id"])
	}
}

func TestRegisterDuplicateEmailIs400(t *testing.T) {
	r, _ := newGatewayForTest(t)

	rr := perform(r, http.MethodPost, "/api/auth/register", nil, `{"email":"bob@example.com","password":"pw123"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d", rr.Code)
	}
	rr = perform(r, http.MethodPost, "/api/auth/register", nil, `{"email":"bob@example.com","password":"other"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register expected 400, got %d", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != "User already exists" {
		t.Fatalf("expected 'User already exists', got %q", msg)
	}
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	r, _ := newGatewayForTest(t)

	rr := perform(r, http.MethodPost, "/api/auth/register", nil, `{"email":"carol@example.com","password":"pw123"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d", rr.Code)
	}
	data := decodeData(t, rr)
	refreshToken, _ := data["refresh_token"].(string)

	rr = perform(r, http.MethodPost, "/api/auth/refresh", nil, `{"refresh_token":"`+refreshToken+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	data = decodeData(t, rr)
	if data["refresh_token"] == refreshToken {
		t.Fatal("expected rotation to mint a new refresh token")
	}

	// The old token is now dead.
	rr = perform(r, http.MethodPost, "/api/auth/refresh", nil, `{"refresh_token":"`+refreshToken+`"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh expected 401, got %d", rr.Code)
	}
}

func TestPasswordResetRequestAlwaysSucceeds(t *testing.T) {
	r, _ := newGatewayForTest(t)

	known := perform(r, http.MethodPost, "/api/auth/register", nil, `{"email":"dora@example.com","password":"pw123"}`)
	if known.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d", known.Code)
	}

	a := perform(r, http.MethodPost, "/api/auth/reset-password/request", nil, `{"email":"dora@example.com"}`)
	b := perform(r, http.MethodPost, "/api/auth/reset-password/request", nil, `{"email":"ghost@example.com"}`)
	if a.Code != http.StatusOK || b.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", a.Code, b.Code)
	}
	da := decodeData(t, a)
	db := decodeData(t, b)
	if da["message"] != db["message"] {
		t.Fatalf("expected identical messages, got %v vs %v", da["message"], db["message"])
	}
}

func TestAppleSignInNotConfiguredIs501(t *testing.T) {
	r, _ := newGatewayForTest(t)

	rr := perform(r, http.MethodPost, "/api/auth/apple", nil, `{"token":"some-apple-token"}`)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for unconfigured apple sign-in, got %d", rr.Code)
	}
}

func TestLearningNodesRequireAuth(t *testing.T) {
	r, _ := newGatewayForTest(t)

	rr := perform(r, http.MethodGet, "/api/learning-nodes/", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	reg := perform(r, http.MethodPost, "/api/auth/register", nil, `{"email":"eve@example.com","password":"pw123"}`)
	data := decodeData(t, reg)
	token, _ := data["access_token"].(string)
	auth := map[string]string{"Authorization": "Bearer " + token}

	rr = perform(r, http.MethodPost, "/api/learning-nodes/", auth, `{"title":"Fractions","content":"intro","difficulty":"easy","topic":"math"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create node expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	node := decodeData(t, rr)
	nodeID, _ := node["id"].(string)

	rr = perform(r, http.MethodGet, "/api/learning-nodes/"+nodeID, auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get node expected 200, got %d", rr.Code)
	}

	rr = perform(r, http.MethodGet, "/api/learning-nodes/?topic=math", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list nodes expected 200, got %d", rr.Code)
	}

	rr = perform(r, http.MethodDelete, "/api/learning-nodes/"+nodeID, auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete node expected 200, got %d", rr.Code)
	}
	rr = perform(r, http.MethodGet, "/api/learning-nodes/"+nodeID, auth, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted node expected 404, got %d", rr.Code)
	}
}

func TestLearningNodeCreateRequiresAllFields(t *testing.T) {
	r, _ := newGatewayForTest(t)

	reg := perform(r, http.MethodPost, "/api/auth/register", nil, `{"email":"frank@example.com","password":"pw123"}`)
	data := decodeData(t, reg)
	token, _ := data["access_token"].(string)
	auth := map[string]string{"Authorization": "Bearer " + token}

	for name, body := range map[string]string{
		"missing content and difficulty": `{"title":"t","topic":"math"}`,
		"missing title":                  `{"content":"c","difficulty":"easy","topic":"math"}`,
		"missing topic":                  `{"title":"t","content":"c","difficulty":"easy"}`,
		"empty difficulty":               `{"title":"t","content":"c","difficulty":"","topic":"math"}`,
	} {
		rr := perform(r, http.MethodPost, "/api/learning-nodes/", auth, body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%s", name, rr.Code, rr.Body.String())
		}
	}

	rr := perform(r, http.MethodPost, "/api/learning-nodes/", auth, `{"title":"t","content":"c","difficulty":"easy","topic":"math"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("complete payload expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := newGatewayForTest(t)

	rr := perform(r, http.MethodGet, "/api/health", nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected ok health payload, got %d %s", rr.Code, rr.Body.String())
	}

	rr = perform(r, http.MethodGet, "/api/health/ready", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected trivially ready, got %d", rr.Code)
	}
}

func TestHealthReadyReports503WhenCheckFails(t *testing.T) {
	_, dep := newGatewayForTest(t)
	probe := health.NewProbeRunner(time.Second)
	probe.Register("db", func(context.Context) error { return errors.New("db down") })
	dep.Readiness = probe
	r := NewRouter(dep)

	rr := perform(r, http.MethodGet, "/api/health/ready", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
		t.Fatalf("expected DEPENDENCY_UNREADY envelope, got %s", rr.Body.String())
	}
}

func TestPreflightIsOpenAndEmpty(t *testing.T) {
	r, _ := newGatewayForTest(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("preflight expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("preflight expected empty body, got %q", rr.Body.String())
	}
}

func TestAuthRateLimitOnLogin(t *testing.T) {
	_, dep := newGatewayForTest(t)
	dep.AuthRateLimitRPM = 2
	r := NewRouter(dep)

	var last int
	for i := 0; i < 3; i++ {
		rr := perform(r, http.MethodPost, "/api/auth/login", nil, `{"email":"x@y.com","password":"z"}`)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected third login attempt limited, got %d", last)
	}
}
