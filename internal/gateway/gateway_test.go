package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yourusername/voyage-cms/internal/auth"
	"github.com/yourusername/voyage-cms/internal/ratelimit"
)

const testSecret = "gateway-test-secret"

type testEnv struct {
	router *gin.Engine
	tokens *auth.TokenManager
}

func newTestEnv(t *testing.T, generalLimit, sensitiveLimit int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewTokenManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager error: %v", err)
	}
	store := ratelimit.NewMemoryStore()
	general, err := ratelimit.New("general", store, ratelimit.Rule{Limit: generalLimit, Window: time.Minute})
	if err != nil {
		t.Fatalf("ratelimit.New error: %v", err)
	}
	sensitive, err := ratelimit.New("login", store, ratelimit.Rule{Limit: sensitiveLimit, Window: 15 * time.Minute})
	if err != nil {
		t.Fatalf("ratelimit.New error: %v", err)
	}

	gw, err := New(Config{
		Verifier:  tokens,
		General:   general,
		Sensitive: sensitive,
		Cookie:    auth.CookieConfig{MaxAge: time.Hour},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	router := gin.New()
	router.Use(gw.Middleware())
	ok := func(c *gin.Context) {
		body := gin.H{"reached": true}
		if claims, found := auth.ClaimsFromGin(c); found {
			body["userId"] = claims.UserID
		}
		c.JSON(http.StatusOK, body)
	}
	router.GET("/api/cms/tours", ok)
	router.GET("/api/public/tours", ok)
	router.POST("/api/auth/login", ok)
	router.GET("/fonok", ok)
	router.GET("/fonok/dashboard", ok)
	router.GET("/uploads/a.png", ok)
	router.GET("/en/about", ok)

	return &testEnv{router: router, tokens: tokens}
}

func (e *testEnv) do(method, target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "203.0.113.7:40000"
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) validCookie(t *testing.T) *http.Cookie {
	t.Helper()
	raw, _, err := e.tokens.Issue(&auth.User{ID: "u-1", Username: "fonok"})
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	return &http.Cookie{Name: auth.SessionCookieName, Value: raw}
}

func expiredCookie(t *testing.T) *http.Cookie {
	t.Helper()
	issued := time.Now().Add(-2 * time.Hour)
	claims := auth.Claims{
		UserID:   "u-1",
		Username: "fonok",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	return &http.Cookie{Name: auth.SessionCookieName, Value: raw}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestProtectedAPIWithoutCookie(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	rec := env.do(http.MethodGet, "/api/cms/tours", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q, want JSON", ct)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["code"] != "AUTHENTICATION_REQUIRED" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProtectedAPIWithGarbageCookie(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	rec := env.do(http.MethodGet, "/api/cms/tours", &http.Cookie{Name: auth.SessionCookieName, Value: "garbage"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "INVALID_TOKEN" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProtectedAPIWithValidCookie(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	rec := env.do(http.MethodGet, "/api/cms/tours", env.validCookie(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["userId"] != "u-1" {
		t.Fatalf("identity not attached: %v", body)
	}
}

func TestProtectedPageWithoutCookieRedirects(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	rec := env.do(http.MethodGet, "/fonok/dashboard", nil)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/fonok" {
		t.Fatalf("Location = %q, want /fonok", loc)
	}
	if sc := rec.Header().Get("Set-Cookie"); sc != "" {
		t.Fatalf("missing cookie must not be cleared, got %q", sc)
	}
}

func TestProtectedPageWithExpiredCookieClearsIt(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	rec := env.do(http.MethodGet, "/fonok/dashboard", expiredCookie(t))
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/fonok" {
		t.Fatalf("Location = %q, want /fonok", loc)
	}

	resp := rec.Result()
	defer resp.Body.Close()
	var cleared *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookieName {
			cleared = c
		}
	}
	if cleared == nil {
		t.Fatal("expected Set-Cookie clearing the token")
	}
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("cookie not cleared: %+v", cleared)
	}
}

func TestLoginPageIsPublic(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	rec := env.do(http.MethodGet, "/fonok", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRootRedirectsToDefaultLanguage(t *testing.T) {
	env := newTestEnv(t, 1, 1)

	for i := 0; i < 3; i++ {
		rec := env.do(http.MethodGet, "/", nil)
		if rec.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d, want 307", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/en" {
			t.Fatalf("Location = %q, want /en", loc)
		}
	}
}

func TestStaticBypassesRateLimit(t *testing.T) {
	env := newTestEnv(t, 1, 1)

	for i := 0; i < 5; i++ {
		rec := env.do(http.MethodGet, "/uploads/a.png", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestGeneralRateLimit(t *testing.T) {
	env := newTestEnv(t, 2, 10)

	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodGet, "/en/about", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := env.do(http.MethodGet, "/en/about", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if body := decodeBody(t, rec); body["code"] != "TOO_MANY_REQUESTS" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRateLimitAppliesBeforeAuth(t *testing.T) {
	env := newTestEnv(t, 1, 10)
	cookie := env.validCookie(t)

	if rec := env.do(http.MethodGet, "/fonok/dashboard", cookie); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	rec := env.do(http.MethodGet, "/fonok/dashboard", cookie)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("page 429 should be JSON, got %q", ct)
	}
}

func TestSensitiveRouteLimit(t *testing.T) {
	env := newTestEnv(t, 100, 2)

	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodPost, "/api/auth/login", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
	rec := env.do(http.MethodPost, "/api/auth/login", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "TOO_MANY_ATTEMPTS" {
		t.Fatalf("unexpected body: %v", body)
	}

	if rec := env.do(http.MethodGet, "/api/public/tours", nil); rec.Code != http.StatusOK {
		t.Fatalf("other routes should stay open, got %d", rec.Code)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Consume(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, ratelimit.ErrStoreUnavailable
}

func TestLimiterFailureRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens, err := auth.NewTokenManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager error: %v", err)
	}
	gw, err := New(Config{Verifier: tokens, General: brokenLimiter{}})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/en/about", nil)
	d := gw.Decide(req, "203.0.113.7")
	if d.Action != ActionReject || d.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected decision: %+v", d)
	}
}
