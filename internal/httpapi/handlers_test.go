package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/auth"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/config"

	"github.com/gin-gonic/gin"
)

func testAuthManager(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret-test-secret-test-secret",
		JWTIssuer:       "api-test",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	return m
}

func identityMiddleware(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestLogin_IssuesVerifiableTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := testAuthManager(t)
	h := Handlers{Auth: m}

	r := gin.New()
	r.POST("/login", h.Login)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user_id":"u1","role":"user"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("expected tokens in response, got %s", w.Body.String())
	}
}

func TestLogin_RejectsMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handlers{Auth: testAuthManager(t)}

	r := gin.New()
	r.POST("/login", h.Login)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStartCall_RequiresAuthenticatedContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handlers{}

	r := gin.New()
	r.POST("/calls", h.StartCall)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"agent_id":"a","phone_number":"+1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStartCall_RejectsMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handlers{}

	r := gin.New()
	r.POST("/calls", identityMiddleware("u1", "user"), h.StartCall)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"agent_id":"a"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestParseLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=9999", 50},
		{"limit=abc", 50},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		if got := parseLimit(c, 50); got != tc.want {
			t.Fatalf("parseLimit(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}
