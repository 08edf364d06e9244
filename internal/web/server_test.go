package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/database/memory"
	"github.com/kozaktomas/attendance-terminal/internal/recorder"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	cfg := config.Load()
	cfg.Web.SessionSecret = "test-secret"
	cfg.Admin = config.AdminConfig{Email: "admin@example.com", PasswordHash: string(hash)}

	store := memory.New()
	cache := roster.NewCache(nil)
	creds := admin.NewCredentials(cfg.Admin)
	s := NewServer(cfg, Deps{
		Store:       store,
		Roster:      cache,
		Recorder:    recorder.New(recorder.Options{Store: store, Roster: cache, Location: time.UTC}),
		Admin:       admin.NewService(store, admin.WithCredentials(creds), admin.WithLocation(time.UTC)),
		Credentials: creds,
	})
	t.Cleanup(s.sessionManager.Stop)
	return s
}

func TestServer_PublicRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/api/v1/health", http.StatusOK},
		{"auth status", http.MethodGet, "/api/v1/auth/status", http.StatusOK},
		{"terminal status", http.MethodGet, "/api/v1/terminal/status", http.StatusOK},
		{"spa placeholder", http.MethodGet, "/", http.StatusOK},
		{"client-side route", http.MethodGet, "/admin/students", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_AdminRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/identities/student"},
		{http.MethodPost, "/api/v1/identities/faculty"},
		{http.MethodDelete, "/api/v1/identities/student/s1"},
		{http.MethodGet, "/api/v1/attendance/student/today"},
		{http.MethodPost, "/api/v1/attendance/student/today/s1/toggle"},
		{http.MethodGet, "/api/v1/attendance/student/people/s1/percentage"},
		{http.MethodGet, "/api/v1/analytics/summary"},
		{http.MethodGet, "/api/v1/jobs/abc"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestServer_LoginThenAccessAdminRoute(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email": "admin@example.com", "password": "s3cret"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login did not set a cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/summary", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("summary status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if rec.Header().Get("Permissions-Policy") == "" {
		t.Error("missing Permissions-Policy")
	}
}
