package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/database/memory"
)

func newManager(t *testing.T) (*SessionManager, *memory.Store) {
	t.Helper()
	store := memory.New()
	sm := NewSessionManager("test-secret", store, nil)
	t.Cleanup(sm.Stop)
	return sm, store
}

func sessionCookie(t *testing.T, sm *SessionManager, session *Session) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	sm.SetSessionCookie(w, httptest.NewRequest(http.MethodGet, "/", nil), session)
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestSessionManager_CreateSession(t *testing.T) {
	sm, store := newManager(t)
	ctx := context.Background()

	session, err := sm.CreateSession(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.ID == "" {
		t.Error("session ID is empty")
	}
	if session.ExpiresAt.Before(time.Now()) {
		t.Error("session expires in the past")
	}

	doc, err := store.Get(ctx, constants.SessionCollection, session.ID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if doc.Data["email"] != "admin@example.com" {
		t.Errorf("stored email = %v", doc.Data["email"])
	}
}

func TestSessionManager_SurvivesRestart(t *testing.T) {
	sm, store := newManager(t)
	ctx := context.Background()
	session, _ := sm.CreateSession(ctx, "admin@example.com")

	restarted := NewSessionManager("test-secret", store, nil)
	defer restarted.Stop()

	got := restarted.GetSession(ctx, session.ID)
	if got == nil {
		t.Fatal("GetSession() after restart returned nil")
	}
	if got.Email != "admin@example.com" {
		t.Errorf("Email = %q", got.Email)
	}
}

func TestSessionManager_GetSession(t *testing.T) {
	sm, _ := newManager(t)
	ctx := context.Background()
	session, _ := sm.CreateSession(ctx, "admin@example.com")

	if sm.GetSession(ctx, session.ID) == nil {
		t.Fatal("GetSession() returned nil for existing session")
	}
	if sm.GetSession(ctx, "nonexistent-id") != nil {
		t.Error("GetSession() should return nil for non-existing session")
	}
}

func TestSessionManager_Expired(t *testing.T) {
	sm, store := newManager(t)
	ctx := context.Background()
	session, _ := sm.CreateSession(ctx, "admin@example.com")

	sm.now = func() time.Time { return time.Now().Add(sessionDuration + time.Minute) }

	if sm.GetSession(ctx, session.ID) != nil {
		t.Error("expired session returned")
	}
	if _, err := store.Get(ctx, constants.SessionCollection, session.ID); err == nil {
		t.Error("expired session still stored")
	}
}

func TestSessionManager_RemoveExpired(t *testing.T) {
	sm, _ := newManager(t)
	ctx := context.Background()
	session, _ := sm.CreateSession(ctx, "admin@example.com")

	sm.now = func() time.Time { return time.Now().Add(sessionDuration + time.Minute) }
	sm.removeExpired(ctx)

	sm.mu.RLock()
	_, ok := sm.sessions[session.ID]
	sm.mu.RUnlock()
	if ok {
		t.Error("expired session not removed")
	}
}

func TestSessionManager_DeleteSession(t *testing.T) {
	sm, store := newManager(t)
	ctx := context.Background()
	session, _ := sm.CreateSession(ctx, "admin@example.com")

	sm.DeleteSession(ctx, session.ID)

	if sm.GetSession(ctx, session.ID) != nil {
		t.Error("GetSession() should return nil after deletion")
	}
	if _, err := store.Get(ctx, constants.SessionCollection, session.ID); err == nil {
		t.Error("deleted session still stored")
	}
}

func TestSessionManager_Cookie(t *testing.T) {
	sm, _ := newManager(t)
	session, _ := sm.CreateSession(context.Background(), "admin@example.com")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(t, sm, session))

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil")
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestSessionManager_InvalidCookie(t *testing.T) {
	sm, _ := newManager(t)
	session, _ := sm.CreateSession(context.Background(), "admin@example.com")

	tests := []struct {
		name  string
		value string
	}{
		{"garbage", "invalid-session.invalid-signature"},
		{"no signature", session.ID},
		{"foreign signature", session.ID + "." + NewSessionManager("other", nil, nil).signData(session.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.value})
			if sm.GetSessionFromRequest(req) != nil {
				t.Error("GetSessionFromRequest() should return nil")
			}
		})
	}
}

func TestSessionManager_BearerAuth(t *testing.T) {
	sm, _ := newManager(t)
	session, _ := sm.CreateSession(context.Background(), "admin@example.com")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil || retrieved.ID != session.ID {
		t.Fatalf("GetSessionFromRequest() = %v", retrieved)
	}
}

func TestRequireAuth(t *testing.T) {
	sm, _ := newManager(t)
	session, _ := sm.CreateSession(context.Background(), "admin@example.com")

	var seen *Session
	handler := RequireAuth(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("without session", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("with session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+session.ID)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if seen == nil || seen.Email != "admin@example.com" {
			t.Errorf("session in context = %v", seen)
		}
	})
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://kiosk.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		origin string
		allow  bool
	}{
		{"https://kiosk.example.com", true},
		{"http://localhost:5173", true},
		{"http://localhost.evil.com", false},
		{"https://evil.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			got := w.Header().Get("Access-Control-Allow-Origin") == tt.origin && tt.origin != ""
			if got != tt.allow {
				t.Errorf("allowed = %v, want %v", got, tt.allow)
			}
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
}
