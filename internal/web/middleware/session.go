package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/database"
)

const (
	sessionCookieName = "attendance_session"
	sessionDuration   = 12 * time.Hour
	cleanupInterval   = 10 * time.Minute
)

// Session represents an administrator session.
type Session struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionManager handles session creation and validation. Sessions are kept
// in memory and written through to the sessions collection when a store is
// configured, so a restarted server still accepts issued cookies.
type SessionManager struct {
	secret   []byte
	sessions map[string]*Session
	mu       sync.RWMutex
	store    database.Store
	logger   *zap.Logger
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a new session manager. store may be nil.
func NewSessionManager(secret string, store database.Store, logger *zap.Logger) *SessionManager {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = "attendance-terminal-dev-secret-change-in-production"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &SessionManager{
		secret:   []byte(secret),
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go sm.cleanupLoop()
	return sm
}

// CreateSession creates a new session for an authenticated administrator.
func (sm *SessionManager) CreateSession(ctx context.Context, email string) (*Session, error) {
	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, err
	}

	now := sm.now()
	session := &Session{
		ID:        base64.RawURLEncoding.EncodeToString(idBytes),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionDuration),
	}

	if sm.store != nil {
		data, err := database.NormalizeData(session)
		if err != nil {
			return nil, err
		}
		if err := sm.store.Put(ctx, constants.SessionCollection, session.ID, data); err != nil {
			return nil, err
		}
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by ID, falling back to the store for
// sessions issued before a restart.
func (sm *SessionManager) GetSession(ctx context.Context, sessionID string) *Session {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if !ok {
		session = sm.loadSession(ctx, sessionID)
		if session == nil {
			return nil
		}
	}

	if sm.now().After(session.ExpiresAt) {
		sm.DeleteSession(ctx, sessionID)
		return nil
	}
	return session
}

func (sm *SessionManager) loadSession(ctx context.Context, sessionID string) *Session {
	if sm.store == nil || database.ValidateKey(sessionID) != nil {
		return nil
	}
	doc, err := sm.store.Get(ctx, constants.SessionCollection, sessionID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			sm.logger.Warn("failed to load session", zap.Error(err))
		}
		return nil
	}
	var session Session
	if err := doc.Decode(&session); err != nil {
		sm.logger.Warn("discarding unreadable session", zap.Error(err))
		return nil
	}
	session.ID = doc.Key

	sm.mu.Lock()
	sm.sessions[session.ID] = &session
	sm.mu.Unlock()
	return &session
}

// DeleteSession removes a session.
func (sm *SessionManager) DeleteSession(ctx context.Context, sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if sm.store != nil && database.ValidateKey(sessionID) == nil {
		if err := sm.store.Delete(ctx, constants.SessionCollection, sessionID); err != nil {
			sm.logger.Warn("failed to delete session", zap.Error(err))
		}
	}
}

// Stop ends the cleanup goroutine.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stop) })
}

func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.removeExpired(context.Background())
		}
	}
}

func (sm *SessionManager) removeExpired(ctx context.Context) {
	now := sm.now()
	var expired []string
	sm.mu.RLock()
	for id, s := range sm.sessions {
		if now.After(s.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	sm.mu.RUnlock()

	for _, id := range expired {
		sm.DeleteSession(ctx, id)
	}
}

// SetSessionCookie sets the session cookie on the response.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID + "." + sm.signData(session.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie.
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from the signed cookie or a
// bearer token.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	ctx := r.Context()
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sessionID, signature, ok := strings.Cut(cookie.Value, ".")
		if ok && sm.verifySignature(sessionID, signature) {
			if session := sm.GetSession(ctx, sessionID); session != nil {
				return session
			}
		}
	}

	if sessionID, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && sessionID != "" {
		return sm.GetSession(ctx, sessionID)
	}
	return nil
}

// signData creates an HMAC signature for data
func (sm *SessionManager) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature
func (sm *SessionManager) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SessionData is the public part of a session.
type SessionData struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	ExpiresAt string `json:"expiresAt"`
}

// ToJSON returns the session data for JSON responses.
func (s *Session) ToJSON() SessionData {
	return SessionData{
		SessionID: s.ID,
		Email:     s.Email,
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}
}
