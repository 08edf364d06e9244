package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/database/memory"
	"github.com/kozaktomas/attendance-terminal/internal/extractor"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
	"github.com/kozaktomas/attendance-terminal/internal/recorder"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
	"github.com/kozaktomas/attendance-terminal/internal/web/middleware"
)

const (
	testEmail    = "admin@example.com"
	testPassword = "s3cret"
	testToday    = "2026-10-17"
)

var (
	aliceDesc = facematch.Descriptor{0.1, 0.2, 0.3}
	bobDesc   = facematch.Descriptor{0.9, 0.8, 0.7}
)

// testEnv wires handlers over an in-memory store.
type testEnv struct {
	store    *memory.Store
	cache    *roster.Cache
	creds    *admin.Credentials
	service  *admin.Service
	sessions *middleware.SessionManager
	recorder *recorder.Recorder
	detected facematch.Descriptor
	happy    float64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	env := &testEnv{
		store:    memory.New(),
		cache:    roster.NewCache(nil),
		creds:    admin.NewCredentials(config.AdminConfig{Email: testEmail, PasswordHash: string(hash)}),
		detected: aliceDesc,
		happy:    0.9,
	}
	clock := time.Date(2026, 10, 17, 9, 15, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	detector := extractor.DetectorFunc(func(context.Context, []byte) (*extractor.Detection, error) {
		if env.detected == nil {
			return nil, extractor.ErrNoFace
		}
		return &extractor.Detection{
			Descriptor:  env.detected,
			Expressions: facematch.Expressions{facematch.ExpressionHappy: env.happy},
			FacesCount:  1,
		}, nil
	})

	env.service = admin.NewService(env.store,
		admin.WithDetector(detector),
		admin.WithCredentials(env.creds),
		admin.WithLocation(time.UTC),
		admin.WithClock(now))
	env.sessions = middleware.NewSessionManager("test-secret", env.store, nil)
	t.Cleanup(env.sessions.Stop)
	env.recorder = recorder.New(recorder.Options{
		Store:    env.store,
		Roster:   env.cache,
		Detector: detector,
		Location: time.UTC,
		Now:      now,
	})
	return env
}

// enroll stores an identity and refreshes the cache.
func (e *testEnv) enroll(t *testing.T, cat roster.Category, id, name, secondary string, desc facematch.Descriptor) {
	t.Helper()
	ident := roster.Identity{ID: id, Category: cat, DisplayName: name, SecondaryID: secondary, Descriptor: desc}
	ctx := context.Background()
	if err := e.store.Put(ctx, cat.Collection(), id, ident.Document()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := e.cache.Load(ctx, e.store, cat); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

// present stores a Present record.
func (e *testEnv) present(t *testing.T, cat roster.Category, date, id, entry string) {
	t.Helper()
	p := database.NewPatch().Set("records."+id, map[string]any{"status": "Present", "entryTime": entry})
	if err := e.store.Merge(context.Background(), cat.AttendanceCollection(), date, p); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
}

// authed attaches an administrator session to the request context.
func authed(r *http.Request) *http.Request {
	session := &middleware.Session{ID: "test-session", Email: testEmail, ExpiresAt: time.Now().Add(time.Hour)}
	return r.WithContext(middleware.SetSessionInContext(r.Context(), session))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartRequest builds a multipart form request with an optional image.
func multipartRequest(t *testing.T, method, path string, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "frame.jpg")
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		fw.Write(image)
	}
	mw.Close()

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, rec.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, rec *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rec.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, rec.Code, rec.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, rec *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := rec.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, rec *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, rec.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }
