package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

func newIdentitiesHandler(env *testEnv) *IdentitiesHandler {
	return NewIdentitiesHandler(env.service, env.creds, env.cache, NewJobManager(), 0, zapNop())
}

func enrollForm(name, secondary string) map[string]string {
	return map[string]string{
		"displayName":    name,
		"secondaryId":    secondary,
		"email":          "alice@example.com",
		"branch":         "CSE",
		"imageReference": "data:image/jpeg;base64,AAAA",
	}
}

func TestIdentitiesHandler_Enroll(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	req := multipartRequest(t, http.MethodPost, "/api/v1/identities/student", enrollForm("Alice", "S1"), []byte("photo"))
	req = requestWithChiParams(authed(req), map[string]string{"category": "student"})
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	assertStatusCode(t, rec, http.StatusCreated)
	var got IdentityResponse
	parseJSONResponse(t, rec, &got)
	if got.ID == "" || got.DisplayName != "Alice" || got.SecondaryID != "S1" || !got.HasDescriptor {
		t.Errorf("enrolled = %+v", got)
	}

	doc, err := env.store.Get(context.Background(), roster.Student.Collection(), got.ID)
	if err != nil {
		t.Fatalf("identity not stored: %v", err)
	}
	if doc.Data["studentId"] != "S1" {
		t.Errorf("stored document = %v", doc.Data)
	}
}

func TestIdentitiesHandler_Enroll_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, env *testEnv)
		fields     map[string]string
		image      []byte
		wantStatus int
	}{
		{
			name: "same face already enrolled",
			setup: func(t *testing.T, env *testEnv) {
				env.enroll(t, roster.Student, "s1", "Alice", "S1", aliceDesc)
			},
			fields:     enrollForm("Alicia", "S9"),
			image:      []byte("photo"),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "no image",
			fields:     enrollForm("Alice", "S1"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing name",
			fields:     enrollForm("", "S1"),
			image:      []byte("photo"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no face in photo",
			setup:      func(_ *testing.T, env *testEnv) { env.detected = nil },
			fields:     enrollForm("Alice", "S1"),
			image:      []byte("photo"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(t, env)
			}
			h := newIdentitiesHandler(env)

			req := multipartRequest(t, http.MethodPost, "/api/v1/identities/student", tt.fields, tt.image)
			req = requestWithChiParams(authed(req), map[string]string{"category": "student"})
			rec := httptest.NewRecorder()
			h.Enroll(rec, req)

			assertStatusCode(t, rec, tt.wantStatus)
		})
	}
}

func TestIdentitiesHandler_List(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, roster.Student, "s1", "Alice Smith", "S1", aliceDesc)
	env.enroll(t, roster.Student, "s2", "Bob Jones", "S2", bobDesc)
	h := newIdentitiesHandler(env)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{"all", "", []string{"s1", "s2"}},
		{"by name", "?q=alice", []string{"s1"}},
		{"no match", "?q=carol", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/identities/student"+tt.query, nil)
			req = requestWithChiParams(authed(req), map[string]string{"category": "student"})
			rec := httptest.NewRecorder()
			h.List(rec, req)

			assertStatusCode(t, rec, http.StatusOK)
			var got []IdentityResponse
			parseJSONResponse(t, rec, &got)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d identities, want %d", len(got), len(tt.wantIDs))
			}
			seen := map[string]bool{}
			for _, g := range got {
				seen[g.ID] = true
			}
			for _, id := range tt.wantIDs {
				if !seen[id] {
					t.Errorf("missing %s in %+v", id, got)
				}
			}
		})
	}
}

func TestIdentitiesHandler_Get_NotFound(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/identities/faculty/missing", nil)
	req = requestWithChiParams(authed(req), map[string]string{"category": "faculty", "id": "missing"})
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}

func deleteRequestFor(id, password string) *http.Request {
	body := bytes.NewBufferString(`{"password": "` + password + `"}`)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/identities/student/"+id, body)
	return requestWithChiParams(authed(req), map[string]string{"category": "student", "id": id})
}

func TestIdentitiesHandler_Delete_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, roster.Student, "s1", "Alice", "S1", aliceDesc)
	env.present(t, roster.Student, testToday, "s1", "09:00:00")
	h := newIdentitiesHandler(env)

	rec := httptest.NewRecorder()
	h.Delete(rec, deleteRequestFor("s1", "guess"))

	assertStatusCode(t, rec, http.StatusUnauthorized)
	if _, err := env.store.Get(context.Background(), roster.Student.Collection(), "s1"); err != nil {
		t.Errorf("identity removed despite wrong password: %v", err)
	}
	if len(h.jobs.ListJobs()) != 0 {
		t.Error("no job should be started")
	}
}

func TestIdentitiesHandler_Delete_Cascades(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, roster.Student, "s1", "Alice", "S1", aliceDesc)
	env.enroll(t, roster.Student, "s2", "Bob", "S2", bobDesc)
	env.present(t, roster.Student, "2026-10-15", "s1", "09:00:00")
	env.present(t, roster.Student, "2026-10-16", "s1", "09:05:00")
	env.present(t, roster.Student, "2026-10-16", "s2", "09:10:00")
	h := newIdentitiesHandler(env)

	rec := httptest.NewRecorder()
	h.Delete(rec, deleteRequestFor("s1", testPassword))
	assertStatusCode(t, rec, http.StatusAccepted)

	var started DeleteJob
	parseJSONResponse(t, rec, &started)
	job := h.jobs.GetJob(started.ID)
	if job == nil {
		t.Fatalf("job %q not registered", started.ID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !isJobTerminal(job.GetStatus()) {
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", job.GetStatus())
		}
		time.Sleep(10 * time.Millisecond)
	}

	snap := job.Snapshot()
	if snap.Status != JobStatusCompleted || snap.Deleted != 2 {
		t.Errorf("job = %+v", snap)
	}

	ctx := context.Background()
	if _, err := env.store.Get(ctx, roster.Student.Collection(), "s1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("identity still stored: %v", err)
	}
	day, err := env.store.Get(ctx, roster.Student.AttendanceCollection(), "2026-10-16")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	records := day.Data["records"].(map[string]any)
	if _, ok := records["s1"]; ok {
		t.Error("attendance of the deleted identity survived")
	}
	if _, ok := records["s2"]; !ok {
		t.Error("attendance of another identity was removed")
	}
}

func TestIdentitiesHandler_JobStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil), map[string]string{"jobId": "nope"})
	rec := httptest.NewRecorder()
	h.JobStatus(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
	assertJSONError(t, rec, "job not found")
}
