package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kozaktomas/attendance-terminal/internal/report"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

func newAttendanceEnv(t *testing.T) (*testEnv, *AttendanceHandler) {
	t.Helper()
	env := newTestEnv(t)
	env.enroll(t, roster.Student, "s1", "Alice", "S1", aliceDesc)
	env.enroll(t, roster.Student, "s2", "Bob", "S2", bobDesc)
	return env, NewAttendanceHandler(env.service, env.store, env.cache, zapNop())
}

func attendanceRequest(method, date, personID, body string) *http.Request {
	path := "/api/v1/attendance/student/" + date
	if personID != "" {
		path += "/" + personID
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	return requestWithChiParams(authed(req), map[string]string{
		"category": "student",
		"date":     date,
		"personId": personID,
	})
}

func TestAttendanceHandler_Sheet(t *testing.T) {
	env, h := newAttendanceEnv(t)
	env.present(t, roster.Student, testToday, "s1", "09:00:00")

	rec := httptest.NewRecorder()
	h.Sheet(rec, attendanceRequest(http.MethodGet, "today", "", ""))

	assertStatusCode(t, rec, http.StatusOK)
	var sheet report.Sheet
	parseJSONResponse(t, rec, &sheet)
	if sheet.Date != testToday || !sheet.Editable || len(sheet.Rows) != 2 {
		t.Fatalf("sheet = %+v", sheet)
	}
	statuses := map[string]string{}
	for _, row := range sheet.Rows {
		statuses[row.ID] = row.Status
	}
	if statuses["s1"] != "Present" || statuses["s2"] != "Absent" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestAttendanceHandler_Sheet_InvalidDate(t *testing.T) {
	_, h := newAttendanceEnv(t)

	rec := httptest.NewRecorder()
	h.Sheet(rec, attendanceRequest(http.MethodGet, "17-10-2026", "", ""))

	assertStatusCode(t, rec, http.StatusBadRequest)
}

func TestAttendanceHandler_Toggle(t *testing.T) {
	tests := []struct {
		name        string
		date        string
		seed        bool
		unauth      bool
		wantStatus  int
		wantOutcome string
	}{
		{name: "absent becomes present", date: testToday, wantStatus: http.StatusOK, wantOutcome: "marked_present"},
		{name: "present becomes absent", date: testToday, seed: true, wantStatus: http.StatusOK, wantOutcome: "marked_absent"},
		{name: "past day is read-only", date: "2026-10-16", wantStatus: http.StatusBadRequest},
		{name: "without a session", date: testToday, unauth: true, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, h := newAttendanceEnv(t)
			if tt.seed {
				env.present(t, roster.Student, tt.date, "s1", "08:55:00")
			}

			req := attendanceRequest(http.MethodPost, tt.date, "s1", "")
			if tt.unauth {
				req = requestWithChiParams(httptest.NewRequest(http.MethodPost, "/", nil),
					map[string]string{"category": "student", "date": tt.date, "personId": "s1"})
			}
			rec := httptest.NewRecorder()
			h.Toggle(rec, req)

			assertStatusCode(t, rec, tt.wantStatus)
			if tt.wantOutcome == "" {
				return
			}
			var resp DecisionResponse
			parseJSONResponse(t, rec, &resp)
			if resp.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", resp.Outcome, tt.wantOutcome)
			}
		})
	}
}

func TestAttendanceHandler_Edit(t *testing.T) {
	env, h := newAttendanceEnv(t)

	rec := httptest.NewRecorder()
	h.Edit(rec, attendanceRequest(http.MethodPut, "2026-10-16", "s2", `{"entryTime": "08:30:00", "exitTime": "15:00:00"}`))

	assertStatusCode(t, rec, http.StatusOK)
	var resp DecisionResponse
	parseJSONResponse(t, rec, &resp)
	if resp.Outcome != "edited" || resp.Record == nil || resp.Record.ExitTime != "15:00:00" {
		t.Errorf("response = %+v", resp)
	}

	day, err := env.store.Get(context.Background(), roster.Student.AttendanceCollection(), "2026-10-16")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	s2 := day.Data["records"].(map[string]any)["s2"].(map[string]any)
	if s2["entryTime"] != "08:30:00" || s2["status"] != "Present" {
		t.Errorf("stored record = %v", s2)
	}

	t.Run("entry time required", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Edit(rec, attendanceRequest(http.MethodPut, "2026-10-16", "s2", `{"exitTime": "15:00:00"}`))
		assertStatusCode(t, rec, http.StatusBadRequest)
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Edit(rec, attendanceRequest(http.MethodPut, "2026-10-16", "s2", `{`))
		assertStatusCode(t, rec, http.StatusBadRequest)
		assertJSONError(t, rec, errInvalidRequestBody)
	})
}

func TestAttendanceHandler_DeleteRecord(t *testing.T) {
	env, h := newAttendanceEnv(t)
	env.present(t, roster.Student, "2026-10-15", "s1", "09:00:00")

	rec := httptest.NewRecorder()
	h.DeleteRecord(rec, attendanceRequest(http.MethodDelete, "2026-10-15", "s1", ""))

	var resp DecisionResponse
	parseJSONResponse(t, rec, &resp)
	if resp.Outcome != "deleted" {
		t.Errorf("outcome = %q, want deleted", resp.Outcome)
	}

	rec = httptest.NewRecorder()
	h.DeleteRecord(rec, attendanceRequest(http.MethodDelete, "2026-10-15", "s1", ""))
	resp = DecisionResponse{}
	parseJSONResponse(t, rec, &resp)
	if resp.Outcome != "no_record" {
		t.Errorf("second outcome = %q, want no_record", resp.Outcome)
	}
}

func TestAttendanceHandler_Export(t *testing.T) {
	env, h := newAttendanceEnv(t)
	env.present(t, roster.Student, testToday, "s1", "09:00:00")

	t.Run("csv", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Export(rec, attendanceRequest(http.MethodGet, testToday, "", ""))

		assertStatusCode(t, rec, http.StatusOK)
		if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="student_attendance_2026-10-17.csv"` {
			t.Errorf("Content-Disposition = %q", got)
		}
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("csv has %d lines:\n%s", len(lines), rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "Alice") || !strings.Contains(rec.Body.String(), "09:00:00") {
			t.Errorf("csv = %s", rec.Body.String())
		}
	})

	t.Run("xlsx", func(t *testing.T) {
		req := attendanceRequest(http.MethodGet, testToday, "", "")
		req.URL.RawQuery = "format=xlsx"
		rec := httptest.NewRecorder()
		h.Export(rec, req)

		assertStatusCode(t, rec, http.StatusOK)
		f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
		if err != nil {
			t.Fatalf("OpenReader() error = %v", err)
		}
		defer f.Close()
		rows, err := f.GetRows("student 2026-10-17")
		if err != nil {
			t.Fatalf("GetRows() error = %v", err)
		}
		if len(rows) != 3 {
			t.Errorf("got %d rows, want 3", len(rows))
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		req := attendanceRequest(http.MethodGet, testToday, "", "")
		req.URL.RawQuery = "format=pdf"
		rec := httptest.NewRecorder()
		h.Export(rec, req)
		assertStatusCode(t, rec, http.StatusBadRequest)
	})
}

func TestAttendanceHandler_Percentage(t *testing.T) {
	env, h := newAttendanceEnv(t)
	env.present(t, roster.Student, "2026-10-14", "s1", "09:00:00")
	env.present(t, roster.Student, "2026-10-15", "s2", "09:00:00")
	env.present(t, roster.Student, "2026-10-16", "s1", "09:00:00")
	env.present(t, roster.Student, "2026-10-17", "s1", "09:00:00")

	rec := httptest.NewRecorder()
	h.Percentage(rec, attendanceRequest(http.MethodGet, "", "s1", ""))

	assertStatusCode(t, rec, http.StatusOK)
	var got map[string]any
	parseJSONResponse(t, rec, &got)
	if got["percentage"] != "75.0%" || got["present"] != 3.0 || got["total"] != 4.0 {
		t.Errorf("percentage = %v", got)
	}
}

func TestAttendanceHandler_Percentage_StoreError(t *testing.T) {
	env, h := newAttendanceEnv(t)
	env.store.ListError = errors.New("connection reset")

	rec := httptest.NewRecorder()
	h.Percentage(rec, attendanceRequest(http.MethodGet, "", "s1", ""))

	assertStatusCode(t, rec, http.StatusInternalServerError)
}

func TestAttendanceHandler_Summary(t *testing.T) {
	env, h := newAttendanceEnv(t)
	env.enroll(t, roster.Faculty, "f1", "Prof", "F1", aliceDesc)
	env.present(t, roster.Student, testToday, "s1", "09:00:00")
	env.present(t, roster.Faculty, testToday, "f1", "08:45:00")

	rec := httptest.NewRecorder()
	h.Summary(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/analytics/summary", nil)))

	assertStatusCode(t, rec, http.StatusOK)
	var summary report.Summary
	parseJSONResponse(t, rec, &summary)
	if summary.Date != testToday || summary.TotalPresent != 2 || summary.TotalAbsent != 1 {
		t.Errorf("summary = %+v", summary)
	}

	rec = httptest.NewRecorder()
	h.Summary(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/summary?date=tomorrow", nil))
	assertStatusCode(t, rec, http.StatusBadRequest)
}
