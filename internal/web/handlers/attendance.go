package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/report"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// AttendanceHandler serves day sheets, manual edits and exports.
type AttendanceHandler struct {
	service *admin.Service
	store   database.DocumentReader
	cache   *roster.Cache
	logger  *zap.Logger
}

// NewAttendanceHandler creates an attendance handler.
func NewAttendanceHandler(service *admin.Service, store database.DocumentReader, cache *roster.Cache, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{service: service, store: store, cache: cache, logger: logger}
}

// DecisionResponse reports the result of a manual change.
type DecisionResponse struct {
	Outcome string             `json:"outcome"`
	Record  *attendance.Record `json:"record,omitempty"`
}

// dateParam resolves the {date} URL parameter; "today" is the current day of
// the service time zone.
func (h *AttendanceHandler) dateParam(r *http.Request) string {
	date := chi.URLParam(r, "date")
	if date == "" || strings.EqualFold(date, "today") {
		return h.service.Today()
	}
	return date
}

func (h *AttendanceHandler) sheet(w http.ResponseWriter, r *http.Request) (*report.Sheet, bool) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return nil, false
	}
	sheet, err := report.LoadSheet(r.Context(), h.store, h.cache.Snapshot(cat), h.dateParam(r), h.service.Today())
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return sheet, true
}

// Sheet returns the day sheet of a category.
func (h *AttendanceHandler) Sheet(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheet(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

// Export writes the day sheet as CSV (default) or XLSX.
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.sheet(w, r)
	if !ok {
		return
	}

	name := fmt.Sprintf("%s_attendance_%s", sheet.Category, sheet.Date)
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
		if err := sheet.WriteCSV(w); err != nil {
			h.logger.Error("csv export failed", zap.Error(err))
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".xlsx"))
		if err := sheet.WriteXLSX(w); err != nil {
			h.logger.Error("xlsx export failed", zap.Error(err))
		}
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
	}
}

func (h *AttendanceHandler) respondDecision(w http.ResponseWriter, d attendance.Decision, err error) {
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DecisionResponse{Outcome: string(d.Outcome), Record: d.Next})
}

// Toggle flips a person between Present and Absent for today.
func (h *AttendanceHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	d, err := h.service.Toggle(r.Context(), cat, h.dateParam(r), chi.URLParam(r, "personId"), editorOf(r))
	h.respondDecision(w, d, err)
}

type editRequest struct {
	EntryTime string `json:"entryTime"`
	ExitTime  string `json:"exitTime"`
}

// Edit sets the entry and exit times of a record.
func (h *AttendanceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	d, err := h.service.Edit(r.Context(), cat, h.dateParam(r), chi.URLParam(r, "personId"), editorOf(r),
		strings.TrimSpace(req.EntryTime), strings.TrimSpace(req.ExitTime))
	h.respondDecision(w, d, err)
}

// DeleteRecord removes a person's record from a day.
func (h *AttendanceHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	d, err := h.service.DeleteRecord(r.Context(), cat, h.dateParam(r), chi.URLParam(r, "personId"))
	h.respondDecision(w, d, err)
}

// Percentage returns the overall attendance of one person.
func (h *AttendanceHandler) Percentage(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	personID := chi.URLParam(r, "personId")
	if err := attendance.ValidatePersonID(personID); err != nil {
		respondErr(w, err)
		return
	}

	days, err := h.store.List(r.Context(), cat.AttendanceCollection())
	if err != nil {
		respondErr(w, err)
		return
	}
	present, total := attendance.PresentDays(days, personID)
	respondJSON(w, http.StatusOK, map[string]any{
		"personId":   personID,
		"present":    present,
		"total":      total,
		"percentage": attendance.Percentage(days, personID),
	})
}

// Summary returns today's analytics: present and absent counts per category.
func (h *AttendanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.service.Today()
	} else if _, err := attendance.ParseDateKey(date); err != nil {
		respondErr(w, err)
		return
	}

	summary, err := report.DaySummary(r.Context(), h.store, h.cache, date)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
