package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/capture"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
	"github.com/kozaktomas/attendance-terminal/internal/geofence"
	"github.com/kozaktomas/attendance-terminal/internal/recorder"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// TerminalHandler serves the kiosk: recognition requests and a live feed of
// results and pipeline states.
type TerminalHandler struct {
	recorder      *recorder.Recorder
	live          capture.Source
	category      roster.Category
	maxUploadSize int64
	feed          *EventBroadcaster
	logger        *zap.Logger
}

// NewTerminalHandler creates a terminal handler. live may be nil, in which
// case recognition requires an uploaded image.
func NewTerminalHandler(rec *recorder.Recorder, live capture.Source, category roster.Category, maxUploadSize int64, logger *zap.Logger) *TerminalHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = constants.MaxUploadSize
	}
	return &TerminalHandler{
		recorder:      rec,
		live:          live,
		category:      category,
		maxUploadSize: maxUploadSize,
		feed:          &EventBroadcaster{},
		logger:        logger,
	}
}

// RecognizeResponse is the outcome of one recognition cycle.
type RecognizeResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	Category   string  `json:"category"`
	Outcome    string  `json:"outcome,omitempty"`
	PersonID   string  `json:"personId,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence string  `json:"confidence,omitempty"`
	Distance   float64 `json:"distance,omitempty"`
	Date       string  `json:"date,omitempty"`
	Time       string  `json:"time,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func newRecognizeResponse(cat roster.Category, res *recorder.Result, err error, message string) RecognizeResponse {
	resp := RecognizeResponse{
		Success:  err == nil,
		Message:  message,
		Category: string(cat),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if res == nil {
		return resp
	}
	resp.Outcome = string(res.Outcome)
	resp.Date = res.Date
	resp.Time = res.Time
	if res.Person != nil {
		resp.PersonID = res.Person.ID
		resp.Name = res.Person.DisplayName
	}
	if res.Match.Matched {
		resp.Confidence = facematch.FormatConfidence(res.Match.Confidence)
	}
	if res.Verification != nil {
		resp.Distance = res.Verification.Distance
	}
	return resp
}

// cycleStatus picks the HTTP status of a finished cycle. Rejections are
// expected outcomes at a kiosk and are reported as 422 with a message.
func cycleStatus(err error) int {
	var oor *geofence.OutOfRangeError
	var empty *recorder.EmptyRosterError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, recorder.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, recorder.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrNoFaceDetected),
		errors.Is(err, recorder.ErrUnmatched),
		errors.Is(err, recorder.ErrLivenessFailed),
		errors.Is(err, geofence.ErrLocationUnavailable),
		errors.As(err, &oor),
		errors.As(err, &empty):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// Status returns the current pipeline state.
func (h *TerminalHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"state":       h.recorder.State().String(),
		"category":    h.category,
		"liveCapture": h.live != nil,
		"listeners":   h.feed.Listeners(),
	})
}

// Recognize runs one cycle on an uploaded "image" form file or, without one,
// on the live capture source.
func (h *TerminalHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}

	source, err := h.sourceFor(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.recorder.RunCycle(r.Context(), cat, source)
	message := recorder.UserMessage(res, err)
	h.Publish(res, err, message)

	if err != nil && cycleStatus(err) == http.StatusBadGateway {
		h.logger.Warn("recognition failed", zap.String("category", string(cat)), zap.Error(err))
	}
	respondJSON(w, cycleStatus(err), newRecognizeResponse(cat, res, err, message))
}

func (h *TerminalHandler) sourceFor(w http.ResponseWriter, r *http.Request) (capture.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		if h.live != nil && errors.Is(err, http.ErrNotMultipart) {
			return h.live, nil
		}
		return nil, errors.New("expected a multipart form with an image file")
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		if h.live != nil {
			return h.live, nil
		}
		return nil, errors.New("image file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("failed to read image")
	}
	return capture.NewStaticSource(data), nil
}

// Events streams recognition results and state changes.
func (h *TerminalHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamFeed(w, r, h.feed, Event{
		Type: "status",
		Data: map[string]string{"state": h.recorder.State().String(), "category": string(h.category)},
	})
}

// Publish broadcasts a finished cycle. It matches recorder.Terminal.OnResult
// so the kiosk loop can share the feed.
func (h *TerminalHandler) Publish(res *recorder.Result, err error, message string) {
	cat := h.category
	if res != nil && res.Category != "" {
		cat = res.Category
	}
	eventType := "recognized"
	if err != nil {
		eventType = "rejected"
	}
	h.feed.SendEvent(Event{Type: eventType, Message: message, Data: newRecognizeResponse(cat, res, err, message)})
}

// PublishState broadcasts a pipeline state change. It matches
// recorder.Options.OnState.
func (h *TerminalHandler) PublishState(s recorder.State) {
	h.feed.SendEvent(Event{Type: "state", Data: map[string]string{"state": s.String()}})
}
