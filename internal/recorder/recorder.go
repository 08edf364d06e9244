// Package recorder drives the recognition pipeline: capture, detect, match,
// liveness, geofence, state transition, persist and notify.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/capture"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/extractor"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
	"github.com/kozaktomas/attendance-terminal/internal/geofence"
	"github.com/kozaktomas/attendance-terminal/internal/notify"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// State is the pipeline stage.
type State int32

const (
	Idle State = iota
	Capturing
	Detecting
	Matching
	Validating
	Persisting
	Cooldown
)

func (s State) String() string {
	switch s {
	case Capturing:
		return "capturing"
	case Detecting:
		return "detecting"
	case Matching:
		return "matching"
	case Validating:
		return "validating"
	case Persisting:
		return "persisting"
	case Cooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

// Result describes a completed cycle. On error it holds what was known
// when the pipeline stopped.
type Result struct {
	Category     roster.Category
	Person       *roster.Identity
	Match        facematch.MatchResult
	Outcome      attendance.Outcome
	Record       *attendance.Record
	Verification *geofence.Verification
	Date         string
	Time         string
}

// Options configures a Recorder.
type Options struct {
	Store        database.Store
	Roster       *roster.Cache
	Detector     extractor.Detector
	Liveness     facematch.LivenessPolicy
	Geofence     *geofence.Checker
	Notifier     notify.Sink
	Threshold    float64
	Location     *time.Location
	TimeFormat   string
	MaxFrameSize int
	Now          func() time.Time
	Logger       *zap.Logger

	// OnState is called on every state change.
	OnState func(State)
}

// Recorder runs one recognition at a time.
type Recorder struct {
	opts  Options
	mu    sync.Mutex
	state atomic.Int32
}

// New creates a recorder, filling unset options with defaults.
func New(opts Options) *Recorder {
	if opts.Liveness == nil {
		opts.Liveness = facematch.SmilePolicy{MinHappy: constants.DefaultMinHappy}
	}
	if opts.Threshold <= 0 {
		opts.Threshold = constants.DefaultMatchThreshold
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = constants.MaxImageSize
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = constants.ClockLayout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Recorder{opts: opts}
}

// State returns the current pipeline stage.
func (r *Recorder) State() State {
	return State(r.state.Load())
}

func (r *Recorder) setState(s State) {
	r.state.Store(int32(s))
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

// RunCycle performs one recognition for category using a frame from source.
// Attendance is written only after match, liveness and geofence pass. A write
// that completed is never undone by a later cancellation.
func (r *Recorder) RunCycle(ctx context.Context, category roster.Category, source capture.Source) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	defer r.setState(Idle)

	res := &Result{Category: category}
	log := r.opts.Logger.With(zap.String("category", string(category)))

	r.setState(Capturing)
	frame, err := source.Frame(ctx)
	_ = source.Release()
	if err != nil {
		return res, fmt.Errorf("capturing frame: %w", err)
	}

	snap := r.opts.Roster.Snapshot(category)
	enrolled := snap.Enrolled()
	if len(enrolled) == 0 {
		return res, &EmptyRosterError{Category: category, Registered: snap.Len()}
	}

	r.setState(Detecting)
	image := frame.Data
	if prepared, err := capture.PrepareFrame(frame.Data, r.opts.MaxFrameSize); err == nil {
		image = prepared
	} else {
		log.Debug("sending frame unprocessed", zap.Error(err))
	}
	det, err := r.opts.Detector.Detect(ctx, image)
	if err != nil {
		if errors.Is(err, extractor.ErrNoFace) {
			return res, ErrNoFaceDetected
		}
		return res, fmt.Errorf("detecting face: %w", err)
	}

	r.setState(Matching)
	res.Match = facematch.Match(det.Descriptor, enrolled, r.opts.Threshold)
	if !res.Match.Matched {
		log.Info("face not recognized", zap.Float64("distance", res.Match.Distance))
		if res.Match.EmptyRoster {
			return res, &EmptyRosterError{Category: category, Registered: snap.Len()}
		}
		return res, ErrUnmatched
	}
	person, ok := snap.Find(res.Match.ID)
	if !ok {
		return res, ErrUnmatched
	}
	res.Person = &person
	log = log.With(zap.String("person_id", person.ID))

	r.setState(Validating)
	if !r.opts.Liveness.IsLive(det.Expressions) {
		log.Info("liveness check failed", zap.Float64("happy", det.Expressions[facematch.ExpressionHappy]))
		return res, ErrLivenessFailed
	}
	if r.opts.Geofence != nil {
		v, err := r.opts.Geofence.Check(ctx, string(category))
		if err != nil {
			log.Info("geofence check failed", zap.Error(err))
			return res, err
		}
		res.Verification = v
	}

	r.setState(Persisting)
	now := r.opts.Now()
	res.Date = attendance.DateKey(now, r.opts.Location)
	res.Time = attendance.Clock(now, r.opts.Location, r.opts.TimeFormat)
	collection := category.AttendanceCollection()

	current, err := r.currentRecord(ctx, collection, res.Date, person.ID)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	decision, err := attendance.Apply(current, attendance.Recognize(person.ID, res.Time, locationOf(res.Verification)))
	if err != nil {
		return res, err
	}
	if !decision.Patch.IsEmpty() {
		if err := r.opts.Store.Merge(ctx, collection, res.Date, decision.Patch); err != nil {
			return res, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	res.Outcome = decision.Outcome
	res.Record = decision.Next

	log.Info("attendance processed",
		zap.String("outcome", string(res.Outcome)),
		zap.String("date", res.Date),
		zap.String("time", res.Time),
		zap.String("confidence", facematch.FormatConfidence(res.Match.Confidence)))

	if status := notifyStatus(decision.Outcome); status != "" {
		ev := notify.Event{
			PersonID:   person.ID,
			PersonName: person.DisplayName,
			Category:   string(category),
			Status:     status,
			Time:       res.Time,
			Date:       res.Date,
			Email:      person.Email,
			At:         now,
		}
		if err := r.opts.Notifier.Notify(ctx, ev); err != nil {
			log.Warn("notification failed", zap.Error(err))
		}
	}

	return res, nil
}

func (r *Recorder) currentRecord(ctx context.Context, collection, date, personID string) (*attendance.Record, error) {
	doc, err := r.opts.Store.Get(ctx, collection, date)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return attendance.RecordOf(doc.Data, personID)
}

func locationOf(v *geofence.Verification) *attendance.Location {
	if v == nil {
		return nil
	}
	return &attendance.Location{
		Lat:      v.Position.Lat,
		Lng:      v.Position.Lng,
		Distance: v.Distance,
		Accuracy: v.Position.Accuracy,
	}
}

func notifyStatus(o attendance.Outcome) string {
	switch o {
	case attendance.OutcomeEntered:
		return notify.StatusPresent
	case attendance.OutcomeExited:
		return notify.StatusExit
	default:
		return ""
	}
}
