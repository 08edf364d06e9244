// Package admin implements administrator operations: manual attendance
// changes, enrollment and identity deletion.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/extractor"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// Service performs administrator mutations against the store.
type Service struct {
	store       database.Store
	detector    extractor.Detector
	credentials *Credentials
	threshold   float64
	loc         *time.Location
	timeFormat  string
	now         func() time.Time
	concurrency int
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithDetector(d extractor.Detector) Option { return func(s *Service) { s.detector = d } }

func WithCredentials(c *Credentials) Option { return func(s *Service) { s.credentials = c } }

func WithThreshold(t float64) Option { return func(s *Service) { s.threshold = t } }

func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithTimeFormat(layout string) Option { return func(s *Service) { s.timeFormat = layout } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithConcurrency(n int) Option { return func(s *Service) { s.concurrency = n } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates an administrator service.
func NewService(store database.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		threshold:   constants.DefaultMatchThreshold,
		loc:         time.Local,
		timeFormat:  constants.ClockLayout,
		now:         time.Now,
		concurrency: constants.DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Today returns the current date key in the service time zone.
func (s *Service) Today() string {
	return attendance.DateKey(s.now(), s.loc)
}

// Toggle flips a person between present and absent on today's sheet.
func (s *Service) Toggle(ctx context.Context, cat roster.Category, date, personID, editor string) (attendance.Decision, error) {
	now := s.now()
	ev := attendance.ManualToggle(personID, editor, date, attendance.DateKey(now, s.loc), attendance.Clock(now, s.loc, s.timeFormat))
	return s.apply(ctx, cat, date, ev)
}

// Edit sets the entry and exit time of a record. An empty exit time removes it.
func (s *Service) Edit(ctx context.Context, cat roster.Category, date, personID, editor, entryTime, exitTime string) (attendance.Decision, error) {
	return s.apply(ctx, cat, date, attendance.ManualEdit(personID, editor, entryTime, exitTime))
}

// DeleteRecord removes a person's record from a day.
func (s *Service) DeleteRecord(ctx context.Context, cat roster.Category, date, personID string) (attendance.Decision, error) {
	return s.apply(ctx, cat, date, attendance.Delete(personID))
}

func (s *Service) apply(ctx context.Context, cat roster.Category, date string, ev attendance.Event) (attendance.Decision, error) {
	if _, err := attendance.ParseDateKey(date); err != nil {
		return attendance.Decision{}, err
	}
	collection := cat.AttendanceCollection()

	var current *attendance.Record
	doc, err := s.store.Get(ctx, collection, date)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return attendance.Decision{}, fmt.Errorf("loading %s/%s: %w", collection, date, err)
	default:
		if current, err = attendance.RecordOf(doc.Data, ev.PersonID); err != nil {
			return attendance.Decision{}, err
		}
	}

	decision, err := attendance.Apply(current, ev)
	if err != nil {
		return decision, err
	}
	if !decision.Patch.IsEmpty() {
		if err := s.store.Merge(ctx, collection, date, decision.Patch); err != nil {
			return decision, fmt.Errorf("saving %s/%s: %w", collection, date, err)
		}
	}

	s.logger.Info("attendance changed by administrator",
		zap.String("event", ev.Kind.String()),
		zap.String("category", string(cat)),
		zap.String("date", date),
		zap.String("person_id", ev.PersonID),
		zap.String("outcome", string(decision.Outcome)))
	return decision, nil
}
