// Package notify delivers attendance notifications. Delivery is fire-and-forget:
// a failed notification never affects the recorded attendance.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	StatusPresent = "Present"
	StatusExit    = "Exit"
)

// Event is one attendance notification.
type Event struct {
	PersonID   string    `json:"personId"`
	PersonName string    `json:"personName"`
	Category   string    `json:"category"`
	Status     string    `json:"status"` // Present or Exit
	Time       string    `json:"time"`
	Date       string    `json:"date"`
	Email      string    `json:"email"`
	At         time.Time `json:"at"`
}

// Message is the human-readable notification text.
func (e Event) Message() string {
	return fmt.Sprintf("Attendance marked as %s at %s.", e.Status, e.Time)
}

// Recipient returns the first non-empty address, or fallback.
func Recipient(fallback string, addresses ...string) string {
	for _, a := range addresses {
		if a != "" {
			return a
		}
	}
	return fallback
}

// Sink delivers an event.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
