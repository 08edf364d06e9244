package recorder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
	"github.com/kozaktomas/attendance-terminal/internal/geofence"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

var (
	ErrNoFaceDetected = errors.New("no face detected")
	ErrUnmatched      = errors.New("face not recognized")
	ErrEmptyRoster    = fmt.Errorf("%w: no enrolled descriptors", ErrUnmatched)
	ErrLivenessFailed = errors.New("liveness check failed")
	ErrPersistence    = errors.New("failed to save attendance")
	ErrBusy           = errors.New("recognition already in progress")
)

// EmptyRosterError reports a category with nothing to match against.
type EmptyRosterError struct {
	Category   roster.Category
	Registered int // identities in the category, with or without a descriptor
}

func (e *EmptyRosterError) Error() string {
	if e.Registered == 0 {
		return fmt.Sprintf("no %ss registered", e.Category)
	}
	return fmt.Sprintf("no %ss have a registered face", e.Category)
}

func (e *EmptyRosterError) Unwrap() error { return ErrEmptyRoster }

// UserMessage renders the text shown on the terminal for a cycle result.
func UserMessage(res *Result, err error) string {
	var empty *EmptyRosterError
	var oor *geofence.OutOfRangeError

	switch {
	case err == nil && res != nil:
		return successMessage(res)
	case errors.As(err, &empty):
		if empty.Registered == 0 {
			return fmt.Sprintf("No %ss registered.", empty.Category)
		}
		return fmt.Sprintf("No %ss have a registered face.", empty.Category)
	case errors.Is(err, ErrNoFaceDetected):
		return "No face detected in the image."
	case errors.Is(err, ErrUnmatched):
		return "Face detected, but no match found."
	case errors.Is(err, ErrLivenessFailed):
		return "Liveness Check Failed: Please SMILE to mark attendance!"
	case errors.As(err, &oor):
		return oor.Error()
	case errors.Is(err, geofence.ErrLocationUnavailable):
		category := "this"
		if res != nil && res.Category != "" {
			category = string(res.Category)
		}
		return fmt.Sprintf("Location access required for %s attendance.", category)
	case errors.Is(err, ErrPersistence):
		return "Could not save attendance. Please try again."
	case errors.Is(err, ErrBusy):
		return "Please wait, recognition in progress."
	case err != nil:
		return "Camera access denied or not available."
	}
	return ""
}

func successMessage(res *Result) string {
	name := ""
	if res.Person != nil {
		name = res.Person.DisplayName
	}
	var b strings.Builder
	switch res.Outcome {
	case attendance.OutcomeEntered:
		fmt.Fprintf(&b, "Attendance marked for %s! (Confidence: %s%%)", name, facematch.FormatConfidence(res.Match.Confidence))
		if res.Verification != nil {
			b.WriteString(" Location recorded.")
		}
	case attendance.OutcomeExited:
		fmt.Fprintf(&b, "Exit time recorded for %s at %s.", name, res.Time)
	case attendance.OutcomeAlreadyMarked:
		fmt.Fprintf(&b, "Attendance already marked for %s.", name)
	case attendance.OutcomeAlreadyCompleted:
		fmt.Fprintf(&b, "Attendance already completed for %s.", name)
	default:
		fmt.Fprintf(&b, "%s: %s", name, res.Outcome)
	}
	return b.String()
}
