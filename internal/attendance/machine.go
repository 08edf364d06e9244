package attendance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/attendance-terminal/internal/database"
)

var (
	ErrNoEntry           = errors.New("exit requires a recorded entry")
	ErrNotAdministrator  = errors.New("only administrators can edit attendance")
	ErrReadOnlyDay       = errors.New("attendance can only be toggled for the current day")
	ErrEntryTimeRequired = errors.New("entry time is required")
	ErrInvalidPersonID   = errors.New("invalid person id")
	ErrInvalidDate       = errors.New("invalid date")
)

// EditorAdministrator is the only editor role allowed to make manual changes.
const EditorAdministrator = "administrator"

// EventKind identifies an attendance event.
type EventKind int

const (
	EventEntry EventKind = iota
	EventExit
	EventRecognize
	EventManualToggle
	EventManualEdit
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventEntry:
		return "entry"
	case EventExit:
		return "exit"
	case EventRecognize:
		return "recognize"
	case EventManualToggle:
		return "manual_toggle"
	case EventManualEdit:
		return "manual_edit"
	case EventDelete:
		return "delete"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an incoming change request for one person on one day.
type Event struct {
	Kind     EventKind
	PersonID string
	Time     string    // wall clock of an entry/exit/toggle, or the edited entry time
	ExitTime string    // ManualEdit only; empty removes the exit time
	Location *Location // geofence payload, nil for non-geofenced categories
	Editor   string    // role of the editor for manual events
	Date     string    // day being changed (ManualToggle)
	Today    string    // the editor's current day (ManualToggle)
}

func Entry(personID, at string, loc *Location) Event {
	return Event{Kind: EventEntry, PersonID: personID, Time: at, Location: loc}
}

func Exit(personID, at string, loc *Location) Event {
	return Event{Kind: EventExit, PersonID: personID, Time: at, Location: loc}
}

// Recognize is the terminal event: entry when absent, exit when open.
func Recognize(personID, at string, loc *Location) Event {
	return Event{Kind: EventRecognize, PersonID: personID, Time: at, Location: loc}
}

func ManualToggle(personID, editor, date, today, at string) Event {
	return Event{Kind: EventManualToggle, PersonID: personID, Editor: editor, Date: date, Today: today, Time: at}
}

func ManualEdit(personID, editor, entryTime, exitTime string) Event {
	return Event{Kind: EventManualEdit, PersonID: personID, Editor: editor, Time: entryTime, ExitTime: exitTime}
}

func Delete(personID string) Event {
	return Event{Kind: EventDelete, PersonID: personID}
}

// Outcome describes what a transition did.
type Outcome string

const (
	OutcomeEntered          Outcome = "entered"
	OutcomeExited           Outcome = "exited"
	OutcomeAlreadyMarked    Outcome = "already_marked"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeMarkedPresent    Outcome = "marked_present"
	OutcomeMarkedAbsent     Outcome = "marked_absent"
	OutcomeEdited           Outcome = "edited"
	OutcomeDeleted          Outcome = "deleted"
	OutcomeNoRecord         Outcome = "no_record"
)

// Written reports whether the outcome changed stored state.
func (o Outcome) Written() bool {
	switch o {
	case OutcomeAlreadyMarked, OutcomeAlreadyCompleted, OutcomeNoRecord:
		return false
	default:
		return true
	}
}

// Decision is the result of applying an event: the outcome, the patch to merge
// into the day document (empty for no-ops) and the resulting record (nil when
// the person ends up absent).
type Decision struct {
	Outcome Outcome
	Patch   database.Patch
	Next    *Record
}

// RecordPath is the dotted path of a person's record in a day document.
func RecordPath(personID string) string {
	return "records." + personID
}

func fieldPath(personID, field string) string {
	return RecordPath(personID) + "." + field
}

// ValidatePersonID rejects ids that cannot be used as a path segment.
func ValidatePersonID(id string) error {
	if id == "" || strings.ContainsAny(id, "./") {
		return fmt.Errorf("%w: %q", ErrInvalidPersonID, id)
	}
	return nil
}

// Apply computes the transition of current under ev. It never performs I/O.
func Apply(current *Record, ev Event) (Decision, error) {
	if err := ValidatePersonID(ev.PersonID); err != nil {
		return Decision{}, err
	}

	switch ev.Kind {
	case EventEntry:
		switch current.State() {
		case PresentOpen:
			return noop(OutcomeAlreadyMarked, current), nil
		case PresentClosed:
			return noop(OutcomeAlreadyCompleted, current), nil
		}
		return enter(current, ev), nil

	case EventExit:
		switch current.State() {
		case Absent:
			return Decision{}, ErrNoEntry
		case PresentClosed:
			return noop(OutcomeAlreadyCompleted, current), nil
		}
		return exit(current, ev), nil

	case EventRecognize:
		switch current.State() {
		case Absent:
			return enter(current, ev), nil
		case PresentOpen:
			return exit(current, ev), nil
		default:
			return noop(OutcomeAlreadyCompleted, current), nil
		}

	case EventManualToggle:
		if ev.Editor != EditorAdministrator {
			return Decision{}, ErrNotAdministrator
		}
		if ev.Date == "" || ev.Date != ev.Today {
			return Decision{}, ErrReadOnlyDay
		}
		if current.State() == Absent {
			d := enter(current, ev)
			d.Outcome = OutcomeMarkedPresent
			return d, nil
		}
		return Decision{
			Outcome: OutcomeMarkedAbsent,
			Patch:   database.NewPatch().Delete(RecordPath(ev.PersonID)),
		}, nil

	case EventManualEdit:
		if ev.Editor != EditorAdministrator {
			return Decision{}, ErrNotAdministrator
		}
		if strings.TrimSpace(ev.Time) == "" {
			return Decision{}, ErrEntryTimeRequired
		}
		next := copyRecord(current)
		next.Status = StatusPresent
		next.Legacy = false
		next.EntryTime = strings.TrimSpace(ev.Time)
		p := database.NewPatch().
			Set(fieldPath(ev.PersonID, "status"), string(StatusPresent)).
			Set(fieldPath(ev.PersonID, "entryTime"), next.EntryTime)
		if exitTime := strings.TrimSpace(ev.ExitTime); exitTime != "" {
			next.ExitTime = exitTime
			p = p.Set(fieldPath(ev.PersonID, "exitTime"), exitTime)
		} else {
			next.ExitTime = ""
			p = p.Delete(fieldPath(ev.PersonID, "exitTime"))
		}
		if current != nil && current.Legacy {
			// The stored value is a bare string, replace it with an object.
			p = database.NewPatch().Set(RecordPath(ev.PersonID), recordValue(next))
		}
		return Decision{Outcome: OutcomeEdited, Patch: p, Next: next}, nil

	case EventDelete:
		if current == nil {
			return Decision{Outcome: OutcomeNoRecord}, nil
		}
		return Decision{
			Outcome: OutcomeDeleted,
			Patch:   database.NewPatch().Delete(RecordPath(ev.PersonID)),
		}, nil
	}

	return Decision{}, fmt.Errorf("unknown event %s", ev.Kind)
}

func noop(o Outcome, current *Record) Decision {
	return Decision{Outcome: o, Next: copyRecord(current)}
}

// enter sets the entry fields one by one. Fields of an absent record that
// were read before the transition are removed explicitly; anything written
// since then by another writer is left alone.
func enter(current *Record, ev Event) Decision {
	next := &Record{Status: StatusPresent, EntryTime: ev.Time, Location: ev.Location}
	if current != nil && current.Legacy {
		// The stored value is a bare string, replace it with an object.
		return Decision{
			Outcome: OutcomeEntered,
			Patch:   database.NewPatch().Set(RecordPath(ev.PersonID), recordValue(next)),
			Next:    next,
		}
	}

	p := database.NewPatch().
		Set(fieldPath(ev.PersonID, "status"), string(StatusPresent)).
		Set(fieldPath(ev.PersonID, "entryTime"), ev.Time)
	if ev.Location != nil {
		p = p.Set(fieldPath(ev.PersonID, "location"), locationValue(ev.Location))
	} else if current != nil && current.Location != nil {
		p = p.Delete(fieldPath(ev.PersonID, "location"))
	}
	if current != nil {
		if current.ExitTime != "" {
			p = p.Delete(fieldPath(ev.PersonID, "exitTime"))
		}
		if current.ExitLocation != nil {
			p = p.Delete(fieldPath(ev.PersonID, "exitLocation"))
		}
	}
	return Decision{Outcome: OutcomeEntered, Patch: p, Next: next}
}

// exit only touches the exit fields so a concurrent write to other fields of
// the same record is preserved.
func exit(current *Record, ev Event) Decision {
	next := copyRecord(current)
	next.ExitTime = ev.Time
	p := database.NewPatch().Set(fieldPath(ev.PersonID, "exitTime"), ev.Time)
	if ev.Location != nil {
		next.ExitLocation = ev.Location
		p = p.Set(fieldPath(ev.PersonID, "exitLocation"), locationValue(ev.Location))
	}
	return Decision{Outcome: OutcomeExited, Patch: p, Next: next}
}

func copyRecord(r *Record) *Record {
	if r == nil {
		return &Record{}
	}
	c := *r
	return &c
}

func recordValue(r *Record) map[string]any {
	m := map[string]any{"status": string(r.Status)}
	if r.EntryTime != "" {
		m["entryTime"] = r.EntryTime
	}
	if r.ExitTime != "" {
		m["exitTime"] = r.ExitTime
	}
	if r.Location != nil {
		m["location"] = locationValue(r.Location)
	}
	if r.ExitLocation != nil {
		m["exitLocation"] = locationValue(r.ExitLocation)
	}
	return m
}

func locationValue(l *Location) map[string]any {
	return map[string]any{
		"lat":      l.Lat,
		"lng":      l.Lng,
		"distance": l.Distance,
		"accuracy": l.Accuracy,
	}
}
