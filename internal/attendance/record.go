// Package attendance implements the per-day attendance record and the state
// machine that decides how each event changes it.
package attendance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kozaktomas/attendance-terminal/internal/constants"
)

// Status is the stored status field of a record.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
)

// State is the derived state of a person on a given day.
type State int

const (
	Absent State = iota
	PresentOpen
	PresentClosed
)

func (s State) String() string {
	switch s {
	case PresentOpen:
		return "present_open"
	case PresentClosed:
		return "present_closed"
	default:
		return "absent"
	}
}

// Location is the geofence payload stored with an entry or exit.
type Location struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Distance float64 `json:"distance"`
	Accuracy float64 `json:"accuracy"`
}

// Record is one person's attendance on one day.
type Record struct {
	Status       Status    `json:"status"`
	EntryTime    string    `json:"entryTime,omitempty"`
	ExitTime     string    `json:"exitTime,omitempty"`
	Location     *Location `json:"location,omitempty"`
	ExitLocation *Location `json:"exitLocation,omitempty"`

	// Legacy is set when the stored value was the bare string form.
	Legacy bool `json:"-"`
}

// State derives the state machine state. A nil record is Absent. A legacy
// "Present" string has no entry time to close, so it counts as closed.
func (r *Record) State() State {
	if r == nil || r.Status != StatusPresent {
		return Absent
	}
	if r.Legacy || r.EntryTime == "" || r.ExitTime != "" {
		return PresentClosed
	}
	return PresentOpen
}

// Active reports an open session: present with an entry time and no exit.
func (r *Record) Active() bool {
	return r.State() == PresentOpen
}

// DecodeRecord normalizes a stored record value, which is either the legacy
// status string or an object.
func DecodeRecord(v any) (*Record, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &Record{Status: Status(val), Legacy: true}, nil
	case map[string]any:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encoding record: %w", err)
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("unsupported record type %T", v)
	}
}

// RecordsOf returns the decoded records map of a day document. Malformed
// entries are skipped.
func RecordsOf(data map[string]any) map[string]*Record {
	out := make(map[string]*Record)
	records, ok := data["records"].(map[string]any)
	if !ok {
		return out
	}
	for id, v := range records {
		r, err := DecodeRecord(v)
		if err != nil || r == nil {
			continue
		}
		out[id] = r
	}
	return out
}

// RecordOf returns one person's record from a day document, or nil.
func RecordOf(data map[string]any, personID string) (*Record, error) {
	records, ok := data["records"].(map[string]any)
	if !ok {
		return nil, nil
	}
	return DecodeRecord(records[personID])
}

// Collection returns the attendance collection of a category.
func Collection(category string) string {
	return category + "_attendance"
}

// DateKey formats the day document key for t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(constants.DateKeyLayout)
}

// ParseDateKey validates a YYYY-MM-DD key.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.Parse(constants.DateKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q", ErrInvalidDate, key)
	}
	return t, nil
}

// Clock formats a wall-clock time for entry and exit fields.
func Clock(t time.Time, loc *time.Location, layout string) string {
	if loc != nil {
		t = t.In(loc)
	}
	if layout == "" {
		layout = constants.ClockLayout
	}
	return t.Format(layout)
}
