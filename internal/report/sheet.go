// Package report builds attendance sheets and summaries and exports them.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

const empty = "-"

// Row is one person on a day sheet.
type Row struct {
	No             int                  `json:"no"`
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	SecondaryID    string               `json:"secondaryId"`
	ImageReference string               `json:"imageReference,omitempty"`
	Status         string               `json:"status"`
	EntryTime      string               `json:"entryTime"`
	ExitTime       string               `json:"exitTime"`
	Location       *attendance.Location `json:"location,omitempty"`
	Percentage     string               `json:"percentage"`
	Active         bool                 `json:"active"`
}

// LocationText renders the entry location as "lat, lng (Nm away)".
func (r Row) LocationText() string {
	if r.Location == nil {
		return empty
	}
	return fmt.Sprintf("%.4f, %.4f (%sm away)", r.Location.Lat, r.Location.Lng, distanceText(r.Location.Distance))
}

func distanceText(d float64) string {
	if d == 0 {
		return "?"
	}
	return fmt.Sprintf("%.0f", math.Round(d))
}

// Sheet is the attendance of one category on one day.
type Sheet struct {
	Category       roster.Category `json:"category"`
	Date           string          `json:"date"`
	Editable       bool            `json:"editable"`
	SecondaryLabel string          `json:"secondaryLabel"`
	Rows           []Row           `json:"rows"`
}

// ShowsLocation reports whether the category records a geofence location.
func (s *Sheet) ShowsLocation() bool {
	return s.Category != roster.Student
}

// BuildSheet joins the roster with the records of one day. history holds every
// day document of the category and feeds the percentage column; a nil history
// leaves the column empty.
func BuildSheet(cat roster.Category, date, today string, identities []roster.Identity, day map[string]any, history []database.Document) *Sheet {
	records := attendance.RecordsOf(day)
	sheet := &Sheet{
		Category:       cat,
		Date:           date,
		Editable:       date == today,
		SecondaryLabel: cat.SecondaryLabel(),
		Rows:           make([]Row, 0, len(identities)),
	}

	for i, ident := range identities {
		row := Row{
			No:             i + 1,
			ID:             ident.ID,
			Name:           ident.DisplayName,
			SecondaryID:    ident.SecondaryID,
			ImageReference: ident.ImageReference,
			Status:         string(attendance.StatusAbsent),
			EntryTime:      empty,
			ExitTime:       empty,
			Percentage:     empty,
		}
		if r := records[ident.ID]; r != nil {
			if r.Status != "" {
				row.Status = string(r.Status)
			}
			if r.EntryTime != "" {
				row.EntryTime = r.EntryTime
			}
			if r.ExitTime != "" {
				row.ExitTime = r.ExitTime
			}
			row.Location = r.Location
			row.Active = r.Active()
		}
		if history != nil {
			row.Percentage = attendance.Percentage(history, ident.ID)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

// LoadSheet reads the day document and the category history from the store.
func LoadSheet(ctx context.Context, store database.DocumentReader, snap *roster.Snapshot, date, today string) (*Sheet, error) {
	if _, err := attendance.ParseDateKey(date); err != nil {
		return nil, err
	}
	collection := snap.Category.AttendanceCollection()

	var day map[string]any
	doc, err := store.Get(ctx, collection, date)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading %s/%s: %w", collection, date, err)
	default:
		day = doc.Data
	}

	history, err := store.List(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	if history == nil {
		history = []database.Document{}
	}

	return BuildSheet(snap.Category, date, today, snap.Identities, day, history), nil
}
