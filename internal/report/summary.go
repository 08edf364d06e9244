package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// CategorySummary counts one category for a day.
type CategorySummary struct {
	Category   roster.Category `json:"category"`
	Registered int             `json:"registered"`
	Present    int             `json:"present"`
	Absent     int             `json:"absent"`
}

// Summary is the analytics view of one day.
type Summary struct {
	Date         string            `json:"date"`
	Categories   []CategorySummary `json:"categories"`
	TotalPresent int               `json:"totalPresent"`
	TotalAbsent  int               `json:"totalAbsent"`
}

// DaySummary counts present records against roster sizes for every category.
// Present counts come from the day document and may include people no longer
// on the roster.
func DaySummary(ctx context.Context, store database.DocumentReader, cache *roster.Cache, date string) (*Summary, error) {
	s := &Summary{Date: date}
	for _, cat := range roster.Categories() {
		collection := cat.AttendanceCollection()
		var present int
		doc, err := store.Get(ctx, collection, date)
		switch {
		case errors.Is(err, database.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("loading %s/%s: %w", collection, date, err)
		default:
			present = attendance.CountPresent(doc.Data)
		}

		registered := cache.Snapshot(cat).Len()
		cs := CategorySummary{
			Category:   cat,
			Registered: registered,
			Present:    present,
			Absent:     max(registered-present, 0),
		}
		s.Categories = append(s.Categories, cs)
		s.TotalPresent += cs.Present
		s.TotalAbsent += cs.Absent
	}
	return s, nil
}
