package attendance

import (
	"fmt"

	"github.com/kozaktomas/attendance-terminal/internal/database"
)

// NotAvailable is reported when a collection has no day documents.
const NotAvailable = "N/A"

// PresentDays counts the documents where personID is Present, and the total
// number of documents seen.
func PresentDays(days []database.Document, personID string) (present, total int) {
	for _, d := range days {
		total++
		r, err := RecordOf(d.Data, personID)
		if err == nil && r != nil && r.Status == StatusPresent {
			present++
		}
	}
	return present, total
}

// Percentage formats the share of day documents in which personID is Present,
// e.g. "75.0%". The denominator is the number of existing day documents, not
// the number of days since enrollment.
func Percentage(days []database.Document, personID string) string {
	present, total := PresentDays(days, personID)
	if total == 0 {
		return NotAvailable
	}
	return fmt.Sprintf("%.1f%%", float64(present)/float64(total)*100)
}

// CountPresent returns how many records of a day document are Present.
func CountPresent(data map[string]any) int {
	n := 0
	for _, r := range RecordsOf(data) {
		if r.Status == StatusPresent {
			n++
		}
	}
	return n
}
