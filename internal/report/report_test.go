package report

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/xuri/excelize/v2"

	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/database/memory"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

var faculty = []roster.Identity{
	{ID: "prof1", Category: roster.Faculty, DisplayName: "Ada Lovelace", SecondaryID: "F1"},
	{ID: "prof2", Category: roster.Faculty, DisplayName: "Alan Turing", SecondaryID: "F2"},
	{ID: "prof3", Category: roster.Faculty, DisplayName: "Grace Hopper", SecondaryID: "F3"},
}

func facultyDay() map[string]any {
	return map[string]any{
		"records": map[string]any{
			"prof1": map[string]any{
				"status":    "Present",
				"entryTime": "09:00:00",
				"location":  map[string]any{"lat": 28.682025, "lng": 77.508481, "distance": 12.4, "accuracy": 5.0},
			},
			"prof2": map[string]any{"status": "Present", "entryTime": "08:30:00", "exitTime": "16:00:00"},
		},
	}
}

func facultyHistory() []database.Document {
	return []database.Document{
		{Key: "2026-10-16", Data: map[string]any{"records": map[string]any{"prof1": "Present"}}},
		{Key: "2026-10-17", Data: facultyDay()},
	}
}

func TestBuildSheet(t *testing.T) {
	sheet := BuildSheet(roster.Faculty, "2026-10-17", "2026-10-17", faculty, facultyDay(), facultyHistory())

	if !sheet.Editable {
		t.Error("today's sheet should be editable")
	}
	if sheet.SecondaryLabel != "Faculty ID" {
		t.Errorf("SecondaryLabel = %q", sheet.SecondaryLabel)
	}
	if len(sheet.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(sheet.Rows))
	}

	tests := []struct {
		row        int
		status     string
		entry      string
		exit       string
		percentage string
		active     bool
	}{
		{0, "Present", "09:00:00", "-", "100.0%", true},
		{1, "Present", "08:30:00", "16:00:00", "50.0%", false},
		{2, "Absent", "-", "-", "0.0%", false},
	}
	for _, tt := range tests {
		r := sheet.Rows[tt.row]
		if r.Status != tt.status || r.EntryTime != tt.entry || r.ExitTime != tt.exit {
			t.Errorf("row %d = %s/%s/%s", tt.row, r.Status, r.EntryTime, r.ExitTime)
		}
		if r.Percentage != tt.percentage {
			t.Errorf("row %d percentage = %s, want %s", tt.row, r.Percentage, tt.percentage)
		}
		if r.Active != tt.active {
			t.Errorf("row %d active = %v, want %v", tt.row, r.Active, tt.active)
		}
	}
	if got := sheet.Rows[0].LocationText(); got != "28.6820, 77.5085 (12m away)" {
		t.Errorf("LocationText() = %q", got)
	}

	past := BuildSheet(roster.Faculty, "2026-10-16", "2026-10-17", faculty, nil, nil)
	if past.Editable {
		t.Error("past sheet should be view only")
	}
	if past.Rows[0].Percentage != "-" || past.Rows[0].Status != "Absent" {
		t.Errorf("row without history = %+v", past.Rows[0])
	}
}

func TestSheet_WriteCSV(t *testing.T) {
	sheet := BuildSheet(roster.Faculty, "2026-10-17", "2026-10-17", faculty, facultyDay(), facultyHistory())

	var buf bytes.Buffer
	if err := sheet.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "faculty_sheet", buf.Bytes())
}

func TestSheet_WriteCSV_StudentsHaveNoLocation(t *testing.T) {
	students := []roster.Identity{{ID: "s1", Category: roster.Student, DisplayName: "Alice", SecondaryID: "S1"}}
	sheet := BuildSheet(roster.Student, "2026-10-17", "2026-10-17", students, nil, []database.Document{})

	var buf bytes.Buffer
	if err := sheet.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	want := "S.No,Name,Student ID,Status,Entry Time,Exit Time,Overall %\n1,Alice,S1,Absent,-,-,N/A\n"
	if buf.String() != want {
		t.Errorf("WriteCSV() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestSheet_WriteXLSX(t *testing.T) {
	sheet := BuildSheet(roster.Faculty, "2026-10-17", "2026-10-17", faculty, facultyDay(), facultyHistory())

	var buf bytes.Buffer
	if err := sheet.WriteXLSX(&buf); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("faculty 2026-10-17")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[0][2] != "Faculty ID" || rows[0][3] != "Location" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[2][1] != "Alan Turing" || rows[2][6] != "16:00:00" {
		t.Errorf("row 2 = %v", rows[2])
	}
}

func TestLoadSheetAndDaySummary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, d := range facultyHistory() {
		if err := store.Put(ctx, "faculty_attendance", d.Key, d.Data); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Put(ctx, "student_attendance", "2026-10-17", map[string]any{
		"records": map[string]any{"s1": "Present", "s2": map[string]any{"status": "Absent"}},
	}); err != nil {
		t.Fatal(err)
	}

	cache := roster.NewCache(nil)
	docs := make([]database.Document, len(faculty))
	for i, ident := range faculty {
		docs[i] = database.Document{Key: ident.ID, Data: ident.Document()}
	}
	cache.Replace(roster.Faculty, docs)
	cache.Replace(roster.Student, []database.Document{
		{Key: "s1", Data: map[string]any{"name": "Alice", "studentId": "S1"}},
		{Key: "s2", Data: map[string]any{"name": "Bob", "studentId": "S2"}},
	})

	sheet, err := LoadSheet(ctx, store, cache.Snapshot(roster.Faculty), "2026-10-17", "2026-10-17")
	if err != nil {
		t.Fatalf("LoadSheet() error = %v", err)
	}
	if sheet.Rows[1].Percentage != "50.0%" {
		t.Errorf("percentage = %s", sheet.Rows[1].Percentage)
	}

	if _, err := LoadSheet(ctx, store, cache.Snapshot(roster.Faculty), "yesterday", "2026-10-17"); err == nil {
		t.Error("expected error for malformed date")
	}

	sum, err := DaySummary(ctx, store, cache, "2026-10-17")
	if err != nil {
		t.Fatalf("DaySummary() error = %v", err)
	}
	want := map[roster.Category][2]int{
		roster.Student:       {1, 2},
		roster.Faculty:       {2, 3},
		roster.Administrator: {0, 0},
	}
	for _, c := range sum.Categories {
		w := want[c.Category]
		if c.Present != w[0] || c.Registered != w[1] {
			t.Errorf("%s: present %d of %d, want %d of %d", c.Category, c.Present, c.Registered, w[0], w[1])
		}
	}
	if sum.TotalPresent != 3 || sum.TotalAbsent != 2 {
		t.Errorf("totals = %d/%d, want 3/2", sum.TotalPresent, sum.TotalAbsent)
	}
}
