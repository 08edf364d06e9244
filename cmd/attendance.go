package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/report"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Inspect and correct attendance records",
	Long: `Commands for viewing day sheets and correcting attendance records.

Dates use the YYYY-MM-DD form of the terminal time zone; "today" is accepted
wherever a date is. Changes are made as an administrator.`,
}

var attendanceShowCmd = &cobra.Command{
	Use:   "show <category> [date]",
	Short: "Show the day sheet of a category",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAttendanceShow,
}

var attendanceToggleCmd = &cobra.Command{
	Use:   "toggle <category> <personId>",
	Short: "Flip a person between Present and Absent for today",
	Args:  cobra.ExactArgs(2),
	RunE:  runAttendanceToggle,
}

var attendanceEditCmd = &cobra.Command{
	Use:   "edit <category> <date> <personId>",
	Short: "Set the entry and exit time of a record",
	Long: `Set the entry and exit time of a record. The record becomes Present.
Omitting --exit removes a stored exit time.

Example:
  attendance-terminal attendance edit faculty 2026-10-16 f1 --entry 08:55:00 --exit 16:10:00`,
	Args: cobra.ExactArgs(3),
	RunE: runAttendanceEdit,
}

var attendanceDeleteCmd = &cobra.Command{
	Use:   "delete <category> <date> <personId>",
	Short: "Remove a person's record from a day",
	Args:  cobra.ExactArgs(3),
	RunE:  runAttendanceDelete,
}

var attendancePercentageCmd = &cobra.Command{
	Use:   "percentage <category> <personId>",
	Short: "Show the overall attendance of a person",
	Args:  cobra.ExactArgs(2),
	RunE:  runAttendancePercentage,
}

var attendanceExportCmd = &cobra.Command{
	Use:   "export <category> [date]",
	Short: "Export a day sheet as CSV or XLSX",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAttendanceExport,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceShowCmd, attendanceToggleCmd, attendanceEditCmd,
		attendanceDeleteCmd, attendancePercentageCmd, attendanceExportCmd)

	attendanceEditCmd.Flags().String("entry", "", "Entry time (required)")
	attendanceEditCmd.Flags().String("exit", "", "Exit time")

	attendanceExportCmd.Flags().String("format", "csv", "Output format: csv or xlsx")
	attendanceExportCmd.Flags().StringP("output", "o", "", "Output file (defaults to <category>_attendance_<date>.<format>)")
}

// dateArg resolves an optional date argument against the service time zone.
func (a *app) dateArg(args []string, i int) string {
	if len(args) <= i || strings.EqualFold(args[i], "today") {
		return a.admin.Today()
	}
	return args[i]
}

// loadSheet builds the day sheet of a category.
func (a *app) loadSheet(ctx context.Context, category roster.Category, date string) (*report.Sheet, error) {
	snap, err := a.roster.Load(ctx, a.store, category)
	if err != nil {
		return nil, err
	}
	return report.LoadSheet(ctx, a.store, snap, date, a.admin.Today())
}

func runAttendanceShow(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sheet, err := a.loadSheet(ctx, category, a.dateArg(args, 1))
	if err != nil {
		return err
	}

	if len(sheet.Rows) == 0 {
		fmt.Printf("No %ss registered.\n", category)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"NO", "NAME", strings.ToUpper(sheet.SecondaryLabel), "STATUS", "ENTRY", "EXIT", "OVERALL"}
	if sheet.ShowsLocation() {
		header = append(header, "LOCATION")
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	present := 0
	for _, r := range sheet.Rows {
		status := r.Status
		if r.Active {
			status += " *"
		}
		if r.Status == string(attendance.StatusPresent) {
			present++
		}
		cols := []string{fmt.Sprint(r.No), r.Name, r.SecondaryID, status, r.EntryTime, r.ExitTime, r.Percentage}
		if sheet.ShowsLocation() {
			cols = append(cols, r.LocationText())
		}
		fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
	w.Flush()

	fmt.Printf("\n%s: %d of %d present", sheet.Date, present, len(sheet.Rows))
	if sheet.Editable {
		fmt.Print(" (* still inside)")
	}
	fmt.Println()
	return nil
}

func printDecision(d attendance.Decision) {
	fmt.Printf("Outcome: %s\n", d.Outcome)
	if d.Next != nil {
		fmt.Printf("  Status: %s\n", d.Next.Status)
		if d.Next.EntryTime != "" {
			fmt.Printf("  Entry:  %s\n", d.Next.EntryTime)
		}
		if d.Next.ExitTime != "" {
			fmt.Printf("  Exit:   %s\n", d.Next.ExitTime)
		}
	}
}

func runAttendanceToggle(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.admin.Toggle(ctx, category, a.admin.Today(), args[1], attendance.EditorAdministrator)
	if err != nil {
		return err
	}
	printDecision(d)
	return nil
}

func runAttendanceEdit(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.admin.Edit(ctx, category, a.dateArg(args, 1), args[2], attendance.EditorAdministrator,
		mustGetString(cmd, "entry"), mustGetString(cmd, "exit"))
	if err != nil {
		return err
	}
	printDecision(d)
	return nil
}

func runAttendanceDelete(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.admin.DeleteRecord(ctx, category, a.dateArg(args, 1), args[2])
	if err != nil {
		return err
	}
	printDecision(d)
	return nil
}

func runAttendancePercentage(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	personID := args[1]
	if err := attendance.ValidatePersonID(personID); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	days, err := a.store.List(ctx, category.AttendanceCollection())
	if err != nil {
		return err
	}
	present, total := attendance.PresentDays(days, personID)
	fmt.Printf("%s: %s (%d of %d days)\n", personID, attendance.Percentage(days, personID), present, total)
	return nil
}

func runAttendanceExport(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	format := strings.ToLower(mustGetString(cmd, "format"))
	if format != "csv" && format != "xlsx" {
		return fmt.Errorf("unsupported format %q", format)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sheet, err := a.loadSheet(ctx, category, a.dateArg(args, 1))
	if err != nil {
		return err
	}

	output := mustGetString(cmd, "output")
	if output == "" {
		output = fmt.Sprintf("%s_attendance_%s.%s", sheet.Category, sheet.Date, format)
	}

	var w io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if format == "xlsx" {
		err = sheet.WriteXLSX(w)
	} else {
		err = sheet.WriteCSV(w)
	}
	if err != nil {
		return fmt.Errorf("exporting sheet: %w", err)
	}
	if output != "-" {
		fmt.Printf("Exported %d rows to %s\n", len(sheet.Rows), output)
	}
	return nil
}
