package cmd

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List and manage enrolled people",
	Long:  `Commands for listing, enrolling, importing and deleting students, faculty and administrators.`,
}

var rosterListCmd = &cobra.Command{
	Use:   "list <category>",
	Short: "List the identities of a category",
	Args:  cobra.ExactArgs(1),
	RunE:  runRosterList,
}

var rosterEnrollCmd = &cobra.Command{
	Use:   "enroll <category> <image>",
	Short: "Enroll one person from a photo",
	Long: `Enroll one person from a photo. The face is extracted from the image and
rejected when it is already enrolled in the same category.

Example:
  attendance-terminal roster enroll student alice.jpg --name "Alice Smith" --id 21CS042 --branch CSE`,
	Args: cobra.ExactArgs(2),
	RunE: runRosterEnroll,
}

var rosterImportCmd = &cobra.Command{
	Use:   "import <category> <manifest>",
	Short: "Bulk enroll people from a CSV or XLSX manifest",
	Long: `Bulk enroll people from a manifest with a header row. Recognized columns:
name, id, email, phone, branch, image. Image paths are relative to the manifest.

Example:
  attendance-terminal roster import faculty staff.xlsx --concurrency 3`,
	Args: cobra.ExactArgs(2),
	RunE: runRosterImport,
}

var rosterDeleteCmd = &cobra.Command{
	Use:   "delete <category> <id>",
	Short: "Delete an identity and its attendance history",
	Long: `Delete an identity and remove its record from every attendance day.
The administrator password is required and verified before anything is removed.`,
	Args: cobra.ExactArgs(2),
	RunE: runRosterDelete,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterListCmd, rosterEnrollCmd, rosterImportCmd, rosterDeleteCmd)

	rosterListCmd.Flags().String("q", "", "Only show names containing this text")
	rosterListCmd.Flags().Bool("json", false, "Output as JSON")

	rosterEnrollCmd.Flags().String("name", "", "Display name")
	rosterEnrollCmd.Flags().String("id", "", "Student ID, faculty ID or administrator role")
	rosterEnrollCmd.Flags().String("email", "", "Contact email")
	rosterEnrollCmd.Flags().String("phone", "", "Contact phone")
	rosterEnrollCmd.Flags().String("branch", "", "Student branch")

	rosterImportCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of parallel enrollments")

	rosterDeleteCmd.Flags().String("password", "", "Administrator password (prompted when empty)")
	rosterDeleteCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func runRosterList(cmd *cobra.Command, args []string) error {
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

	snap, err := a.roster.Load(ctx, a.store, category)
	if err != nil {
		return err
	}
	identities := snap.Identities
	if q := mustGetString(cmd, "q"); q != "" {
		identities = snap.FindByName(q)
	}
	sort.Slice(identities, func(i, j int) bool {
		return strings.ToLower(identities[i].DisplayName) < strings.ToLower(identities[j].DisplayName)
	})

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(identities)
	}

	if len(identities) == 0 {
		fmt.Printf("No %ss found.\n", category)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	label := strings.ToUpper(category.SecondaryLabel())
	fmt.Fprintf(w, "ID\tNAME\t%s\tEMAIL\tFACE\n", label)
	fmt.Fprintf(w, "--\t----\t%s\t-----\t----\n", strings.Repeat("-", len(label)))
	for _, id := range identities {
		face := ""
		if id.HasDescriptor() {
			face = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id.ID, id.DisplayName, id.SecondaryID, id.Email, face)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d %ss\n", len(identities), category)
	return nil
}

func runRosterEnroll(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ident, err := a.admin.Enroll(ctx, admin.EnrollRequest{
		Category:       category,
		DisplayName:    mustGetString(cmd, "name"),
		SecondaryID:    mustGetString(cmd, "id"),
		Email:          mustGetString(cmd, "email"),
		Phone:          mustGetString(cmd, "phone"),
		Branch:         mustGetString(cmd, "branch"),
		ImageReference: filepath.Base(args[1]),
		Image:          image,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Enrolled %s %q as %s\n", category, ident.DisplayName, ident.ID)
	return nil
}

// manifestRow is one person of an import manifest.
type manifestRow struct {
	line int
	req  admin.EnrollRequest
	path string
}

// readManifest reads a CSV or XLSX manifest into enrollment requests.
func readManifest(path string, category roster.Category) ([]manifestRow, error) {
	var rows [][]string
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening workbook: %w", err)
		}
		defer f.Close()
		if rows, err = f.GetRows(f.GetSheetName(0)); err != nil {
			return nil, fmt.Errorf("reading workbook: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r := csv.NewReader(file)
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		if rows, err = r.ReadAll(); err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
	}
	if len(rows) < 2 {
		return nil, errors.New("manifest has no data rows")
	}

	columns := map[string]int{}
	for i, h := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := columns["name"]; !ok {
		return nil, errors.New(`manifest needs a "name" column`)
	}
	if _, ok := columns["image"]; !ok {
		return nil, errors.New(`manifest needs an "image" column`)
	}
	cell := func(row []string, name string) string {
		if i, ok := columns[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	dir := filepath.Dir(path)
	out := make([]manifestRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		image := cell(row, "image")
		if image != "" && !filepath.IsAbs(image) {
			image = filepath.Join(dir, image)
		}
		out = append(out, manifestRow{
			line: i + 2,
			path: image,
			req: admin.EnrollRequest{
				Category:       category,
				DisplayName:    cell(row, "name"),
				SecondaryID:    cell(row, "id"),
				Email:          cell(row, "email"),
				Phone:          cell(row, "phone"),
				Branch:         cell(row, "branch"),
				ImageReference: filepath.Base(image),
			},
		})
	}
	return out, nil
}

func runRosterImport(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)

	rows, err := readManifest(args[1], category)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("people"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	// Parallel rows do not see each other in the duplicate check.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		enrolled  atomic.Int32
		failures  []string
		semaphore = make(chan struct{}, concurrency)
	)
	for _, row := range rows {
		wg.Add(1)
		go func(row manifestRow) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			defer bar.Add(1)

			err := enrollRow(ctx, a.admin, row)
			if err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("line %d (%s): %v", row.line, row.req.DisplayName, err))
				mu.Unlock()
				a.logger.Debug("import row failed", zap.Int("line", row.line), zap.Error(err))
				return
			}
			enrolled.Add(1)
		}(row)
	}
	wg.Wait()
	fmt.Println()

	sort.Strings(failures)
	for _, f := range failures {
		fmt.Printf("  ✗ %s\n", f)
	}
	fmt.Printf("Enrolled %d of %d %ss\n", enrolled.Load(), len(rows), category)
	if len(failures) > 0 {
		return fmt.Errorf("%d rows failed", len(failures))
	}
	return nil
}

func enrollRow(ctx context.Context, svc *admin.Service, row manifestRow) error {
	if row.path == "" {
		return admin.ErrNoImage
	}
	image, err := os.ReadFile(row.path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	row.req.Image = image
	_, err = svc.Enroll(ctx, row.req)
	return err
}

// promptLine prints a prompt and reads one line from stdin.
func promptLine(in io.Reader, prompt string) string {
	fmt.Print(prompt)
	response, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(response)
}

func runRosterDelete(cmd *cobra.Command, args []string) error {
	category, err := roster.ParseCategory(args[0])
	if err != nil {
		return err
	}
	id := args[1]

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ident, err := a.admin.Identity(ctx, category, id)
	if err != nil {
		return err
	}

	if !mustGetBool(cmd, "yes") {
		answer := strings.ToLower(promptLine(os.Stdin,
			fmt.Sprintf("Delete %s %q and all of their attendance? [y/N]: ", category, ident.DisplayName)))
		if answer != "y" && answer != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	password := mustGetString(cmd, "password")
	if password == "" {
		password = promptLine(os.Stdin, "Administrator password: ")
	}

	var (
		bar   *progressbar.ProgressBar
		barMu sync.Mutex
	)
	deleted, err := a.admin.DeleteIdentity(ctx, category, id, a.credentials.Email(), password, func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Removing attendance"),
				progressbar.OptionShowCount(),
				progressbar.OptionFullWidth())
		}
		bar.Set(done)
	})
	if bar != nil {
		fmt.Println()
	}
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %s %q and %d attendance records\n", category, ident.DisplayName, deleted)
	return nil
}
