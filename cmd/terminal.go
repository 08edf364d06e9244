package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-terminal/internal/capture"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
	"github.com/kozaktomas/attendance-terminal/internal/recorder"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

var terminalCmd = &cobra.Command{
	Use:   "terminal",
	Short: "Run the kiosk recognition loop without the web server",
	Long: `Run the recognition loop against a capture source and print every result.

The source is a directory that receives camera frames or an http(s) snapshot
URL. Use --once to process a single image file and exit.

Examples:
  # Watch a directory the camera writes frames to
  attendance-terminal terminal --source /var/spool/camera --category faculty

  # Recognize a single photo
  attendance-terminal terminal --once photo.jpg`,
	RunE: runTerminal,
}

func init() {
	rootCmd.AddCommand(terminalCmd)

	terminalCmd.Flags().String("source", "", "Capture source (overrides CAPTURE_SOURCE)")
	terminalCmd.Flags().String("category", "", "Category to recognize (overrides TERMINAL_CATEGORY)")
	terminalCmd.Flags().String("once", "", "Recognize a single image file and exit")
}

func printResult(res *recorder.Result, err error, message string) {
	if err != nil {
		fmt.Printf("✗ %s\n", message)
		return
	}
	fmt.Printf("✓ %s", message)
	if res != nil && res.Match.Matched {
		fmt.Printf(" (confidence %s)", facematch.FormatConfidence(res.Match.Confidence))
	}
	fmt.Println()
}

func runTerminal(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	categoryName := a.cfg.Terminal.Category
	if c := mustGetString(cmd, "category"); c != "" {
		categoryName = c
	}
	category, err := roster.ParseCategory(categoryName)
	if err != nil {
		return err
	}

	if err := a.watch(ctx); err != nil {
		return err
	}
	rec, err := a.withRecorder(ctx, nil)
	if err != nil {
		return err
	}

	if path := mustGetString(cmd, "once"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		// The watch delivers its first snapshot asynchronously.
		if err := a.loadRoster(ctx); err != nil {
			return err
		}
		res, err := rec.RunCycle(ctx, category, capture.NewStaticSource(data))
		printResult(res, err, recorder.UserMessage(res, err))
		return err
	}

	source := a.cfg.Capture.Source
	if s := mustGetString(cmd, "source"); s != "" {
		source = s
	}
	live, err := capture.Open(source, a.cfg.Capture.Timeout)
	if err != nil {
		return fmt.Errorf("opening capture source: %w", err)
	}

	fmt.Printf("Recognizing %ss from %s (Ctrl+C to stop)\n", category, source)
	terminal := &recorder.Terminal{
		Recorder: rec,
		Source:   live,
		Category: category,
		Delays:   recorder.DelaysFromConfig(a.cfg.Terminal),
		Logger:   a.logger.Named("kiosk"),
		OnResult: printResult,
	}
	if err := terminal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
