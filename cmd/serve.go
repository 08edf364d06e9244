package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/capture"
	"github.com/kozaktomas/attendance-terminal/internal/recorder"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
	"github.com/kozaktomas/attendance-terminal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Attendance Terminal web server.

The server exposes the kiosk API (recognition, live event feed) and the
administrator API (roster, day sheets, exports, analytics). With --kiosk and
CAPTURE_SOURCE set it also runs the recognition loop against the camera and
streams every result to /api/v1/terminal/events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (defaults to random)")
	serveCmd.Flags().Bool("kiosk", false, "Run the recognition loop against CAPTURE_SOURCE")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}
	if secret := mustGetString(cmd, "session-secret"); secret != "" {
		a.cfg.Web.SessionSecret = secret
	}
	kiosk := mustGetBool(cmd, "kiosk")

	if !a.credentials.Configured() {
		a.logger.Warn("ADMIN_EMAIL / ADMIN_PASSWORD_HASH not set, administrator login is disabled")
	}

	if err := a.watch(ctx); err != nil {
		return err
	}

	var server *web.Server
	rec, err := a.withRecorder(ctx, func(s recorder.State) {
		if server != nil {
			server.Terminal().PublishState(s)
		}
	})
	if err != nil {
		return err
	}

	var live capture.Source
	if a.cfg.Capture.Source != "" {
		if live, err = capture.Open(a.cfg.Capture.Source, a.cfg.Capture.Timeout); err != nil {
			return fmt.Errorf("opening capture source: %w", err)
		}
	} else if kiosk {
		return errors.New("--kiosk requires CAPTURE_SOURCE")
	}

	server = web.NewServer(a.cfg, web.Deps{
		Store:       a.store,
		Roster:      a.roster,
		Recorder:    rec,
		Admin:       a.admin,
		Credentials: a.credentials,
		LiveSource:  live,
		Logger:      a.logger.Named("web"),
	})

	if kiosk {
		category, err := roster.ParseCategory(a.cfg.Terminal.Category)
		if err != nil {
			return err
		}
		terminal := &recorder.Terminal{
			Recorder: rec,
			Source:   live,
			Category: category,
			Delays:   recorder.DelaysFromConfig(a.cfg.Terminal),
			Logger:   a.logger.Named("kiosk"),
			OnResult: server.Terminal().Publish,
		}
		go func() {
			if err := terminal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("kiosk loop stopped", zap.Error(err))
			}
		}()
		a.logger.Info("kiosk loop started", zap.String("category", string(category)))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Attendance Terminal on http://%s:%d\n", a.cfg.Web.Host, a.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
