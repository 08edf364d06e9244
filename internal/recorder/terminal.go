package recorder

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/capture"
	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// Delays between cycles.
type Delays struct {
	Success     time.Duration
	Reject      time.Duration
	Retry       time.Duration // after a liveness failure
	EmptyRoster time.Duration
}

// DelaysFromConfig reads the re-arm delays from the terminal configuration.
func DelaysFromConfig(cfg config.TerminalConfig) Delays {
	return Delays{
		Success:     cfg.SuccessDelay,
		Reject:      cfg.RejectDelay,
		Retry:       cfg.RetryDelay,
		EmptyRoster: cfg.EmptyRosterDelay,
	}
}

// For returns the delay before the next cycle after err.
func (d Delays) For(err error) time.Duration {
	switch {
	case err == nil:
		return d.Success
	case errors.Is(err, ErrLivenessFailed):
		return d.Retry
	case errors.Is(err, ErrEmptyRoster):
		return d.EmptyRoster
	default:
		return d.Reject
	}
}

// Terminal runs recognition cycles in a loop until its context ends.
type Terminal struct {
	Recorder *Recorder
	Source   capture.Source
	Category roster.Category
	Delays   Delays
	Logger   *zap.Logger

	// OnResult receives every cycle outcome and its user message.
	OnResult func(res *Result, err error, message string)
}

// Run loops until ctx is done. Errors of a single cycle never stop the loop.
func (t *Terminal) Run(ctx context.Context) error {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for {
		res, err := t.Recorder.RunCycle(ctx, t.Category, t.Source)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg := UserMessage(res, err)
		if t.OnResult != nil {
			t.OnResult(res, err, msg)
		}
		if err != nil && !errors.Is(err, ErrUnmatched) && !errors.Is(err, ErrLivenessFailed) && !errors.Is(err, ErrNoFaceDetected) {
			logger.Warn("recognition cycle failed", zap.String("message", msg), zap.Error(err))
		}

		t.Recorder.setState(Cooldown)
		delay := t.Delays.For(err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.Recorder.setState(Idle)
			return ctx.Err()
		case <-timer.C:
		}
		t.Recorder.setState(Idle)
	}
}
