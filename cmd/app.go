package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/extractor"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
	"github.com/kozaktomas/attendance-terminal/internal/geofence"
	"github.com/kozaktomas/attendance-terminal/internal/geolocation"
	"github.com/kozaktomas/attendance-terminal/internal/notify"
	"github.com/kozaktomas/attendance-terminal/internal/recorder"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

// app holds the services shared by the commands.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       database.Store
	roster      *roster.Cache
	policy      *geofence.Policy
	detector    extractor.Detector
	credentials *admin.Credentials
	admin       *admin.Service
	closers     []func()
}

// newApp opens the store and builds the admin service. Commands that record
// attendance call withRecorder afterwards.
func newApp(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		roster:      roster.NewCache(logger.Named("roster")),
		policy:      geofence.NewPolicy(cfg.Geofence, logger.Named("geofence")),
		detector:    extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Timeout),
		credentials: admin.NewCredentials(cfg.Admin),
	}
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	})

	a.admin = admin.NewService(store,
		admin.WithDetector(a.detector),
		admin.WithCredentials(a.credentials),
		admin.WithThreshold(cfg.Matching.Threshold),
		admin.WithLocation(cfg.Terminal.Location()),
		admin.WithTimeFormat(cfg.Terminal.TimeFormat),
		admin.WithConcurrency(constants.DefaultConcurrency),
		admin.WithLogger(logger.Named("admin")))
	return a, nil
}

// loadRoster reads every category once.
func (a *app) loadRoster(ctx context.Context) error {
	for _, cat := range roster.Categories() {
		snap, err := a.roster.Load(ctx, a.store, cat)
		if err != nil {
			return fmt.Errorf("loading %s roster: %w", cat, err)
		}
		a.logger.Debug("roster loaded", zap.String("category", string(cat)), zap.Int("identities", snap.Len()))
	}
	return nil
}

// watch keeps the roster and geofence settings in sync with the store until
// ctx is done.
func (a *app) watch(ctx context.Context) error {
	if err := a.roster.Watch(ctx, a.store, roster.Categories()...); err != nil {
		return err
	}
	if err := a.policy.Watch(ctx, a.store); err != nil {
		return fmt.Errorf("watching geofence settings: %w", err)
	}
	return nil
}

// withRecorder builds the recognition pipeline with notification sinks and
// the geofence checker.
func (a *app) withRecorder(ctx context.Context, onState func(recorder.State)) (*recorder.Recorder, error) {
	position, err := geolocation.FromConfig(a.cfg.Geolocation)
	if err != nil {
		return nil, fmt.Errorf("configuring geolocation: %w", err)
	}

	dispatcher, closeNotify, err := notify.FromConfig(ctx, a.cfg.Notify, a.logger.Named("notify"))
	if err != nil {
		return nil, fmt.Errorf("configuring notifications: %w", err)
	}
	a.closers = append(a.closers, closeNotify)

	return recorder.New(recorder.Options{
		Store:        a.store,
		Roster:       a.roster,
		Detector:     a.detector,
		Liveness:     facematch.SmilePolicy{MinHappy: a.cfg.Matching.MinHappy},
		Geofence:     geofence.NewChecker(a.policy, position, a.cfg.Geofence.Timeout),
		Notifier:     dispatcher,
		Threshold:    a.cfg.Matching.Threshold,
		Location:     a.cfg.Terminal.Location(),
		TimeFormat:   a.cfg.Terminal.TimeFormat,
		MaxFrameSize: a.cfg.Capture.MaxSize,
		Logger:       a.logger.Named("recorder"),
		OnState:      onState,
	}), nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.logger.Sync()
}
