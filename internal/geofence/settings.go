package geofence

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/database"
)

const (
	// ModeDefaults enforces the built-in targets and only logs the stored document.
	ModeDefaults = "defaults"
	// ModeStored lets the stored document override the built-in targets.
	ModeStored = "stored"
)

// Settings mirrors the settings/geofencing document. Fields are pointers so a
// missing field keeps the default. Stored values may be numbers or numeric strings.
type Settings struct {
	FacultyLat *float64
	FacultyLng *float64
	AdminLat   *float64
	AdminLng   *float64
	Radius     *float64
}

// SettingsFromDocument decodes a settings document.
func SettingsFromDocument(data map[string]any) Settings {
	return Settings{
		FacultyLat: number(data["facultyLat"]),
		FacultyLng: number(data["facultyLng"]),
		AdminLat:   number(data["adminLat"]),
		AdminLng:   number(data["adminLng"]),
		Radius:     number(data["radius"]),
	}
}

func number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	// A zero value is treated as unset, like the falsy check of the stored form.
	if f == 0 {
		return nil
	}
	return &f
}

// Policy resolves the target and radius for a category from the configured
// defaults and the last stored settings document.
type Policy struct {
	cfg    config.GeofenceConfig
	stored atomic.Pointer[Settings]
	logger *zap.Logger
}

// NewPolicy creates a policy from configuration.
func NewPolicy(cfg config.GeofenceConfig, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = constants.DefaultGeofenceRadius
	}
	return &Policy{cfg: cfg, logger: logger}
}

// Enforced reports whether category must pass the geofence check.
func (p *Policy) Enforced(category string) bool {
	return p.cfg.IsGeofenced(category)
}

// Update replaces the stored settings snapshot.
func (p *Policy) Update(s *Settings) {
	p.stored.Store(s)
	if p.cfg.Mode == ModeStored {
		p.logger.Info("geofencing settings loaded")
	} else {
		p.logger.Info("geofencing settings loaded but ignored, enforcing defaults")
	}
}

// Stored returns the last stored settings, or nil.
func (p *Policy) Stored() *Settings {
	return p.stored.Load()
}

// Target returns the target point and allowed radius for category.
func (p *Policy) Target(category string) (Point, float64) {
	def := p.cfg.Targets[category]
	target := Point{Lat: def.Lat, Lng: def.Lng}
	radius := p.cfg.RadiusMeters

	s := p.stored.Load()
	if p.cfg.Mode != ModeStored || s == nil {
		return target, radius
	}

	var lat, lng *float64
	switch category {
	case "faculty":
		lat, lng = s.FacultyLat, s.FacultyLng
	case "administrator":
		lat, lng = s.AdminLat, s.AdminLng
	}
	if lat != nil {
		target.Lat = *lat
	}
	if lng != nil {
		target.Lng = *lng
	}
	if s.Radius != nil {
		radius = *s.Radius
	}
	return target, radius
}

// Watch keeps the stored settings in sync with the settings collection.
func (p *Policy) Watch(ctx context.Context, r database.DocumentReader) error {
	return database.Follow(ctx, r, database.SettingsCollection, func(snap database.Snapshot) {
		doc := snap.Find(database.GeofencingSettingsKey)
		if doc == nil {
			p.logger.Info("no geofencing settings found, using defaults")
			p.stored.Store(nil)
			return
		}
		s := SettingsFromDocument(doc.Data)
		p.Update(&s)
	})
}
