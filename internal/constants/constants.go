// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Recognition constants
const (
	// DefaultMatchThreshold is the maximum Euclidean distance between a probe
	// descriptor and an enrolled one for the pair to count as a match.
	DefaultMatchThreshold = 0.45

	// DefaultMinHappy is the minimum "happy" expression confidence the smile
	// liveness check accepts.
	DefaultMinHappy = 0.70
)

// Geofence constants
const (
	// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
	EarthRadiusMeters = 6371e3

	// DefaultGeofenceRadius is the accepted distance from the target in meters.
	DefaultGeofenceRadius = 50.0
)

// Date and time formats
const (
	// DateKeyLayout formats the key of a per-day attendance document.
	DateKeyLayout = "2006-01-02"

	// ClockLayout formats entry and exit wall-clock times.
	ClockLayout = "15:04:05"
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) of a captured frame
	// sent to the extractor.
	MaxImageSize = 1280

	// DefaultConcurrency is the default number of parallel workers for bulk
	// enrollment and identity cascades.
	DefaultConcurrency = 5
)

// Web constants
const (
	// SessionCollection holds administrator sessions so they survive restarts.
	SessionCollection = "sessions"
)
