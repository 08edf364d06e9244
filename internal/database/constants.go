package database

import "time"

// Collection names shared by every backend.
const (
	// SettingsCollection holds singleton configuration documents.
	SettingsCollection = "settings"

	// GeofencingSettingsKey is the key of the geofence settings document.
	GeofencingSettingsKey = "geofencing"
)

// Subscription parameters for backends without a native change feed.
const (
	// DefaultPollInterval is how often a polling subscription re-lists a collection.
	DefaultPollInterval = 2 * time.Second

	// SubscriptionBuffer is the per-subscriber snapshot buffer. Slow subscribers
	// only ever miss intermediate snapshots, never the latest one.
	SubscriptionBuffer = 1
)
