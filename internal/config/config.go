package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database    DatabaseConfig
	Matching    MatchingConfig
	Geofence    GeofenceConfig
	Terminal    TerminalConfig
	Capture     CaptureConfig
	Extractor   ExtractorConfig
	Geolocation GeolocationConfig
	Notify      NotifyConfig
	Admin       AdminConfig
	Web         WebConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Backend      string        // memory, sqlite, postgres or mariadb (default sqlite)
	URL          string        // PostgreSQL URL or MariaDB DSN
	SQLitePath   string        // defaults to attendance.db
	MaxOpenConns int           // Maximum open connections (default 25)
	MaxIdleConns int           // Maximum idle connections (default 5)
	PollInterval time.Duration // Subscription poll interval for sqlite/mariadb
}

type MatchingConfig struct {
	Threshold float64 `yaml:"threshold"` // maximum Euclidean distance for a match
	MinHappy  float64 `yaml:"min_happy"` // liveness: minimum "happy" expression confidence
}

type GeoPoint struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

type GeofenceConfig struct {
	Mode         string              `yaml:"mode"`       // "defaults" or "stored"
	Categories   []string            `yaml:"categories"` // categories subject to the geofence check
	RadiusMeters float64             `yaml:"radius_meters"`
	Timeout      time.Duration       `yaml:"timeout"`
	Targets      map[string]GeoPoint `yaml:"targets"`
}

type TerminalConfig struct {
	Category         string        `yaml:"category"`
	RejectDelay      time.Duration `yaml:"reject_delay"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	SuccessDelay     time.Duration `yaml:"success_delay"`
	EmptyRosterDelay time.Duration `yaml:"empty_roster_delay"`
	TimeFormat       string        `yaml:"time_format"`
	Timezone         string        // IANA name, empty for the host zone
}

type CaptureConfig struct {
	Source  string        // directory path or http(s) snapshot URL
	MaxSize int           // frames are downscaled to fit this size (default 1280)
	Timeout time.Duration // per-frame timeout (default 5s)
}

type ExtractorConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // default 15s
}

type GeolocationConfig struct {
	URL    string // HTTP endpoint returning {"lat","lng","accuracy"}
	Static string // fixed "lat,lng[,accuracy]" for terminals bolted to a wall
}

type NotifyConfig struct {
	EmailJS EmailJSConfig
	Redis   RedisConfig
	MQTT    MQTTConfig
	Workers int
}

type EmailJSConfig struct {
	URL              string // defaults to https://api.emailjs.com/api/v1.0/email/send
	ServiceID        string
	TemplateID       string
	UserID           string
	DefaultRecipient string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string // defaults to attendance:events
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // defaults to attendance/events
}

type AdminConfig struct {
	Email        string
	PasswordHash string // bcrypt hash
}

type WebConfig struct {
	Host           string
	Port           int
	SessionSecret  string
	AllowedOrigins []string // besides localhost, which is always allowed
	MaxUploadSize  int64    // bytes accepted for a multipart image upload
}

type LogConfig struct {
	Level  string
	Format string
}

// Enabled reports whether the EmailJS sink is configured.
func (c EmailJSConfig) Enabled() bool {
	return c.ServiceID != "" && c.TemplateID != ""
}

// IsGeofenced reports whether the given category is subject to the geofence check.
func (c GeofenceConfig) IsGeofenced(category string) bool {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat, category) {
			return true
		}
	}
	return false
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("3s", "500ms").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

// envString returns the variable or the default when unset.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable. An explicitly empty value ("-")
// yields an empty list.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if s == "-" {
		return []string{}
	}
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// envOrigins splits a comma-separated list of origins, keeping their case.
func envOrigins(key string) []string {
	var out []string
	for o := range strings.SplitSeq(os.Getenv(key), ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type defaults struct {
	Matching MatchingConfig `yaml:"matching"`
	Geofence GeofenceConfig `yaml:"geofence"`
	Terminal TerminalConfig `yaml:"terminal"`
}

func loadDefaults() defaults {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	targets := make(map[string]GeoPoint, len(d.Geofence.Targets))
	for cat, p := range d.Geofence.Targets {
		targets[cat] = p
	}
	if p, ok := targets["faculty"]; ok {
		p.Lat = envFloat("GEOFENCE_FACULTY_LAT", p.Lat)
		p.Lng = envFloat("GEOFENCE_FACULTY_LNG", p.Lng)
		targets["faculty"] = p
	}
	if p, ok := targets["administrator"]; ok {
		p.Lat = envFloat("GEOFENCE_ADMIN_LAT", p.Lat)
		p.Lng = envFloat("GEOFENCE_ADMIN_LNG", p.Lng)
		targets["administrator"] = p
	}

	return &Config{
		Database: DatabaseConfig{
			Backend:      envString("DATABASE_BACKEND", "sqlite"),
			URL:          os.Getenv("DATABASE_URL"),
			SQLitePath:   envString("SQLITE_PATH", "attendance.db"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			PollInterval: envDuration("DATABASE_POLL_INTERVAL", 2*time.Second),
		},
		Matching: MatchingConfig{
			Threshold: envFloat("MATCH_THRESHOLD", d.Matching.Threshold),
			MinHappy:  envFloat("LIVENESS_MIN_HAPPY", d.Matching.MinHappy),
		},
		Geofence: GeofenceConfig{
			Mode:         envString("GEOFENCE_MODE", d.Geofence.Mode),
			Categories:   envList("GEOFENCE_CATEGORIES", d.Geofence.Categories),
			RadiusMeters: envFloat("GEOFENCE_RADIUS", d.Geofence.RadiusMeters),
			Timeout:      d.Geofence.Timeout,
			Targets:      targets,
		},
		Terminal: TerminalConfig{
			Category:         envString("TERMINAL_CATEGORY", d.Terminal.Category),
			RejectDelay:      envDuration("TERMINAL_REJECT_DELAY", d.Terminal.RejectDelay),
			RetryDelay:       envDuration("TERMINAL_RETRY_DELAY", d.Terminal.RetryDelay),
			SuccessDelay:     envDuration("TERMINAL_SUCCESS_DELAY", d.Terminal.SuccessDelay),
			EmptyRosterDelay: envDuration("TERMINAL_EMPTY_ROSTER_DELAY", d.Terminal.EmptyRosterDelay),
			TimeFormat:       envString("TERMINAL_TIME_FORMAT", d.Terminal.TimeFormat),
			Timezone:         os.Getenv("TERMINAL_TIMEZONE"),
		},
		Capture: CaptureConfig{
			Source:  os.Getenv("CAPTURE_SOURCE"),
			MaxSize: envInt("CAPTURE_MAX_SIZE", 1280),
			Timeout: envDuration("CAPTURE_TIMEOUT", 5*time.Second),
		},
		Extractor: ExtractorConfig{
			URL:     os.Getenv("EXTRACTOR_URL"),
			Timeout: envDuration("EXTRACTOR_TIMEOUT", 15*time.Second),
		},
		Geolocation: GeolocationConfig{
			URL:    os.Getenv("GEOLOCATION_URL"),
			Static: os.Getenv("GEOLOCATION_STATIC"),
		},
		Notify: NotifyConfig{
			EmailJS: EmailJSConfig{
				URL:              envString("EMAILJS_URL", "https://api.emailjs.com/api/v1.0/email/send"),
				ServiceID:        os.Getenv("EMAILJS_SERVICE_ID"),
				TemplateID:       os.Getenv("EMAILJS_TEMPLATE_ID"),
				UserID:           os.Getenv("EMAILJS_USER_ID"),
				DefaultRecipient: envString("EMAILJS_DEFAULT_RECIPIENT", "parent@example.com"),
			},
			Redis: RedisConfig{
				Addr:     os.Getenv("REDIS_ADDR"),
				Password: os.Getenv("REDIS_PASSWORD"),
				DB:       envInt("REDIS_DB", 0),
				Stream:   envString("REDIS_STREAM", "attendance:events"),
			},
			MQTT: MQTTConfig{
				Broker:   os.Getenv("MQTT_BROKER"),
				ClientID: envString("MQTT_CLIENT_ID", "attendance-terminal"),
				Username: os.Getenv("MQTT_USERNAME"),
				Password: os.Getenv("MQTT_PASSWORD"),
				Topic:    envString("MQTT_TOPIC", "attendance/events"),
			},
			Workers: envInt("NOTIFY_WORKERS", 4),
		},
		Admin: AdminConfig{
			Email:        os.Getenv("ADMIN_EMAIL"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
			AllowedOrigins: envOrigins("WEB_ALLOWED_ORIGINS"),
			MaxUploadSize:  int64(envInt("WEB_MAX_UPLOAD_SIZE", 10<<20)),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "console"),
		},
	}
}

// Location returns the terminal time zone, falling back to the host zone.
func (c *TerminalConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
