package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Matcher strategies.
const (
	StrategyLinear = "linear"
	StrategyHNSW   = "hnsw"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMariaDB  = "mariadb"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Attendance AttendanceConfig `yaml:"attendance"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Detection  DetectionConfig  `yaml:"detection"`
	Kiosk      KioskConfig      `yaml:"kiosk"`
	Database   DatabaseConfig   `yaml:"database"`
	Web        WebConfig        `yaml:"web"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AttendanceConfig struct {
	Timezone string `yaml:"timezone"` // IANA name or "Local"; decides the date key and HH:MM values
}

// Location resolves the configured time zone.
func (c *AttendanceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// MatcherConfig selects how live descriptors are resolved. The linear
// strategy scans every sample. With hnsw an accepted match is still the
// globally nearest sample, but a face whose neighbors the graph misses may
// resolve to unknown where linear would have matched.
type MatcherConfig struct {
	Threshold     float64 `yaml:"threshold"`      // maximum Euclidean distance for a match
	Strategy      string  `yaml:"strategy"`       // linear or hnsw
	DescriptorDim int     `yaml:"descriptor_dim"` // expected descriptor length, 0 disables the check
}

type DetectionConfig struct {
	URL      string        `yaml:"url"`       // face embedding server, defaults to http://localhost:8000
	Timeout  time.Duration `yaml:"timeout"`   // per detection call
	MaxFrame int           `yaml:"max_frame"` // frames are downscaled to fit this many pixels per side
}

type KioskConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	CameraSnapshotURL string        `yaml:"camera_snapshot_url"` // optional JPEG snapshot endpoint polled by serve
}

type DatabaseConfig struct {
	Driver         string        `yaml:"driver"`          // postgres, mariadb, mongo or memory
	URL            string        `yaml:"url"`             // DSN or connection URI for the selected driver
	MaxOpenConns   int           `yaml:"max_open_conns"`  // SQL drivers only
	MaxIdleConns   int           `yaml:"max_idle_conns"`  // SQL drivers only
	MongoDatabase  string        `yaml:"mongo_database"`  // database name for the mongo driver
	ResyncInterval time.Duration `yaml:"resync_interval"` // background retry of unsynced records, 0 disables
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS whitelist; localhost is always allowed
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`  // text or json
	Journal bool   `yaml:"journal"` // also log to the systemd journal
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

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration string such as "500ms", falling back to defaultVal.
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

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

// Defaults returns the embedded defaults without applying the environment.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Attendance: AttendanceConfig{
			Timezone: envString("ATTENDANCE_TIMEZONE", d.Attendance.Timezone),
		},
		Matcher: MatcherConfig{
			Threshold:     envFloat("MATCH_THRESHOLD", d.Matcher.Threshold),
			Strategy:      strings.ToLower(envString("MATCHER_STRATEGY", d.Matcher.Strategy)),
			DescriptorDim: envInt("DESCRIPTOR_DIM", d.Matcher.DescriptorDim),
		},
		Detection: DetectionConfig{
			URL:      envString("DETECTION_URL", d.Detection.URL),
			Timeout:  envDuration("DETECTION_TIMEOUT", d.Detection.Timeout),
			MaxFrame: envInt("DETECTION_MAX_FRAME", d.Detection.MaxFrame),
		},
		Kiosk: KioskConfig{
			TickInterval:      envDuration("KIOSK_TICK_INTERVAL", d.Kiosk.TickInterval),
			CameraSnapshotURL: envString("CAMERA_SNAPSHOT_URL", d.Kiosk.CameraSnapshotURL),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(envString("DATABASE_DRIVER", d.Database.Driver)),
			URL:            os.Getenv("DATABASE_URL"),
			MaxOpenConns:   envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns:   envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			MongoDatabase:  envString("MONGO_DATABASE", d.Database.MongoDatabase),
			ResyncInterval: envDuration("RESYNC_INTERVAL", d.Database.ResyncInterval),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", d.Web.Host),
			Port: envInt("WEB_PORT", d.Web.Port),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Logging: LoggingConfig{
			Level:   envString("LOG_LEVEL", d.Logging.Level),
			Format:  envString("LOG_FORMAT", d.Logging.Format),
			Journal: envBool("LOG_JOURNAL", d.Logging.Journal),
		},
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Attendance.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.Matcher.Strategy {
	case StrategyLinear, StrategyHNSW:
	default:
		errs = append(errs, fmt.Errorf("unknown MATCHER_STRATEGY %q (want linear or hnsw)", c.Matcher.Strategy))
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverMariaDB, DriverMongo:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the %s driver", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver))
	}
	if c.Kiosk.TickInterval <= 0 {
		errs = append(errs, errors.New("KIOSK_TICK_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}
