// Package config loads the monitor configuration from YAML with an optional
// .env overlay for secrets (download credential, database URL, MQTT broker).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete monitor configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stations   []StationConfig  `yaml:"stations"`
	Poller     PollerConfig     `yaml:"poller"`
	Library    LibraryConfig    `yaml:"library"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Downloads  DownloadConfig   `yaml:"downloads"`
	Credential CredentialConfig `yaml:"credential"`
	Store      StoreConfig      `yaml:"store"`
	Feed       FeedConfig       `yaml:"feed"`
	Retention  RetentionConfig  `yaml:"retention"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains general daemon settings.
type ServerConfig struct {
	Name   string `yaml:"name"`
	NodeID string `yaml:"node_id"`
}

// StationConfig describes one monitored station. Read-only to the core.
type StationConfig struct {
	Name       string      `yaml:"name"`
	URL        string      `yaml:"url"`
	Enabled    bool        `yaml:"enabled"`
	Priority   bool        `yaml:"priority"`
	InRotation bool        `yaml:"in_rotation"`
	Window     *TimeWindow `yaml:"window,omitempty"`
}

// TimeWindow restricts polling to weekdays and a minute-of-day range.
// An empty weekday list means every day.
type TimeWindow struct {
	Weekdays    []time.Weekday `yaml:"weekdays"`
	StartMinute int            `yaml:"start_minute"`
	EndMinute   int            `yaml:"end_minute"`
}

// Contains reports whether t falls inside the window. Ranges that wrap
// midnight (start > end) are honored.
func (w *TimeWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	if len(w.Weekdays) > 0 {
		ok := false
		for _, day := range w.Weekdays {
			if day == t.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	minute := t.Hour()*60 + t.Minute()
	if w.StartMinute == w.EndMinute {
		return true
	}
	if w.StartMinute < w.EndMinute {
		return minute >= w.StartMinute && minute < w.EndMinute
	}
	return minute >= w.StartMinute || minute < w.EndMinute
}

// PollerConfig contains station polling settings.
type PollerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	RotationGroups  int `yaml:"rotation_groups"`
	FetchTimeoutSec int `yaml:"fetch_timeout_seconds"`
	Retries         int `yaml:"retries"`
	RetryBackoffSec int `yaml:"retry_backoff_seconds"`
	RecentPerPoll   int `yaml:"recent_per_poll"`
}

// LibraryConfig contains existence-resolver settings.
type LibraryConfig struct {
	SearchPaths   []string `yaml:"search_paths"`
	Threshold     float64  `yaml:"threshold"`
	CacheTTLMin   int      `yaml:"cache_ttl_minutes"`
	CacheCapacity int      `yaml:"cache_capacity"`
	RescanMinutes int      `yaml:"rescan_minutes"`
}

// RankingConfig contains batched ranking-write settings.
type RankingConfig struct {
	FlushIntervalMin int `yaml:"flush_interval_minutes"`
	FlushCap         int `yaml:"flush_cap"`
	ForegroundDwellS int `yaml:"foreground_dwell_seconds"`
}

// DownloadConfig contains missing-song queue and scheduler settings.
type DownloadConfig struct {
	Enabled           bool   `yaml:"enabled"`
	SourceURL         string `yaml:"source_url"`
	Destination       string `yaml:"destination"`
	Quality           string `yaml:"quality"`
	FallbackQuality   string `yaml:"fallback_quality"`
	CooldownThreshold int    `yaml:"cooldown_threshold"`
	CooldownMinutes   int    `yaml:"cooldown_minutes"`
	DrainIntervalSec  int    `yaml:"drain_interval_seconds"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// CredentialConfig contains external credential validation settings.
type CredentialConfig struct {
	Secret          string `yaml:"secret"`
	ValidateURL     string `yaml:"validate_url"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// StoreConfig selects the persistence backend. DatabaseURL set → Postgres;
// otherwise a local SQLite file.
type StoreConfig struct {
	DatabaseURL   string `yaml:"database_url"`
	SQLitePath    string `yaml:"sqlite_path"`
	PerStationCap int    `yaml:"per_station_cap"`
}

// FeedConfig contains realtime change-feed (MQTT) settings.
type FeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Port    int    `yaml:"port"`
	Topic   string `yaml:"topic"`
}

// RetentionConfig contains housekeeping settings.
type RetentionConfig struct {
	HorizonHours    int      `yaml:"horizon_hours"`
	SweepMinutes    int      `yaml:"sweep_minutes"`
	DailyResetTimes []string `yaml:"daily_reset_times"` // "HH:MM"
	ResetMarkerPath string   `yaml:"reset_marker_path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads configuration from a YAML file, applies the .env overlay, and
// fills defaults. A missing .env file is not an error.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("AIRWATCH_CREDENTIAL")); v != "" {
		c.Credential.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AIRWATCH_MQTT_BROKER")); v != "" {
		c.Feed.Broker = v
	}
}

// ApplyDefaults fills zero values with operational defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "airwatch"
	}
	if c.Server.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "node"
		}
		c.Server.NodeID = host
	}
	if c.Poller.IntervalSeconds <= 0 {
		c.Poller.IntervalSeconds = 120
	}
	if c.Poller.RotationGroups <= 0 {
		c.Poller.RotationGroups = 3
	}
	if c.Poller.FetchTimeoutSec <= 0 {
		c.Poller.FetchTimeoutSec = 30
	}
	if c.Poller.Retries == 0 {
		c.Poller.Retries = 2
	}
	if c.Poller.RetryBackoffSec <= 0 {
		c.Poller.RetryBackoffSec = 2
	}
	if c.Poller.RecentPerPoll <= 0 {
		c.Poller.RecentPerPoll = 3
	}
	if c.Library.Threshold <= 0 || c.Library.Threshold > 1 {
		c.Library.Threshold = 0.75
	}
	if c.Library.CacheTTLMin <= 0 {
		c.Library.CacheTTLMin = 5
	}
	if c.Library.CacheCapacity <= 0 {
		c.Library.CacheCapacity = 500
	}
	if c.Library.RescanMinutes <= 0 {
		c.Library.RescanMinutes = 15
	}
	if c.Ranking.FlushIntervalMin <= 0 {
		c.Ranking.FlushIntervalMin = 30
	}
	if c.Ranking.FlushCap <= 0 {
		c.Ranking.FlushCap = 500
	}
	if c.Ranking.ForegroundDwellS <= 0 {
		c.Ranking.ForegroundDwellS = 60
	}
	if c.Downloads.CooldownThreshold <= 0 {
		c.Downloads.CooldownThreshold = 3
	}
	if c.Downloads.CooldownMinutes <= 0 {
		c.Downloads.CooldownMinutes = 10
	}
	if c.Downloads.DrainIntervalSec <= 0 {
		c.Downloads.DrainIntervalSec = 120
	}
	if c.Downloads.TimeoutSeconds <= 0 {
		c.Downloads.TimeoutSeconds = 120
	}
	if c.Downloads.Quality == "" {
		c.Downloads.Quality = "320"
	}
	if c.Downloads.FallbackQuality == "" {
		c.Downloads.FallbackQuality = "128"
	}
	if c.Credential.IntervalMinutes <= 0 {
		c.Credential.IntervalMinutes = 30
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "airwatch.db"
	}
	if c.Store.PerStationCap <= 0 {
		c.Store.PerStationCap = 1000
	}
	if c.Feed.Port <= 0 {
		c.Feed.Port = 1883
	}
	if c.Feed.Topic == "" {
		c.Feed.Topic = "airwatch/captured"
	}
	if c.Retention.HorizonHours <= 0 {
		c.Retention.HorizonHours = 24
	}
	if c.Retention.SweepMinutes <= 0 {
		c.Retention.SweepMinutes = 60
	}
	if len(c.Retention.DailyResetTimes) == 0 {
		c.Retention.DailyResetTimes = []string{"04:00", "16:00"}
	}
	if c.Retention.ResetMarkerPath == "" {
		c.Retention.ResetMarkerPath = "last_reset.txt"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
}

// EnabledStations returns the stations the poller should consider.
func (c *Config) EnabledStations() []StationConfig {
	out := make([]StationConfig, 0, len(c.Stations))
	for _, st := range c.Stations {
		if st.Enabled && strings.TrimSpace(st.URL) != "" {
			out = append(out, st)
		}
	}
	return out
}

// Print displays the effective configuration at startup.
func (c *Config) Print() {
	fmt.Printf("Server: %s\n", c.Server.Name)
	fmt.Printf("Stations: %d configured, %d enabled\n", len(c.Stations), len(c.EnabledStations()))
	fmt.Printf("Poller: every %ds in %d rotation groups\n", c.Poller.IntervalSeconds, c.Poller.RotationGroups)
	fmt.Printf("Library: threshold %.2f, %d search paths\n", c.Library.Threshold, len(c.Library.SearchPaths))
	if c.Downloads.Enabled {
		fmt.Printf("Downloads: enabled (cooldown %d fails / %d min)\n",
			c.Downloads.CooldownThreshold, c.Downloads.CooldownMinutes)
	}
	if c.Feed.Enabled {
		fmt.Printf("Feed: %s:%d (topic: %s)\n", c.Feed.Broker, c.Feed.Port, c.Feed.Topic)
	}
	if c.Store.DatabaseURL != "" {
		fmt.Printf("Store: postgres\n")
	} else {
		fmt.Printf("Store: sqlite (%s)\n", c.Store.SQLitePath)
	}
}
