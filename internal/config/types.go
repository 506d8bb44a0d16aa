package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bosstracker/internal/tracker"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Tracker  TrackerConfig  `json:"tracker"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
	Digest   DigestConfig   `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChannelID is the chat the tracker owns. Commands from other chats are ignored.
	ChannelID int64 `json:"channel_id"`
	// ThreadID targets a forum topic inside ChannelID (0 for none).
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// API overrides the Bot API base URL (self-hosted bot api server).
	API string `json:"api,omitempty"`
	// Prefixes that mark a command. Defaults to "/" and "!".
	Prefixes []string `json:"prefixes,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/bosstracker.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/boss" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TrackerConfig overrides the encounter constants. Zero values keep the defaults.
// All durations are Go duration strings.
type TrackerConfig struct {
	FixedDelay      string   `json:"fixed_delay,omitempty"`
	AlertThresholds []string `json:"alert_thresholds,omitempty"`
	StatusCooldown  string   `json:"status_cooldown,omitempty"`
	TickInterval    string   `json:"tick_interval,omitempty"`
	HistorySize     int      `json:"history_size,omitempty"`
	ChirpDelay      string   `json:"chirp_delay,omitempty"`
	// ChirpTemplates are sent in turn once the boss is up. "{T}" is replaced
	// with the time since the boss appeared.
	ChirpTemplates []string `json:"chirp_templates,omitempty"`
	SendTimeout    string   `json:"send_timeout,omitempty"`
}

// MetricsConfig controls the HTTP server exposing /metrics, /healthz and pprof.
//
// Prefer binding to localhost; pprof is only mounted when Pprof is set.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Pprof   bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// DigestConfig schedules a periodic history post. Empty schedule disables it.
type DigestConfig struct {
	// Schedule is a cron spec with an optional seconds field ("0 0 12 * * *" or "@daily").
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

const DefaultTickInterval = 500 * time.Millisecond

// Resolve converts the tracker section into the tracker configuration and
// the tick interval.
func (c TrackerConfig) Resolve() (tracker.Config, time.Duration, error) {
	def := tracker.DefaultConfig()
	out := def
	var err error

	if out.FixedDelay, err = ParseDurationOrDefault("tracker.fixed_delay", c.FixedDelay, def.FixedDelay); err != nil {
		return tracker.Config{}, 0, err
	}
	if len(c.AlertThresholds) > 0 {
		out.AlertThresholds = make([]time.Duration, 0, len(c.AlertThresholds))
		for i, raw := range c.AlertThresholds {
			d, err := ParseDurationField(fmt.Sprintf("tracker.alert_thresholds[%d]", i), raw)
			if err != nil {
				return tracker.Config{}, 0, err
			}
			if d == 0 {
				return tracker.Config{}, 0, fmt.Errorf("tracker.alert_thresholds[%d]: must be > 0", i)
			}
			out.AlertThresholds = append(out.AlertThresholds, d)
		}
	}
	// "0s" is a valid cooldown (no throttling); only an empty value keeps the default.
	if strings.TrimSpace(c.StatusCooldown) != "" {
		if out.StatusCooldown, err = ParseDurationField("tracker.status_cooldown", c.StatusCooldown); err != nil {
			return tracker.Config{}, 0, err
		}
	}
	tick, err := ParseDurationOrDefault("tracker.tick_interval", c.TickInterval, DefaultTickInterval)
	if err != nil {
		return tracker.Config{}, 0, err
	}
	if c.HistorySize < 0 {
		return tracker.Config{}, 0, errors.New("tracker.history_size: must be >= 0")
	}
	if c.HistorySize > 0 {
		out.HistorySize = c.HistorySize
	}
	if out.ChirpDelay, err = ParseDurationOrDefault("tracker.chirp_delay", c.ChirpDelay, def.ChirpDelay); err != nil {
		return tracker.Config{}, 0, err
	}
	if len(c.ChirpTemplates) > 0 {
		out.ChirpTemplates = append([]string(nil), c.ChirpTemplates...)
	}
	if out.SendTimeout, err = ParseDurationOrDefault("tracker.send_timeout", c.SendTimeout, def.SendTimeout); err != nil {
		return tracker.Config{}, 0, err
	}
	return out, tick, nil
}

// Validate checks the settings that must be present before the bot can start.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or BOT_TOKEN)"))
	}
	if c.Telegram.ChannelID == 0 {
		errs = append(errs, errors.New("telegram.channel_id is required (or BOSS_CHANNEL_ID)"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory", "mem":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (or DATABASE_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.Tracker.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("metrics.read_timeout", c.Metrics.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("metrics.idle_timeout", c.Metrics.IdleTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("digest.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}
