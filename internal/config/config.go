package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendExcel    = "excel"
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"app"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	Storage   StorageConfig   `yaml:"storage"`
	Reminders RemindersConfig `yaml:"reminders"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Backup    BackupConfig    `yaml:"backup"`

	HTTP struct {
		Address         string  `yaml:"address"`
		RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	} `yaml:"http"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	RosterPath string `yaml:"roster_path"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`

	Excel struct {
		Path            string `yaml:"path"`
		Sheet           string `yaml:"sheet"`
		CreateIfMissing bool   `yaml:"create_if_missing"`
	} `yaml:"excel"`

	Sheets struct {
		CredentialsFile   string `yaml:"credentials_file"`
		SpreadsheetID     string `yaml:"spreadsheet_id"`
		Sheet             string `yaml:"sheet"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
	} `yaml:"sheets"`

	Postgres struct {
		DatabaseURL string `yaml:"database_url"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
		Table       string `yaml:"table"`
		DocumentID  string `yaml:"document_id"`
	} `yaml:"postgres"`

	SQLite struct {
		Path       string `yaml:"path"`
		DocumentID string `yaml:"document_id"`
	} `yaml:"sqlite"`

	LoadAttempts     int `yaml:"load_attempts"`
	LoadRetryDelayMS int `yaml:"load_retry_delay_ms"`
}

type RemindersConfig struct {
	WindowMinutes       int   `yaml:"window_minutes"`
	AutoSnoozeSeconds   *int  `yaml:"auto_snooze_seconds"`
	PollIntervalSeconds int   `yaml:"poll_interval_seconds"`
	DefaultSnoozeMin    int   `yaml:"default_snooze_minutes"`
	SnoozeOptionsMin    []int `yaml:"snooze_options_minutes"`
}

type TrackerConfig struct {
	Backend string `yaml:"backend"` // memory | redis

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
		TTLHours int    `yaml:"ttl_hours"`
	} `yaml:"redis"`
}

type TelegramConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BotToken          string  `yaml:"bot_token"`
	ChatIDs           []int64 `yaml:"chat_ids"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	QueueSize         int     `yaml:"queue_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`

	S3 struct {
		Enabled  bool   `yaml:"enabled"`
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"s3"`
}

// Load reads the YAML config at path, expands ${ENV_VAR} placeholders and
// applies defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	var dataPath string
	switch cfg.Storage.Backend {
	case BackendExcel:
		dataPath = cfg.Storage.Excel.Path
	case BackendSQLite:
		dataPath = cfg.Storage.SQLite.Path
	}
	if dataPath != "" {
		if err = os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, for commands
// that run without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "allotment"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "Asia/Kolkata"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	s := &c.Storage
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendExcel
	}
	if s.Excel.Path == "" {
		s.Excel.Path = "data/Putt Allotment.xlsx"
	}
	if s.Excel.Sheet == "" {
		s.Excel.Sheet = "Sheet1"
	}
	if s.Sheets.Sheet == "" {
		s.Sheets.Sheet = "Sheet1"
	}
	if s.Sheets.RequestsPerMinute <= 0 {
		s.Sheets.RequestsPerMinute = 60
	}
	if s.Postgres.Table == "" {
		s.Postgres.Table = "allotment_documents"
	}
	if s.Postgres.DocumentID == "" {
		s.Postgres.DocumentID = "main"
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = "data/allotment.db"
	}
	if s.SQLite.DocumentID == "" {
		s.SQLite.DocumentID = "main"
	}
	if s.LoadAttempts <= 0 {
		s.LoadAttempts = 3
	}
	if s.LoadRetryDelayMS <= 0 {
		s.LoadRetryDelayMS = 500
	}

	r := &c.Reminders
	if r.WindowMinutes <= 0 {
		r.WindowMinutes = 15
	}
	if r.AutoSnoozeSeconds == nil {
		v := 30
		r.AutoSnoozeSeconds = &v
	}
	if r.PollIntervalSeconds <= 0 {
		r.PollIntervalSeconds = 30
	}
	if r.DefaultSnoozeMin <= 0 {
		r.DefaultSnoozeMin = 5
	}
	if len(r.SnoozeOptionsMin) == 0 {
		r.SnoozeOptionsMin = []int{5, 10, 15, 30}
	}

	c.Tracker.Backend = strings.ToLower(strings.TrimSpace(c.Tracker.Backend))
	if c.Tracker.Backend == "" {
		c.Tracker.Backend = "memory"
	}
	if c.Tracker.Redis.Key == "" {
		c.Tracker.Redis.Key = "allotment:changes"
	}
	if c.Tracker.Redis.TTLHours <= 0 {
		c.Tracker.Redis.TTLHours = 24
	}

	if c.Telegram.MessagesPerSecond <= 0 {
		c.Telegram.MessagesPerSecond = 1
	}
	if c.Telegram.QueueSize <= 0 {
		c.Telegram.QueueSize = 100
	}

	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.RateLimitPerSec <= 0 {
		c.HTTP.RateLimitPerSec = 20
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.RosterPath == "" {
		c.RosterPath = "configs/roster.yaml"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendExcel:
		if c.Storage.Excel.Path == "" {
			return fmt.Errorf("storage.excel.path is required")
		}
	case BackendSheets:
		if c.Storage.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("storage.sheets.spreadsheet_id is required")
		}
		if c.Storage.Sheets.CredentialsFile == "" {
			return fmt.Errorf("storage.sheets.credentials_file is required")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DatabaseURL == "" {
			return fmt.Errorf("storage.postgres.database_url is required")
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}

	switch c.Tracker.Backend {
	case "memory":
	case "redis":
		if c.Tracker.Redis.Address == "" {
			return fmt.Errorf("tracker.redis.address is required")
		}
	default:
		return fmt.Errorf("tracker.backend: unknown backend %q", c.Tracker.Backend)
	}

	if *c.Reminders.AutoSnoozeSeconds < 0 {
		return fmt.Errorf("reminders.auto_snooze_seconds cannot be negative")
	}
	for i, m := range c.Reminders.SnoozeOptionsMin {
		if m <= 0 {
			return fmt.Errorf("reminders.snooze_options_minutes[%d]: must be positive, got %d", i, m)
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if len(c.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("telegram.chat_ids is required when telegram is enabled")
		}
	}

	if c.Backup.S3.Enabled && c.Backup.S3.Bucket == "" {
		return fmt.Errorf("backup.s3.bucket is required when s3 upload is enabled")
	}
	return nil
}

func (c *Config) ReminderWindow() time.Duration {
	return time.Duration(c.Reminders.WindowMinutes) * time.Minute
}

func (c *Config) AutoSnooze() time.Duration {
	return time.Duration(*c.Reminders.AutoSnoozeSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Reminders.PollIntervalSeconds) * time.Second
}

func (c *Config) DefaultSnooze() time.Duration {
	return time.Duration(c.Reminders.DefaultSnoozeMin) * time.Minute
}

func (c *Config) LoadRetryDelay() time.Duration {
	return time.Duration(c.Storage.LoadRetryDelayMS) * time.Millisecond
}

func (c *Config) TrackerTTL() time.Duration {
	return time.Duration(c.Tracker.Redis.TTLHours) * time.Hour
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
