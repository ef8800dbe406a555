package config

import (
	"time"

	"affwatch/internal/infra/fetch"
	redisclient "affwatch/internal/infra/redis"
	"affwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Run          RunConfig          `yaml:"run"`
	Store        StoreConfig        `yaml:"store"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
	Fingerprints FingerprintConfig  `yaml:"fingerprints"`
	Sources      []SourceConfig     `yaml:"sources"`
	Sinks        SinkConfig         `yaml:"sinks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RunConfig holds pipeline-wide settings.
type RunConfig struct {
	QueueSize int           `yaml:"queue_size"`
	RecordAll bool          `yaml:"record_all"` // sink unmatched records too
	Retention time.Duration `yaml:"retention"`  // 0 = keep forever
}

// StoreConfig selects the local store used for the seen set and audit log.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, pebble, redis
	Path    string `yaml:"path"`    // pebble data directory
}

// FingerprintConfig holds the affiliate fingerprints to match against,
// keyed by protocol name.
type FingerprintConfig struct {
	Addresses map[string][]string `yaml:"addresses"`
	MemoCodes map[string][]string `yaml:"memo_codes"`
	Partners  map[string][]string `yaml:"partners"`
}

// SourceConfig holds settings for a single upstream feed.
type SourceConfig struct {
	Name        string            `yaml:"name"`
	Protocol    string            `yaml:"protocol"`
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method"`    // rpc or websocket subscribe method
	Subscribe   string            `yaml:"subscribe"` // raw subscribe payload for stream feeds
	Interval    time.Duration     `yaml:"interval"`
	PageDelay   time.Duration     `yaml:"page_delay"`
	PageSize    int               `yaml:"page_size"`
	MaxPages    int               `yaml:"max_pages"`
	Timeout     time.Duration     `yaml:"timeout"`
	MinInterval time.Duration     `yaml:"min_interval"` // minimum spacing between outbound calls
	Affiliate   string            `yaml:"affiliate"`    // server-side filter value, when the feed supports one
	Retry       fetch.RetryConfig `yaml:"retry"`
	Disabled    bool              `yaml:"disabled"`
}

// SinkConfig selects where matched records are written.
type SinkConfig struct {
	CSVPath   string `yaml:"csv_path"`
	JSONLPath string `yaml:"jsonl_path"`
	Postgres  bool   `yaml:"postgres"`
	Log       bool   `yaml:"log"`
}
