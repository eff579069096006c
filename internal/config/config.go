package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the role of this deployment. It is chosen at startup and
// immutable for the process lifetime.
type Mode string

const (
	ModeMaster  Mode = "master"
	ModeReplica Mode = "replica"
)

// Config is the full process configuration, loaded from a YAML file with
// environment overrides for the common knobs.
type Config struct {
	Mode        Mode   `yaml:"mode"`
	ShipID      string `yaml:"shipId"`
	DatabaseURL string `yaml:"databaseUrl"`
	HTTPAddr    string `yaml:"httpAddr"`

	Auth  Auth     `yaml:"auth"`
	Bus   Bus      `yaml:"bus"`
	Sync  Sync     `yaml:"sync"`
	Media Media    `yaml:"media"`

	// ContentTypes is an allow-list of replicated content types. Empty
	// means every application type: api::-namespaced identifiers and
	// plain ones both qualify, while other namespaces (plugin::,
	// admin::) never replicate.
	ContentTypes []string `yaml:"contentTypes"`
}

// Auth configures the management API.
type Auth struct {
	HS256Secret string `yaml:"hs256Secret"`
	DevMode     bool   `yaml:"devMode"`
}

// Bus configures the Kafka connection and topics.
type Bus struct {
	Brokers      []string `yaml:"brokers"`
	TLS          bool     `yaml:"tls"`
	SASLUser     string   `yaml:"saslUser"`
	SASLPassword string   `yaml:"saslPassword"`
	Topics       Topics   `yaml:"topics"`

	// HealthURL is an optional master HTTP endpoint probed by the
	// connectivity monitor in addition to the bus itself.
	HealthURL string `yaml:"healthUrl"`
}

// Topics names the two logical topics.
type Topics struct {
	MasterUpdates string `yaml:"masterUpdates"`
	ShipUpdates   string `yaml:"shipUpdates"`
}

// Sync holds the replication engine knobs. Durations are milliseconds in
// the file, matching the wire-facing configuration contract.
type Sync struct {
	BatchSize                 int    `yaml:"batchSize"`
	RetryAttempts             int    `yaml:"retryAttempts"`
	RetryDelayMs              int    `yaml:"retryDelay"`
	ConnectivityCheckMs       int    `yaml:"connectivityCheckInterval"`
	DebounceMs                int    `yaml:"debounceMs"`
	AutoPushIntervalMs        int    `yaml:"autoPushInterval"`
	HeartbeatIntervalMs       int    `yaml:"heartbeatInterval"`
	PeerOnlineThresholdSec    int    `yaml:"peerOnlineThreshold"`
	RetentionDays             int    `yaml:"retentionDays"`
	MergeStrategy             string `yaml:"mergeStrategy"` // "fill" or "lww"
}

// Media configures the object-store mirror.
type Media struct {
	Enabled         bool  `yaml:"enabled"`
	TransformURLs   *bool `yaml:"transformUrls"`
	MaxFilesPerSync int   `yaml:"maxFilesPerSync"`
	DisableFullSync bool  `yaml:"disableFullSync"`

	MasterStore Store `yaml:"masterStore"`
	LocalStore  Store `yaml:"localStore"`
}

// Store describes one S3-compatible endpoint.
type Store struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	UseSSL     bool   `yaml:"useSSL"`
	Bucket     string `yaml:"bucket"`
	BaseURL    string `yaml:"baseUrl"`
	UploadPath string `yaml:"uploadPath"`
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load reads the YAML file at path (empty = FLEETSYNC_CONFIG env var),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FLEETSYNC_CONFIG")
	}

	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment overrides for the knobs operators set most often
	cfg.Mode = Mode(env("FLEETSYNC_MODE", string(cfg.Mode)))
	cfg.ShipID = env("SHIP_ID", cfg.ShipID)
	cfg.DatabaseURL = env("DATABASE_URL", cfg.DatabaseURL)
	cfg.HTTPAddr = env("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Auth.HS256Secret = env("JWT_HS256_SECRET", cfg.Auth.HS256Secret)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Bus.Brokers = strings.Split(v, ",")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8081"
	}
	if c.Bus.Topics.MasterUpdates == "" {
		c.Bus.Topics.MasterUpdates = "master-updates"
	}
	if c.Bus.Topics.ShipUpdates == "" {
		c.Bus.Topics.ShipUpdates = "ship-updates"
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 50
	}
	if c.Sync.RetryAttempts <= 0 {
		c.Sync.RetryAttempts = 3
	}
	if c.Sync.RetryDelayMs <= 0 {
		c.Sync.RetryDelayMs = 5000
	}
	if c.Sync.ConnectivityCheckMs <= 0 {
		c.Sync.ConnectivityCheckMs = 30000
	}
	if c.Sync.DebounceMs <= 0 {
		c.Sync.DebounceMs = 1000
	}
	if c.Sync.AutoPushIntervalMs <= 0 {
		c.Sync.AutoPushIntervalMs = 30000
	}
	if c.Sync.HeartbeatIntervalMs <= 0 {
		c.Sync.HeartbeatIntervalMs = 60000
	}
	if c.Sync.PeerOnlineThresholdSec <= 0 {
		c.Sync.PeerOnlineThresholdSec = 300
	}
	if c.Sync.RetentionDays <= 0 {
		c.Sync.RetentionDays = 7
	}
	if c.Sync.MergeStrategy == "" {
		c.Sync.MergeStrategy = "fill"
	}
	if c.Media.MaxFilesPerSync <= 0 {
		c.Media.MaxFilesPerSync = 25
	}
	if c.Media.TransformURLs == nil {
		t := true
		c.Media.TransformURLs = &t
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeMaster, ModeReplica:
	case "":
		return errors.New("mode is required (master or replica)")
	default:
		return fmt.Errorf("invalid mode: %q", c.Mode)
	}

	if c.Mode == ModeReplica && c.ShipID == "" {
		return errors.New("shipId is required in replica mode")
	}
	if c.DatabaseURL == "" {
		return errors.New("databaseUrl is required")
	}
	if len(c.Bus.Brokers) == 0 {
		return errors.New("bus.brokers is required")
	}
	if c.Sync.MergeStrategy != "fill" && c.Sync.MergeStrategy != "lww" {
		return fmt.Errorf("invalid sync.mergeStrategy: %q", c.Sync.MergeStrategy)
	}
	if c.Media.Enabled {
		if c.Media.MasterStore.Endpoint == "" || c.Media.LocalStore.Endpoint == "" {
			return errors.New("media.masterStore and media.localStore endpoints are required when media is enabled")
		}
		if c.Media.MasterStore.Bucket == "" || c.Media.LocalStore.Bucket == "" {
			return errors.New("media store buckets are required when media is enabled")
		}
	}
	return nil
}

// PeerID returns the identity this process uses on the wire.
func (c *Config) PeerID() string {
	if c.Mode == ModeMaster {
		return "master"
	}
	return c.ShipID
}

// Convenience duration accessors

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Sync.RetryDelayMs) * time.Millisecond
}

func (c *Config) ConnectivityCheckInterval() time.Duration {
	return time.Duration(c.Sync.ConnectivityCheckMs) * time.Millisecond
}

func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Sync.DebounceMs) * time.Millisecond
}

func (c *Config) AutoPushInterval() time.Duration {
	return time.Duration(c.Sync.AutoPushIntervalMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Sync.HeartbeatIntervalMs) * time.Millisecond
}

func (c *Config) PeerOnlineThreshold() time.Duration {
	return time.Duration(c.Sync.PeerOnlineThresholdSec) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sync.RetentionDays) * 24 * time.Hour
}

// AllowsContentType applies the allow-list. An empty list allows all.
func (c *Config) AllowsContentType(uid string) bool {
	if len(c.ContentTypes) == 0 {
		return true
	}
	for _, ct := range c.ContentTypes {
		if ct == uid {
			return true
		}
	}
	return false
}
