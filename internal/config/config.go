package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. INBOX_ACCOUNT_JID.
const EnvPrefix = "INBOX_"

// Config represents the main application configuration
type Config struct {
	General   GeneralConfig   `toml:"general" envPrefix:"GENERAL_"`
	Account   Account         `toml:"account" envPrefix:"ACCOUNT_"`
	Logging   LoggingConfig   `toml:"logging" envPrefix:"LOG_"`
	Storage   StorageConfig   `toml:"storage" envPrefix:"STORAGE_"`
	Dedup     DedupConfig     `toml:"dedup" envPrefix:"DEDUP_"`
	Ingest    IngestConfig    `toml:"ingest" envPrefix:"INGEST_"`
	Telemetry TelemetryConfig `toml:"telemetry" envPrefix:"TELEMETRY_"`
	Plugins   PluginsConfig   `toml:"plugins" envPrefix:"PLUGINS_"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	DataDir string `toml:"data_dir" env:"DATA_DIR"`
}

// Account is the XMPP account stanzas are received on
type Account struct {
	JID      string `toml:"jid" env:"JID"`
	Password string `toml:"password" env:"PASSWORD"`
	Server   string `toml:"server" env:"SERVER"`
	Port     int    `toml:"port" env:"PORT"`
	Resource string `toml:"resource" env:"RESOURCE"`
	// NoTLS disables StartTLS. Only for local test servers.
	NoTLS bool `toml:"no_tls" env:"NO_TLS"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level   string `toml:"level" env:"LEVEL"`
	File    string `toml:"file" env:"FILE"`
	Console bool   `toml:"console" env:"CONSOLE"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Driver is "sqlite" or "memory"
	Driver string `toml:"driver" env:"DRIVER"`

	// MessageRetentionDays is the number of days to keep messages (0 = forever)
	MessageRetentionDays int `toml:"message_retention_days" env:"MESSAGE_RETENTION_DAYS"`

	// VacuumOnStartup runs database vacuum on startup
	VacuumOnStartup bool `toml:"vacuum_on_startup" env:"VACUUM_ON_STARTUP"`
}

// DedupConfig selects where processed stanza ids are remembered
type DedupConfig struct {
	// Backend is "none", "memory", "sqlite" or "redis"
	Backend string `toml:"backend" env:"BACKEND"`
	// TTLHours is how long processed stanza ids are remembered (0 = forever)
	TTLHours      int    `toml:"ttl_hours" env:"TTL_HOURS"`
	RedisAddr     string `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string `toml:"redis_prefix" env:"REDIS_PREFIX"`
}

// TTL returns TTLHours as a duration
func (d DedupConfig) TTL() time.Duration {
	return time.Duration(d.TTLHours) * time.Hour
}

// IngestConfig tunes stanza classification
type IngestConfig struct {
	// StopChatStates are the chat states after which a stanza is not read further
	StopChatStates []string `toml:"stop_chat_states" env:"STOP_CHAT_STATES"`
	// EncryptedPlaceholder is the body clients send next to an encrypted payload
	EncryptedPlaceholder string `toml:"encrypted_placeholder" env:"ENCRYPTED_PLACEHOLDER"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled      bool    `toml:"enabled" env:"ENABLED"`
	ServiceName  string  `toml:"service_name" env:"SERVICE_NAME"`
	Environment  string  `toml:"environment" env:"ENVIRONMENT"`
	OTLPEndpoint string  `toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool    `toml:"insecure" env:"INSECURE"`
	SampleRate   float64 `toml:"sample_rate" env:"SAMPLE_RATE"`
}

// PluginsConfig contains plugin settings
type PluginsConfig struct {
	Enabled   []string `toml:"enabled" env:"ENABLED"`
	PluginDir string   `toml:"plugin_dir" env:"DIR"`
}

// Paths holds the XDG-compliant paths for the application
type Paths struct {
	ConfigDir string
	DataDir   string
	CacheDir  string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Account: Account{
			Port:     5222,
			Resource: "inbox",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Dedup: DedupConfig{
			Backend:     "sqlite",
			TTLHours:    72,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "inbox:seen:",
		},
		Ingest: IngestConfig{
			StopChatStates:       []string{"active"},
			EncryptedPlaceholder: "(encrypted)",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "inbox",
			Environment:  "development",
			OTLPEndpoint: "localhost:4318",
			Insecure:     true,
			SampleRate:   1.0,
		},
		Plugins: PluginsConfig{
			Enabled: []string{},
		},
	}
}

// GetPaths returns XDG-compliant paths for the application
func GetPaths() (*Paths, error) {
	home := func(parts ...string) (string, error) {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(append([]string{h}, parts...)...), nil
	}

	dir := func(envVar string, fallback ...string) (string, error) {
		base := os.Getenv(envVar)
		if base == "" {
			var err error
			if base, err = home(fallback...); err != nil {
				return "", err
			}
		}
		return filepath.Join(base, "inbox"), nil
	}

	configDir, err := dir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return nil, err
	}
	dataDir, err := dir("XDG_DATA_HOME", ".local", "share")
	if err != nil {
		return nil, err
	}
	cacheDir, err := dir("XDG_CACHE_HOME", ".cache")
	if err != nil {
		return nil, err
	}

	return &Paths{
		ConfigDir: configDir,
		DataDir:   dataDir,
		CacheDir:  cacheDir,
	}, nil
}

// EnsureDirectories creates the necessary directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{p.ConfigDir, p.DataDir, p.CacheDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigPath returns the default config file location
func (p *Paths) ConfigPath() string {
	return filepath.Join(p.ConfigDir, "config.toml")
}

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	return LoadFile(paths.ConfigPath(), paths)
}

// LoadFile decodes path over the defaults, applies environment overrides and
// fills empty paths from paths. A missing file is not an error.
func LoadFile(path string, paths *Paths) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.expand(paths)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expand(paths *Paths) {
	if c.General.DataDir == "" && paths != nil {
		c.General.DataDir = paths.DataDir
	} else {
		c.General.DataDir = expandPath(c.General.DataDir)
	}

	if c.Plugins.PluginDir == "" {
		c.Plugins.PluginDir = filepath.Join(c.General.DataDir, "plugins")
	} else {
		c.Plugins.PluginDir = expandPath(c.Plugins.PluginDir)
	}

	if c.Logging.File != "" {
		c.Logging.File = expandPath(c.Logging.File)
	}
}

// Validate checks the values that have a fixed set of choices
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Dedup.Backend {
	case "none", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Dedup.Backend == "sqlite" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("dedup backend sqlite needs the sqlite storage driver")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1")
	}
	return nil
}

// Save saves the configuration to path
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
