package stakingd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"stakeledger/observability/logging"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for stakingd.
type Config struct {
	ListenAddress string             `yaml:"listen"`
	Environment   string             `yaml:"environment"`
	PoolAddress   string             `yaml:"pool_address"`
	InitFile      string             `yaml:"init_file"`
	Database      DatabaseConfig     `yaml:"database"`
	Journal       JournalConfig      `yaml:"journal"`
	Token         TokenConfig        `yaml:"token"`
	Auth          AuthConfig         `yaml:"auth"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit"`
	Housekeeping  HousekeepingConfig `yaml:"housekeeping"`
	Logging       LoggingConfig      `yaml:"logging"`
	Telemetry     TelemetryConfig    `yaml:"telemetry"`
}

// DatabaseConfig selects the engine state store.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// JournalConfig configures the SQL event journal. An empty DSN disables it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// TokenConfig points at the token transfer service.
type TokenConfig struct {
	Endpoint   string   `yaml:"endpoint"`
	Timeout    Duration `yaml:"timeout"`
	APIKey     string   `yaml:"api_key"`
	APIKeyFile string   `yaml:"api_key_file"`
	APIKeyEnv  string   `yaml:"api_key_env"`
}

// AuthConfig maps bearer tokens to caller addresses.
type AuthConfig struct {
	Tokens     map[string]string `yaml:"tokens"`
	TokensFile string            `yaml:"tokens_file"`
}

// RateLimitConfig bounds request throughput per caller.
type RateLimitConfig struct {
	RatePerSecond float64  `yaml:"rate_per_second"`
	Burst         int      `yaml:"burst"`
	TTL           Duration `yaml:"ttl"`
}

// HousekeepingConfig schedules pruning of completed transaction markers.
type HousekeepingConfig struct {
	Interval  Duration `yaml:"interval"`
	Retention Duration `yaml:"retention"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string             `yaml:"level"`
	File  logging.FileConfig `yaml:"file"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Headers     string  `yaml:"headers"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Token.normalise(); err != nil {
		return cfg, fmt.Errorf("token api key: %w", err)
	}
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth tokens: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Database.Path == "" && !cfg.Database.InMemory {
		cfg.Database.Path = "data/stakingd"
	}
	if cfg.Token.Timeout.Duration == 0 {
		cfg.Token.Timeout.Duration = 10 * time.Second
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.RateLimit.TTL.Duration == 0 {
		cfg.RateLimit.TTL.Duration = 10 * time.Minute
	}
	if cfg.Housekeeping.Interval.Duration == 0 {
		cfg.Housekeeping.Interval.Duration = time.Hour
	}
	if cfg.Housekeeping.Retention.Duration == 0 {
		cfg.Housekeeping.Retention.Duration = 7 * 24 * time.Hour
	}
	if cfg.Auth.Tokens == nil {
		cfg.Auth.Tokens = map[string]string{}
	}
}

func validateConfig(cfg Config) error {
	if !common.IsHexAddress(strings.TrimSpace(cfg.PoolAddress)) {
		return fmt.Errorf("pool_address must be a hex address")
	}
	if strings.TrimSpace(cfg.Token.Endpoint) == "" {
		return fmt.Errorf("token endpoint must be configured")
	}
	if len(cfg.Auth.Tokens) == 0 {
		return fmt.Errorf("at least one auth token must be configured")
	}
	for token, identity := range cfg.Auth.Tokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("auth token must not be empty")
		}
		if !common.IsHexAddress(strings.TrimSpace(identity)) {
			return fmt.Errorf("auth token identity %q is not a hex address", identity)
		}
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	if cfg.Housekeeping.Retention.Duration < time.Second {
		return fmt.Errorf("housekeeping retention must be at least one second")
	}
	return nil
}

func (t *TokenConfig) normalise() error {
	t.Endpoint = strings.TrimSpace(t.Endpoint)
	t.APIKey = strings.TrimSpace(t.APIKey)
	if t.APIKey != "" {
		return nil
	}
	switch {
	case strings.TrimSpace(t.APIKeyEnv) != "":
		value := strings.TrimSpace(os.Getenv(strings.TrimSpace(t.APIKeyEnv)))
		if value == "" {
			return fmt.Errorf("api_key_env %s is empty", t.APIKeyEnv)
		}
		t.APIKey = value
	case strings.TrimSpace(t.APIKeyFile) != "":
		contents, err := os.ReadFile(strings.TrimSpace(t.APIKeyFile))
		if err != nil {
			return fmt.Errorf("read api_key_file: %w", err)
		}
		t.APIKey = strings.TrimSpace(string(contents))
	}
	return nil
}

// normalise merges tokens from tokens_file, a YAML map of token to address.
func (a *AuthConfig) normalise() error {
	path := strings.TrimSpace(a.TokensFile)
	if path == "" {
		return nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tokens_file: %w", err)
	}
	extra := map[string]string{}
	if err := yaml.Unmarshal(contents, &extra); err != nil {
		return fmt.Errorf("decode tokens_file: %w", err)
	}
	for token, identity := range extra {
		a.Tokens[strings.TrimSpace(token)] = identity
	}
	return nil
}
