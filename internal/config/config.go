package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Duration decodes TOML strings such as "30s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	// WebhookSecret is compared against the x-webhook-secret header. An empty
	// secret rejects every webhook.
	WebhookSecret string `toml:"webhook_secret"`
	// ServiceKey authenticates calls to the ad sync functions and protects
	// the operator endpoints.
	ServiceKey   string   `toml:"service_key"`
	FunctionsURL string   `toml:"functions_url"`
	JobTimeout   Duration `toml:"job_timeout"`

	StoreProfile string   `toml:"store_profile"`
	StoreDSN     string   `toml:"store_dsn"`
	DataDir      string   `toml:"data_dir"`
	TablePrefix  string   `toml:"table_prefix"`
	StoreTimeout Duration `toml:"store_timeout"`

	CampaignTables string `toml:"campaign_tables"`
	WatchCampaigns bool   `toml:"watch_campaigns"`

	BatchConcurrency int     `toml:"batch_concurrency"`
	MaxBodyBytes     int64   `toml:"max_body_bytes"`
	RateLimit        float64 `toml:"rate_limit"`
	RateBurst        int     `toml:"rate_burst"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// Warnings lists malformed environment values that were ignored.
	Warnings []string `toml:"-"`
}

func Default() Config {
	return Config{
		Addr:             ":8080",
		ShutdownTimeout:  Duration{10 * time.Second},
		JobTimeout:       Duration{2 * time.Minute},
		DataDir:          ".relaycrm",
		StoreTimeout:     Duration{5 * time.Second},
		WatchCampaigns:   true,
		BatchConcurrency: 16,
		MaxBodyBytes:     10 << 20,
		RateBurst:        20,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from defaults, then the TOML file at path
// (or RELAYCRM_CONFIG), then RELAYCRM_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("RELAYCRM_CONFIG"))
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.resolveStore(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config %s: %s", path, strict.String())
		}
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = stringEnv("RELAYCRM_ADDR", c.Addr)
	c.ShutdownTimeout.Duration = c.durationEnv("RELAYCRM_SHUTDOWN_TIMEOUT", c.ShutdownTimeout.Duration)
	c.WebhookSecret = stringEnv("RELAYCRM_WEBHOOK_SECRET", stringEnv("DYNAMICS_WEBHOOK_SECRET", c.WebhookSecret))
	c.ServiceKey = stringEnv("RELAYCRM_SERVICE_KEY", stringEnv("SUPABASE_SERVICE_ROLE_KEY", c.ServiceKey))
	c.FunctionsURL = stringEnv("RELAYCRM_FUNCTIONS_URL", stringEnv("SUPABASE_URL", c.FunctionsURL))
	c.JobTimeout.Duration = c.durationEnv("RELAYCRM_JOB_TIMEOUT", c.JobTimeout.Duration)
	c.StoreProfile = stringEnv("RELAYCRM_STORE_PROFILE", c.StoreProfile)
	c.StoreDSN = stringEnv("RELAYCRM_STORE_DSN", c.StoreDSN)
	c.DataDir = stringEnv("RELAYCRM_DATA_DIR", c.DataDir)
	c.TablePrefix = stringEnv("RELAYCRM_TABLE_PREFIX", c.TablePrefix)
	c.StoreTimeout.Duration = c.durationEnv("RELAYCRM_STORE_TIMEOUT", c.StoreTimeout.Duration)
	c.CampaignTables = stringEnv("RELAYCRM_CAMPAIGN_TABLES", c.CampaignTables)
	c.WatchCampaigns = c.boolEnv("RELAYCRM_WATCH_CAMPAIGNS", c.WatchCampaigns)
	c.BatchConcurrency = c.intEnv("RELAYCRM_BATCH_CONCURRENCY", c.BatchConcurrency)
	c.MaxBodyBytes = c.int64Env("RELAYCRM_MAX_BODY_BYTES", c.MaxBodyBytes)
	c.RateLimit = c.floatEnv("RELAYCRM_RATE_LIMIT", c.RateLimit)
	c.RateBurst = c.intEnv("RELAYCRM_RATE_BURST", c.RateBurst)
	c.LogLevel = stringEnv("RELAYCRM_LOG_LEVEL", c.LogLevel)
	c.LogFormat = stringEnv("RELAYCRM_LOG_FORMAT", c.LogFormat)
}

// resolveStore fills StoreDSN from StoreProfile when no DSN was given.
func (c *Config) resolveStore() error {
	if c.StoreDSN != "" {
		return nil
	}
	profile := strings.ToLower(strings.TrimSpace(c.StoreProfile))
	switch profile {
	case "", "local", "durable-local":
		c.StoreDSN = "sqlite://" + filepath.Join(c.DataDir, "relaycrm.db")
	case "memory", "inmemory":
		c.StoreDSN = "memory://"
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
		if dsn == "" {
			return fmt.Errorf("RELAYCRM_STORE_DSN or DATABASE_URL is required when store profile is %s", profile)
		}
		c.StoreDSN = dsn
	default:
		return fmt.Errorf("unsupported store profile: %s", profile)
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Addr) == "" {
		problems = append(problems, "addr is required")
	}
	if c.BatchConcurrency < 0 {
		problems = append(problems, "batch_concurrency must not be negative")
	}
	if c.MaxBodyBytes < 0 {
		problems = append(problems, "max_body_bytes must not be negative")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		problems = append(problems, "rate_limit and rate_burst must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log_format must be json or console, got %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func stringEnv(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.warnf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func (c *Config) int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.warnf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func (c *Config) floatEnv(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.warnf("invalid %s=%q, using fallback %g", name, raw, fallback)
		return fallback
	}
	return value
}

func (c *Config) durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		c.warnf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func (c *Config) boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		c.warnf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}
