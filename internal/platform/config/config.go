// Package config loads process configuration. Defaults are overlaid by an
// optional YAML file named in ORACLE_CONFIG_FILE, then by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	dErrors "github.com/drewstone/edgeware-watcher/pkg/domain-errors"
	pstrings "github.com/drewstone/edgeware-watcher/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string      `yaml:"log_level"`
	Oracle   Oracle      `yaml:"oracle"`
	Evidence Evidence    `yaml:"evidence"`
	Ledger   Ledger      `yaml:"ledger"`
	Redis    RedisConfig `yaml:"redis"`
	Postgres Postgres    `yaml:"postgres"`
	Kafka    Kafka       `yaml:"kafka"`
	Server   Server      `yaml:"server"`
}

// Oracle holds the verifier's key material and pipeline tuning.
type Oracle struct {
	SharedKey           string        `yaml:"shared_key"`
	IdentityType        string        `yaml:"identity_type"`
	VerifierIndex       uint32        `yaml:"verifier_index"`
	SignerSecret        string        `yaml:"signer_secret"`
	Concurrency         int           `yaml:"concurrency"`
	FinalizationTimeout time.Duration `yaml:"finalization_timeout"`
}

// Evidence configures the gist host client.
type Evidence struct {
	BaseURL     string        `yaml:"base_url"`
	Token       string        `yaml:"token"`
	Description string        `yaml:"description"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Ledger configures the ledger gateway. Dev selects the in-process ledger.
type Ledger struct {
	Endpoint     string        `yaml:"endpoint"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Dev          bool          `yaml:"dev"`
}

// RedisConfig is empty when the evidence cache is disabled.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Postgres is empty when the audit journal is kept in memory.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Kafka is empty when Kafka intake is disabled.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Group   string   `yaml:"group"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string `yaml:"addr"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel: "info",
		Oracle: Oracle{
			IdentityType:        "github",
			Concurrency:         8,
			FinalizationTimeout: 2 * time.Minute,
		},
		Evidence: Evidence{
			BaseURL:     "https://api.github.com",
			Description: "Edgeware Identity Attestation",
			Timeout:     10 * time.Second,
			RateLimit:   5,
			Burst:       5,
			CacheTTL:    5 * time.Minute,
		},
		Ledger: Ledger{
			PollInterval: 2 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Topic: "identity.events",
			Group: "identity-oracle",
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

// FromEnv builds the configuration so main stays lean.
func FromEnv() (Config, error) {
	cfg := Default()
	if path := os.Getenv("ORACLE_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	var errs []error

	setString(&c.LogLevel, "LOG_LEVEL")

	setString(&c.Oracle.SharedKey, "ORACLE_SHARED_KEY")
	setString(&c.Oracle.IdentityType, "ORACLE_IDENTITY_TYPE")
	setString(&c.Oracle.SignerSecret, "ORACLE_SIGNER_SECRET")
	errs = append(errs,
		setUint32(&c.Oracle.VerifierIndex, "ORACLE_VERIFIER_INDEX"),
		setInt(&c.Oracle.Concurrency, "ORACLE_CONCURRENCY"),
		setDuration(&c.Oracle.FinalizationTimeout, "ORACLE_FINALIZATION_TIMEOUT"),
	)

	setString(&c.Evidence.BaseURL, "EVIDENCE_BASE_URL")
	setString(&c.Evidence.Token, "GITHUB_TOKEN")
	setString(&c.Evidence.Description, "EVIDENCE_DESCRIPTION")
	errs = append(errs,
		setDuration(&c.Evidence.Timeout, "EVIDENCE_TIMEOUT"),
		setFloat(&c.Evidence.RateLimit, "EVIDENCE_RATE_LIMIT"),
		setInt(&c.Evidence.Burst, "EVIDENCE_BURST"),
		setDuration(&c.Evidence.CacheTTL, "EVIDENCE_CACHE_TTL"),
	)

	setString(&c.Ledger.Endpoint, "LEDGER_ENDPOINT")
	errs = append(errs, setDuration(&c.Ledger.PollInterval, "LEDGER_POLL_INTERVAL"))

	setString(&c.Redis.URL, "REDIS_URL")
	errs = append(errs, setInt(&c.Redis.PoolSize, "REDIS_POOL_SIZE"))

	setString(&c.Postgres.DSN, "DATABASE_URL")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = pstrings.SplitList(v, ",")
	}
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Kafka.Group, "KAFKA_GROUP")

	setString(&c.Server.Addr, "ORACLE_ADDR")
	setString(&c.Server.JWTSigningKey, "JWT_SIGNING_KEY")

	return errors.Join(errs...)
}

// Validate reports every missing or invalid setting. Missing key material is
// fatal at startup.
func (c Config) Validate() error {
	var errs []error
	invalid := func(msg string) {
		errs = append(errs, dErrors.New(dErrors.CodeValidation, msg))
	}

	if c.Oracle.SharedKey == "" {
		invalid("ORACLE_SHARED_KEY is required")
	}
	if c.Oracle.SignerSecret == "" {
		invalid("ORACLE_SIGNER_SECRET is required")
	}
	if c.Oracle.IdentityType == "" {
		invalid("identity type must not be empty")
	}
	if c.Oracle.Concurrency < 1 {
		invalid("concurrency must be at least 1")
	}
	if c.Oracle.FinalizationTimeout <= 0 {
		invalid("finalization timeout must be positive")
	}
	if c.Evidence.Timeout <= 0 {
		invalid("evidence timeout must be positive")
	}
	if c.Evidence.Description == "" {
		invalid("evidence description must not be empty")
	}
	if !c.Ledger.Dev && c.Ledger.Endpoint == "" {
		invalid("LEDGER_ENDPOINT is required outside dev mode")
	}
	if c.Server.JWTSigningKey == "" {
		invalid("JWT_SIGNING_KEY is required")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		invalid("kafka topic is required when brokers are set")
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setUint32(dst *uint32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = uint32(n)
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
