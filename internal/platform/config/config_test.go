package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/drewstone/edgeware-watcher/pkg/domain-errors"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("ORACLE_CONFIG_FILE", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "github", cfg.Oracle.IdentityType)
	assert.Equal(t, 8, cfg.Oracle.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Evidence.Timeout)
	assert.Equal(t, "identity.events", cfg.Kafka.Topic)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestFromEnv_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
oracle:
  shared_key: from-file
  verifier_index: 3
  finalization_timeout: 30s
evidence:
  rate_limit: 1.5
kafka:
  brokers: [a:9092]
`), 0o600))

	t.Setenv("ORACLE_CONFIG_FILE", path)
	t.Setenv("ORACLE_SHARED_KEY", "from-env")
	t.Setenv("KAFKA_BROKERS", " b:9092, c:9092 ,b:9092,")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "from-env", cfg.Oracle.SharedKey)
	assert.Equal(t, uint32(3), cfg.Oracle.VerifierIndex)
	assert.Equal(t, 30*time.Second, cfg.Oracle.FinalizationTimeout)
	assert.Equal(t, 1.5, cfg.Evidence.RateLimit)
	assert.Equal(t, 5*time.Minute, cfg.Evidence.CacheTTL, "unset file keys keep defaults")
	assert.Equal(t, []string{"b:9092", "c:9092"}, cfg.Kafka.Brokers)
}

func TestFromEnv_BadValues(t *testing.T) {
	t.Setenv("ORACLE_CONFIG_FILE", "")
	t.Setenv("ORACLE_VERIFIER_INDEX", "-1")
	t.Setenv("EVIDENCE_TIMEOUT", "soon")

	_, err := FromEnv()
	require.Error(t, err)
	assert.ErrorContains(t, err, "ORACLE_VERIFIER_INDEX")
	assert.ErrorContains(t, err, "EVIDENCE_TIMEOUT")
}

func TestFromEnv_MissingFile(t *testing.T) {
	t.Setenv("ORACLE_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := FromEnv()
	assert.ErrorContains(t, err, "load config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Oracle.SharedKey = "k"
		cfg.Oracle.SignerSecret = "s"
		cfg.Ledger.Endpoint = "http://ledger:9933"
		cfg.Server.JWTSigningKey = "jwt"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing shared key", func(c *Config) { c.Oracle.SharedKey = "" }, "ORACLE_SHARED_KEY is required"},
		{"missing signer", func(c *Config) { c.Oracle.SignerSecret = "" }, "ORACLE_SIGNER_SECRET is required"},
		{"no ledger endpoint", func(c *Config) { c.Ledger.Endpoint = "" }, "LEDGER_ENDPOINT is required"},
		{"zero concurrency", func(c *Config) { c.Oracle.Concurrency = 0 }, "concurrency must be at least 1"},
		{"kafka without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"a:9092"}
			c.Kafka.Topic = ""
		}, "kafka topic is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}

	dev := valid()
	dev.Ledger.Endpoint = ""
	dev.Ledger.Dev = true
	assert.NoError(t, dev.Validate())
}
