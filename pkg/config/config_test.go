package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  http:
    addr: ":9000"
  websocket:
    enabled: true
  rate_limit:
    requests_per_second: 5
cache:
  backend: SQLite
  path: /tmp/cards.db
aggregator:
  categories:
    pokemon: [pokemontcg, tcgdb]
retry:
  max_attempts: 4
  base_delay: 250ms
refresh:
  enabled: true
  schedule: "0 */4 * * *"
sources:
  - name: tcgdb
    enabled: true
    weight: 1.0
    config:
      api_keys: ["${TEST_TCGDB_KEY}"]
  - name: ebay
    enabled: true
    weight: 0.7
  - name: aisearch
    enabled: false
logging:
  level: debug
  format: text
`

func TestParseAppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_TCGDB_KEY", "k-123")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, ":9000", cfg.Server.HTTP.Addr)
	assert.True(t, cfg.Server.WebSocket.Enabled)
	assert.Equal(t, 6, cfg.Server.RateLimit.Burst)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout.ToDuration())

	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL.ToDuration())

	assert.Equal(t, 5*time.Second, cfg.Aggregator.AdapterTimeout.ToDuration())
	assert.Equal(t, 40, cfg.Aggregator.MinAIConfidence)
	assert.Equal(t, "tcg", cfg.Aggregator.DefaultCategory)
	assert.Equal(t, []string{"pokemontcg", "tcgdb"}, cfg.Aggregator.Categories["pokemon"])

	p := cfg.Retry.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 5*time.Second, p.Timeout)

	assert.Equal(t, 5, cfg.Refresh.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Refresh.BatchDelay.ToDuration())
	assert.Equal(t, 100, cfg.Refresh.Limit)

	tcgdb, ok := cfg.Source("tcgdb")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"k-123"}, tcgdb.Config["api_keys"])

	enabled := cfg.EnabledSources()
	require.Len(t, enabled, 2)
	assert.Equal(t, "tcgdb", enabled[0].Name)
	assert.Equal(t, "ebay", enabled[1].Name)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - name: ebay\n    enabled: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, "@every 6h", cfg.Refresh.Schedule)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("cache:\n  ttl: forever\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte("sources:\n  - name: ebay\n    enabled: true\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "mongo" }, ErrInvalidBackend},
		{"postgres without dsn", func(c *Config) { c.Cache.Backend = BackendPostgres }, ErrDSNRequired},
		{"sqlite without path", func(c *Config) { c.Cache.Backend = BackendSQLite }, ErrPathRequired},
		{"redis without addr", func(c *Config) { c.Cache.Backend = BackendRedis }, ErrRedisAddrRequired},
		{"negative ttl", func(c *Config) { c.Cache.TTL = Duration(-time.Hour) }, ErrInvalidTTL},
		{"tls without files", func(c *Config) { c.Server.HTTP.TLS.Enabled = true }, ErrTLSConfigIncomplete},
		{"tls cert missing", func(c *Config) {
			c.Server.HTTP.TLS = TLSConfig{Enabled: true, Cert: "/nonexistent/cert.pem", Key: "/nonexistent/key.pem"}
		}, ErrTLSCertNotFound},
		{"confidence out of range", func(c *Config) { c.Aggregator.MinAIConfidence = 150 }, ErrInvalidConfidence},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, ErrInvalidRetry},
		{"bad schedule", func(c *Config) {
			c.Refresh.Enabled = true
			c.Refresh.Schedule = "every tuesday"
		}, ErrInvalidSchedule},
		{"bad batch", func(c *Config) { c.Refresh.BatchSize = -1 }, ErrInvalidRefresh},
		{"no enabled sources", func(c *Config) { c.Sources[0].Enabled = false }, ErrNoSourcesEnabled},
		{"unnamed source", func(c *Config) { c.Sources[0].Name = "" }, ErrSourceNameRequired},
		{"negative weight", func(c *Config) { c.Sources[0].Weight = -1 }, ErrSourceWeightMustBeNonNegative},
		{"duplicate source", func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) }, ErrDuplicateSource},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }, ErrInvalidLogLevel},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), tt.want)
		})
	}
}

func TestCredentialsFillBlanksOnly(t *testing.T) {
	t.Setenv("CARDPRICE_EBAY_CLIENT_ID", "env-id")
	t.Setenv("CARDPRICE_EBAY_CLIENT_SECRET", "env-secret")
	t.Setenv("CARDPRICE_TCGDB_API_KEYS", "a,b")
	t.Setenv("CARDPRICE_PRICECHARTING_TOKEN", "pc")
	t.Setenv("CARDPRICE_DATABASE_URL", "postgres://env")

	cfg, err := Parse([]byte(`
cache:
  dsn: postgres://file
sources:
  - name: ebay
    enabled: true
    config:
      client_id: file-id
  - name: tcgdb
    enabled: true
  - name: graded
    enabled: true
`))
	require.NoError(t, err)

	creds, err := LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, creds.TCGDBAPIKeys)
	ApplyCredentials(cfg, creds)

	ebay, _ := cfg.Source("ebay")
	assert.Equal(t, "file-id", ebay.GetString("client_id", ""))
	assert.Equal(t, "env-secret", ebay.GetString("client_secret", ""))

	tcgdb, _ := cfg.Source("tcgdb")
	assert.Equal(t, []string{"a", "b"}, tcgdb.Config["api_keys"])

	graded, _ := cfg.Source("graded")
	assert.Equal(t, "pc", graded.GetString("price_token", ""))
	assert.Empty(t, graded.GetString("cert_token", ""))

	_, ok := cfg.Source("pricecharting")
	assert.False(t, ok)
	assert.Equal(t, "postgres://file", cfg.Cache.DSN)
}

func TestFactoryConfig(t *testing.T) {
	sc := SourceConfig{Name: "ebay", Weight: 0.9, Config: map[string]interface{}{"client_id": "x"}}
	fc := sc.FactoryConfig()
	assert.Equal(t, 0.9, fc["weight"])
	assert.Equal(t, "x", fc["client_id"])

	fc["logger"] = "mutated"
	_, leaked := sc.Config["logger"]
	assert.False(t, leaked)
}
