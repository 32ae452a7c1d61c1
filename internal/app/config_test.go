package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		APIKeyPepper: "pepper",
		Storage:      StorageConfig{Driver: DriverPostgres, DatabaseURL: "postgres://localhost/storefront"},
		RateLimit:    RateLimitConfig{Max: 30, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{
			name:   "sqlite",
			mutate: func(c *Config) { c.Storage = StorageConfig{Driver: DriverSQLite, SQLitePath: "x.db"} },
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Storage.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage = StorageConfig{Driver: DriverSQLite} },
			wantErr: "sqlite path is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "mysql" },
			wantErr: `unknown storage driver "mysql"`,
		},
		{
			name:    "no pepper",
			mutate:  func(c *Config) { c.APIKeyPepper = "" },
			wantErr: "pepper",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit.Max = 0 },
			wantErr: "rate limit",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	c := validConfig()
	c.Storage.DatabaseURL = ""
	c.Kafka.Brokers = []string{"", "kafka:9092", ""}
	c.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", c.Storage.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", c.Addr)
	assert.Equal(t, []string{"kafka:9092"}, c.Kafka.Brokers)
}

func TestConfig_PlatformDefaults_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	c := validConfig()
	c.Addr = "127.0.0.1:7000"
	c.applyPlatformDefaults()

	assert.Equal(t, "postgres://localhost/storefront", c.Storage.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", c.Addr)
	assert.Empty(t, c.Kafka.Brokers)
}
