package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("AUTH_TOKEN_TYPE", "jwt")
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_HOST", "")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Server.IsDevelopment())
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.TrustedOrigins)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, TokenTypeJWT, cfg.Auth.TokenType)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SERVER_WRITE_TIMEOUT", "30s")
	t.Setenv("TRUSTED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("USER_CACHE_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.False(t, cfg.Server.IsDevelopment())
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.TrustedOrigins)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "cache:6379", cfg.Redis.Address())
	assert.Equal(t, 90*time.Second, cfg.Redis.CacheTTL)
}

func TestLoad_RejectsMissingJWTSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
}

func TestLoad_PasetoKeyLength(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AUTH_TOKEN_TYPE", "paseto")
	t.Setenv("PASETO_KEY", "too-short")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("PASETO_KEY", "0123456789abcdef0123456789abcdef")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TokenTypePaseto, cfg.Auth.TokenType)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	pg := DatabaseConfig{
		Driver: DriverPostgres, Host: "db", Port: "5432", User: "u", Password: "p",
		DBName: "users", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=users sslmode=disable", pg.ConnectionString())

	pg.URL = "postgres://u:p@db/users"
	assert.Equal(t, "postgres://u:p@db/users", pg.ConnectionString())

	lite := DatabaseConfig{Driver: DriverSQLite, SQLitePath: "/tmp/users.db"}
	assert.Equal(t, "file:/tmp/users.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", lite.ConnectionString())
}
