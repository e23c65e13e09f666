// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
)

// データベースドライバ名。
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ドリフト検出時の扱い。
const (
	DriftPolicyWarn = "warn"
	DriftPolicyFail = "fail"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port           string
	DatabaseURL    string
	DatabaseDriver string

	MigrationsDir string
	MigrationExt  string
	DriftPolicy   string
	LockKey       string

	// RequireSchemaCurrent が true の場合、サーバーは未適用マイグレーションがあると起動しない。
	RequireSchemaCurrent bool

	LogLevel           string
	GoogleCloudProject string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		DatabaseDriver:       strings.ToLower(getEnv("DATABASE_DRIVER", DriverMySQL)),
		MigrationsDir:        getEnv("MIGRATIONS_DIR", "./migrations"),
		MigrationExt:         strings.TrimPrefix(getEnv("MIGRATION_EXT", "sql"), "."),
		DriftPolicy:          strings.ToLower(getEnv("DRIFT_POLICY", DriftPolicyWarn)),
		LockKey:              os.Getenv("MIGRATION_LOCK_KEY"),
		RequireSchemaCurrent: getEnvBool("REQUIRE_SCHEMA_CURRENT", false),
		LogLevel:             getEnv("LOG_LEVEL", "INFO"),
		GoogleCloudProject:   os.Getenv("GOOGLE_CLOUD_PROJECT"),
		OtelEnabled:          getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:         getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelInsecure:         getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OtelServiceName:      getEnv("OTEL_SERVICE_NAME", "schema-migrator"),
		OtelSamplingRate:     getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER: %q", c.DatabaseDriver)
	}
	switch c.DriftPolicy {
	case DriftPolicyWarn, DriftPolicyFail:
	default:
		return fmt.Errorf("unsupported DRIFT_POLICY: %q", c.DriftPolicy)
	}
	if c.MigrationsDir == "" {
		return fmt.Errorf("MIGRATIONS_DIR must not be empty")
	}
	if c.MigrationExt == "" {
		return fmt.Errorf("MIGRATION_EXT must not be empty")
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1: %v", c.OtelSamplingRate)
	}
	return nil
}

// ResolvedLockKey はアドバイザリロックのキーを返す。
// 未設定の場合はドライバとDSNのハッシュから導出する（DSN中の認証情報をキーに残さない）。
func (c *Config) ResolvedLockKey() string {
	if c.LockKey != "" {
		return c.LockKey
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.DatabaseURL))
	return fmt.Sprintf("schema_migrations:%s:%x", c.DatabaseDriver, h.Sum64())
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
