package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env  string
	Port int

	CORS      CORSConfig
	Log       LogConfig
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	Routing   RoutingConfig
	Canary    CanaryConfig
	Identity  IdentityConfig
	Audit     AuditConfig
	Database  DatabaseConfig
	Redis     RedisConfig
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BreakerConfig carries the per-backend circuit breaker defaults. Backends
// inherit these values when the routing table does not override them.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
}

// RateLimitConfig carries the per-service sliding-window defaults. Every
// backend gets its own window; the gate sits behind the breaker check.
type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
}

// RoutingConfig locates the routing table and the content-routed prefix.
type RoutingConfig struct {
	TableFile          string
	ContentRoutePrefix string
	FallbackService    string
}

// CanaryConfig controls the traffic-splitting engine.
type CanaryConfig struct {
	OverrideHeader string
	OverrideParam  string
	RedisEnabled   bool
	RedisKeyPrefix string
}

// IdentityConfig configures how user identity is extracted for canary rules.
// With a JWT secret set, bearer tokens are verified; otherwise the gateway
// trusts the identity headers injected by the upstream auth proxy.
type IdentityConfig struct {
	JWTSecret    string
	UserIDHeader string
	GroupsHeader string
}

// AuditConfig gates the admin-mutation audit trail.
type AuditConfig struct {
	Enabled bool
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Breaker = BreakerConfig{
		FailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
		SuccessThreshold: v.GetInt("BREAKER_SUCCESS_THRESHOLD"),
		ResetTimeout:     parseDuration(v.GetString("BREAKER_RESET_TIMEOUT"), 30*time.Second),
		CallTimeout:      parseDuration(v.GetString("BREAKER_CALL_TIMEOUT"), 10*time.Second),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:     v.GetBool("RATE_LIMIT_ENABLED"),
		MaxRequests: v.GetInt("RATE_LIMIT_MAX_REQUESTS"),
		Window:      parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
	}

	cfg.Routing = RoutingConfig{
		TableFile:          v.GetString("ROUTING_TABLE_FILE"),
		ContentRoutePrefix: v.GetString("CONTENT_ROUTE_PREFIX"),
		FallbackService:    v.GetString("ROUTING_FALLBACK_SERVICE"),
	}

	cfg.Canary = CanaryConfig{
		OverrideHeader: v.GetString("CANARY_OVERRIDE_HEADER"),
		OverrideParam:  v.GetString("CANARY_OVERRIDE_PARAM"),
		RedisEnabled:   v.GetBool("CANARY_REDIS_ENABLED"),
		RedisKeyPrefix: v.GetString("CANARY_REDIS_KEY_PREFIX"),
	}

	cfg.Identity = IdentityConfig{
		JWTSecret:    v.GetString("IDENTITY_JWT_SECRET"),
		UserIDHeader: v.GetString("IDENTITY_USER_ID_HEADER"),
		GroupsHeader: v.GetString("IDENTITY_GROUPS_HEADER"),
	}

	cfg.Audit = AuditConfig{
		Enabled: v.GetBool("ENABLE_AUDIT_LOG"),
	}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_SUCCESS_THRESHOLD", 3)
	v.SetDefault("BREAKER_RESET_TIMEOUT", "30s")
	v.SetDefault("BREAKER_CALL_TIMEOUT", "10s")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_MAX_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")

	v.SetDefault("ROUTING_TABLE_FILE", "")
	v.SetDefault("CONTENT_ROUTE_PREFIX", "/api/v1/ask")
	v.SetDefault("ROUTING_FALLBACK_SERVICE", "knowledge")

	v.SetDefault("CANARY_OVERRIDE_HEADER", "X-Canary-Version")
	v.SetDefault("CANARY_OVERRIDE_PARAM", "canary")
	v.SetDefault("CANARY_REDIS_ENABLED", false)
	v.SetDefault("CANARY_REDIS_KEY_PREFIX", "gateway:canary:")

	v.SetDefault("IDENTITY_JWT_SECRET", "")
	v.SetDefault("IDENTITY_USER_ID_HEADER", "X-User-ID")
	v.SetDefault("IDENTITY_GROUPS_HEADER", "X-User-Groups")

	v.SetDefault("ENABLE_AUDIT_LOG", false)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gateway")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
