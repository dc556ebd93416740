// Package config loads service settings from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment names accepted by server.environment.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

const minProductionSecretLen = 32

// ErrMissingSecret is returned when no token signing secret is configured.
var ErrMissingSecret = errors.New("config: auth.jwt_secret is required")

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Audit     AuditConfig     `koanf:"audit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	GRPCAddr        string        `koanf:"grpc_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	Environment     string        `koanf:"environment" validate:"oneof=development test production"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only safe behind a proxy that overwrites those headers.
	TrustProxy bool `koanf:"trust_proxy"`
}

type AuthConfig struct {
	JWTSecret        string        `koanf:"jwt_secret"`
	Issuer           string        `koanf:"issuer" validate:"required"`
	Audience         string        `koanf:"audience" validate:"required"`
	AccessTTL        time.Duration `koanf:"access_ttl" validate:"gt=0"`
	RefreshTTL       time.Duration `koanf:"refresh_ttl" validate:"gtfield=AccessTTL"`
	BcryptCost       int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
	LockoutThreshold int           `koanf:"lockout_threshold" validate:"min=1"`
	LockoutWindow    time.Duration `koanf:"lockout_window" validate:"gt=0"`
}

type RateLimitConfig struct {
	MaxRequests    int           `koanf:"max_requests" validate:"min=1"`
	Window         time.Duration `koanf:"window" validate:"gt=0"`
	LoginPerSecond float64       `koanf:"login_per_second" validate:"gt=0"`
	LoginBurst     int           `koanf:"login_burst" validate:"min=1"`

	// Backend selects where window counters live; redis shares them across instances.
	Backend string `koanf:"backend" validate:"oneof=memory redis"`
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"min=1"`
}

type RedisConfig struct {
	Addr       string        `koanf:"addr"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db" validate:"min=0"`
	KeyPrefix  string        `koanf:"key_prefix" validate:"required"`
	AttemptTTL time.Duration `koanf:"attempt_ttl" validate:"gt=0"`
}

type AuditConfig struct {
	BufferSize      int           `koanf:"buffer_size" validate:"min=1"`
	DropIfFull      bool          `koanf:"drop_if_full"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     EnvDevelopment,
			CORSOrigins:     []string{"http://localhost:3000"},
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			Issuer:           "crmdesk",
			Audience:         "crmdesk-web",
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       7 * 24 * time.Hour,
			BcryptCost:       12,
			LockoutThreshold: 5,
			LockoutWindow:    30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:    100,
			Window:         15 * time.Minute,
			LoginPerSecond: 1,
			LoginBurst:     10,
			Backend:        "memory",
		},
		Database: DatabaseConfig{MaxOpenConns: 10},
		Redis:    RedisConfig{KeyPrefix: "crmdesk", AttemptTTL: 24 * time.Hour},
		Audit: AuditConfig{
			BufferSize:      1024,
			DropIfFull:      true,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Production reports whether CSRF enforcement and secure cookies apply.
func (c ServerConfig) Production() bool {
	return c.Environment == EnvProduction
}

// Validate checks struct constraints, then the signing secret.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Redis.AttemptTTL < c.Auth.LockoutWindow {
		return fmt.Errorf("config: redis.attempt_ttl %s is shorter than auth.lockout_window %s", c.Redis.AttemptTTL, c.Auth.LockoutWindow)
	}
	if c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("config: ratelimit.backend redis requires redis.addr")
	}
	secret := strings.TrimSpace(c.Auth.JWTSecret)
	if secret == "" {
		return ErrMissingSecret
	}
	if c.Server.Production() && len(secret) < minProductionSecretLen {
		return fmt.Errorf("config: auth.jwt_secret must be at least %d bytes in production", minProductionSecretLen)
	}
	return nil
}
