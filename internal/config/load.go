package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "CRMDESK_"

// PathEnvVar names an optional YAML file loaded between defaults and environment.
const PathEnvVar = EnvPrefix + "CONFIG"

var envMappings = map[string]string{
	"addr":                   "server.addr",
	"grpc_addr":              "server.grpc_addr",
	"read_timeout":           "server.read_timeout",
	"write_timeout":          "server.write_timeout",
	"shutdown_timeout":       "server.shutdown_timeout",
	"env":                    "server.environment",
	"environment":            "server.environment",
	"cors_origins":           "server.cors_origins",
	"trust_proxy":            "server.trust_proxy",
	"max_body_bytes":         "server.max_body_bytes",
	"jwt_secret":             "auth.jwt_secret",
	"jwt_issuer":             "auth.issuer",
	"jwt_audience":           "auth.audience",
	"access_ttl":             "auth.access_ttl",
	"refresh_ttl":            "auth.refresh_ttl",
	"bcrypt_cost":            "auth.bcrypt_cost",
	"lockout_threshold":      "auth.lockout_threshold",
	"lockout_window":         "auth.lockout_window",
	"rate_max_requests":      "ratelimit.max_requests",
	"rate_window":            "ratelimit.window",
	"login_per_second":       "ratelimit.login_per_second",
	"login_burst":            "ratelimit.login_burst",
	"rate_backend":           "ratelimit.backend",
	"pg_dsn":                 "database.dsn",
	"pg_max_open_conns":      "database.max_open_conns",
	"redis_addr":             "redis.addr",
	"redis_password":         "redis.password",
	"redis_db":               "redis.db",
	"redis_key_prefix":       "redis.key_prefix",
	"redis_attempt_ttl":      "redis.attempt_ttl",
	"audit_buffer_size":      "audit.buffer_size",
	"audit_drop_if_full":     "audit.drop_if_full",
	"audit_breaker_failures": "audit.breaker_failures",
	"audit_breaker_timeout":  "audit.breaker_timeout",
	"log_level":              "logging.level",
	"log_format":             "logging.format",
}

var sliceKeys = []string{"server.cors_origins"}

// Load layers defaults, the optional YAML file and CRMDESK_* variables, then validates.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv(PathEnvVar)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := splitLists(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps CRMDESK_JWT_SECRET to auth.jwt_secret; unknown names are skipped.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key == "config" {
		return ""
	}
	return envMappings[key]
}

func splitLists(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("config: set %s: %w", path, err)
		}
	}
	return nil
}
