package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort             = 3010
	defaultMaxPayloadKB     = 256
	defaultDeliveryCacheTTL = 60
)

// Load reads the YAML config file, applies environment overrides, and fills
// defaults. A missing file is not an error as long as the environment carries
// the connection settings.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := &AppConfig{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env-only configuration
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required (config %s or STRATA_DSN)", path)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("STRATA_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("STRATA_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("STRATA_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("STRATA_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("STRATA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.Env == "" {
		cfg.Env = "production"
	}
	if cfg.MaxPayloadKB <= 0 {
		cfg.MaxPayloadKB = defaultMaxPayloadKB
	}
	if cfg.DeliveryCacheTTL <= 0 {
		cfg.DeliveryCacheTTL = defaultDeliveryCacheTTL
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}
