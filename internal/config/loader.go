package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "confirmd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// A missing YAML file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom is Load reading the given YAML path.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// overlay replaces *dst when the env var is set and parses cleanly.
// Unparsable values are ignored so a typo falls back to the config file.
func overlay[T any](dst *T, key string, parse func(string) (T, error)) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if parsed, err := parse(v); err == nil {
		*dst = parsed
	}
}

func asString(v string) (string, error) { return v, nil }

func asInt32(v string) (int32, error) {
	n, err := strconv.ParseInt(v, 10, 32)
	return int32(n), err
}

func loadEnv(cfg *Config) {
	overlay(&cfg.Server.Port, "CONFIRMD_PORT", asString)
	overlay(&cfg.Postgres.DSN, "DATABASE_URL", asString)
	overlay(&cfg.Postgres.MaxConns, "CONFIRMD_PG_MAX_CONNS", asInt32)
	overlay(&cfg.Postgres.MinConns, "CONFIRMD_PG_MIN_CONNS", asInt32)
	overlay(&cfg.Postgres.MaxConnLifetime, "CONFIRMD_PG_MAX_CONN_LIFETIME", time.ParseDuration)
	overlay(&cfg.Postgres.MaxConnIdleTime, "CONFIRMD_PG_MAX_CONN_IDLE_TIME", time.ParseDuration)
	overlay(&cfg.Postgres.HealthCheck, "CONFIRMD_PG_HEALTH_CHECK", time.ParseDuration)
	overlay(&cfg.NATS.URL, "NATS_URL", asString)
	overlay(&cfg.SMTP.Host, "CONFIRMD_SMTP_HOST", asString)
	overlay(&cfg.SMTP.Port, "CONFIRMD_SMTP_PORT", strconv.Atoi)
	overlay(&cfg.SMTP.From, "CONFIRMD_SMTP_FROM", asString)
	overlay(&cfg.SMTP.Domain, "CONFIRMD_SMTP_DOMAIN", asString)
	overlay(&cfg.SMS.GatewayURL, "CONFIRMD_SMS_GATEWAY_URL", asString)
	overlay(&cfg.SMS.From, "CONFIRMD_SMS_FROM", asString)
	overlay(&cfg.Cache.L1MaxSizeMB, "CONFIRMD_CACHE_L1_SIZE_MB", func(v string) (int64, error) {
		return strconv.ParseInt(v, 10, 64)
	})
	overlay(&cfg.Cache.TTL, "CONFIRMD_CACHE_TTL", time.ParseDuration)
	overlay(&cfg.Logging.Level, "CONFIRMD_LOG_LEVEL", asString)
	overlay(&cfg.Logging.Service, "CONFIRMD_LOG_SERVICE", asString)
	overlay(&cfg.Timeout.Default, "CONFIRMD_TIMEOUT_DEFAULT", time.ParseDuration)
	overlay(&cfg.Timeout.Action, "CONFIRMD_TIMEOUT_ACTION", asString)
	overlay(&cfg.Timeout.AutoProcess, "CONFIRMD_TIMEOUT_AUTO_PROCESS", strconv.ParseBool)
	overlay(&cfg.Timeout.CheckInterval, "CONFIRMD_TIMEOUT_CHECK_INTERVAL", time.ParseDuration)
	overlay(&cfg.Escalation.ProcessInterval, "CONFIRMD_ESCALATION_INTERVAL", time.ParseDuration)
	overlay(&cfg.Automation.Enabled, "CONFIRMD_AUTOMATION_ENABLED", strconv.ParseBool)
	overlay(&cfg.Automation.ProcessInterval, "CONFIRMD_AUTOMATION_INTERVAL", time.ParseDuration)
	overlay(&cfg.Automation.BaseConfidence, "CONFIRMD_AUTOMATION_BASE_CONFIDENCE", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Timeout.Default <= 0 {
		return errors.New("timeout.default must be positive")
	}
	if cfg.Timeout.CheckInterval <= 0 {
		return errors.New("timeout.check_interval must be positive")
	}
	if cfg.Automation.BaseConfidence < 0 || cfg.Automation.BaseConfidence > 1 {
		return errors.New("automation.base_confidence must be in [0,1]")
	}
	return nil
}
