package config

import (
	"os"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
)

const (
	defaultMetricsTokenEnv = "METRICS_TOKEN"
	defaultAdminTokenEnv   = "KVCACHE_ADMIN_TOKEN"
)

func Validate(cfg *Config) error {
	if cfg == nil {
		return platformerrors.New(platformerrors.CodeInvalidConfig, "config is nil")
	}
	if err := validateBackend(cfg); err != nil {
		return err
	}
	if err := validateFetch(cfg); err != nil {
		return err
	}
	if err := validateLimits(cfg); err != nil {
		return err
	}
	if err := validateRateLimit(cfg); err != nil {
		return err
	}
	if err := validateAdmin(cfg); err != nil {
		return err
	}
	return validateMetrics(cfg)
}

func ValidateMetricsToken(cfg *Config) error {
	return validateMetrics(cfg)
}

// MetricsToken returns the bearer token guarding /metrics, or "" when the
// endpoint is open.
func MetricsToken(cfg *Config) string {
	if cfg == nil || cfg.Metrics == nil || !cfg.Metrics.RequireToken {
		return ""
	}
	return strings.TrimSpace(os.Getenv(metricsTokenEnv(cfg.Metrics)))
}

// AdminToken returns the admin bearer token, or "" when the admin API is off.
func AdminToken(cfg *Config) string {
	if cfg == nil || cfg.Admin == nil || !cfg.Admin.Enabled {
		return ""
	}
	return strings.TrimSpace(os.Getenv(adminTokenEnv(cfg.Admin)))
}

func validateBackend(cfg *Config) error {
	switch cfg.Backend {
	case BackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return invalid("redis.addr is required for the redis backend")
		}
		if cfg.Redis.DB < 0 {
			return invalid("redis.db must be >= 0")
		}
		if cfg.Redis.DialTimeoutMS < 0 {
			return invalid("redis.dial_timeout_ms must be >= 0")
		}
	case BackendMemory:
	default:
		return platformerrors.Newf(platformerrors.CodeInvalidConfig, "unknown backend %q", cfg.Backend)
	}
	return nil
}

func validateFetch(cfg *Config) error {
	if cfg.Fetch.TTLMS < 0 {
		return invalid("fetch.ttl_ms must be >= 0")
	}
	if cfg.Fetch.TimeoutMS < 0 {
		return invalid("fetch.timeout_ms must be >= 0")
	}
	if cfg.Fetch.MaxBodyBytes < 0 {
		return invalid("fetch.max_body_bytes must be >= 0")
	}
	if cfg.Fetch.CoalesceTimeoutMS < 0 {
		return invalid("fetch.coalesce_timeout_ms must be >= 0")
	}
	breaker := cfg.Fetch.Breaker
	if breaker.FailureRatePercent < 0 || breaker.FailureRatePercent > 100 {
		return invalid("fetch.breaker.failure_rate_percent must be within 0..100")
	}
	if breaker.MinimumRequests < 0 || breaker.WindowMS < 0 || breaker.OpenMS < 0 || breaker.HalfOpenProbes < 0 {
		return invalid("fetch.breaker values must be >= 0")
	}
	return nil
}

func validateLimits(cfg *Config) error {
	if cfg.Limits.MaxBodyBytes != nil && *cfg.Limits.MaxBodyBytes <= 0 {
		return invalid("limits.max_body_bytes must be > 0")
	}
	if cfg.Limits.MaxHeaderBytes < 0 {
		return invalid("limits.max_header_bytes must be >= 0")
	}
	if cfg.Limits.ReadHeaderTimeoutMS < 0 {
		return invalid("limits.read_header_timeout_ms must be >= 0")
	}
	return nil
}

func validateMetrics(cfg *Config) error {
	if cfg == nil || cfg.Metrics == nil {
		return nil
	}
	if cfg.Metrics.IdentityTopK < 0 || cfg.Metrics.HostTopK < 0 || cfg.Metrics.RecomputeIntervalMS < 0 {
		return invalid("metrics top-k values must be >= 0")
	}
	if !cfg.Metrics.RequireToken {
		return nil
	}
	env := metricsTokenEnv(cfg.Metrics)
	if strings.TrimSpace(os.Getenv(env)) == "" {
		return platformerrors.Newf(platformerrors.CodeInvalidConfig, "metrics token missing in %s", env)
	}
	return nil
}

func validateRateLimit(cfg *Config) error {
	if cfg.RateLimit.RPS < 0 {
		return invalid("rate_limit.rps must be >= 0")
	}
	if cfg.RateLimit.Burst < 0 {
		return invalid("rate_limit.burst must be >= 0")
	}
	return nil
}

func validateAdmin(cfg *Config) error {
	if cfg.Admin == nil || !cfg.Admin.Enabled {
		return nil
	}
	if cfg.Admin.RPS < 0 || cfg.Admin.Burst < 0 {
		return invalid("admin.rps and admin.burst must be >= 0")
	}
	env := adminTokenEnv(cfg.Admin)
	if strings.TrimSpace(os.Getenv(env)) == "" {
		return platformerrors.Newf(platformerrors.CodeInvalidConfig, "admin token missing in %s", env)
	}
	return nil
}

func adminTokenEnv(admin *AdminConfig) string {
	env := strings.TrimSpace(admin.TokenEnv)
	if env == "" {
		env = defaultAdminTokenEnv
	}
	return env
}

func metricsTokenEnv(metrics *MetricsConfig) string {
	env := strings.TrimSpace(metrics.TokenEnv)
	if env == "" {
		env = defaultMetricsTokenEnv
	}
	return env
}

func invalid(message string) error {
	return platformerrors.New(platformerrors.CodeInvalidConfig, message)
}
