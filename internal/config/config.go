package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	DefaultListenAddr = "127.0.0.1:8080"
	DefaultRedisAddr  = "127.0.0.1:6379"
)

type Config struct {
	ListenAddr   string         `json:"listen_addr" yaml:"listen_addr"`
	GRPCAddr     string         `json:"grpc_addr" yaml:"grpc_addr"`
	Backend      string         `json:"backend" yaml:"backend"`
	FlushOnStart bool           `json:"flush_on_start" yaml:"flush_on_start"`
	Redis        RedisConfig    `json:"redis" yaml:"redis"`
	Fetch        FetchConfig    `json:"fetch" yaml:"fetch"`
	Limits       LimitsConfig   `json:"limits" yaml:"limits"`
	Shutdown     ShutdownConfig `json:"shutdown" yaml:"shutdown"`
	Metrics      *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Admin        *AdminConfig   `json:"admin,omitempty" yaml:"admin,omitempty"`
	RateLimit    RateLimit      `json:"rate_limit" yaml:"rate_limit"`
}

type RedisConfig struct {
	Addr          string `json:"addr" yaml:"addr"`
	Password      string `json:"password" yaml:"password"`
	DB            int    `json:"db" yaml:"db"`
	DialTimeoutMS int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
}

type FetchConfig struct {
	TTLMS             int   `json:"ttl_ms" yaml:"ttl_ms"`
	TimeoutMS         int   `json:"timeout_ms" yaml:"timeout_ms"`
	MaxBodyBytes      int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
	CoalesceTimeoutMS int   `json:"coalesce_timeout_ms" yaml:"coalesce_timeout_ms"`
	DisableCoalescing bool  `json:"disable_coalescing" yaml:"disable_coalescing"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled            bool `json:"enabled" yaml:"enabled"`
	FailureRatePercent int  `json:"failure_rate_percent" yaml:"failure_rate_percent"`
	MinimumRequests    int  `json:"minimum_requests" yaml:"minimum_requests"`
	WindowMS           int  `json:"window_ms" yaml:"window_ms"`
	OpenMS             int  `json:"open_ms" yaml:"open_ms"`
	HalfOpenProbes     int  `json:"half_open_probes" yaml:"half_open_probes"`
}

type LimitsConfig struct {
	MaxHeaderBytes      int    `json:"max_header_bytes" yaml:"max_header_bytes"`
	MaxBodyBytes        *int64 `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`
	ReadHeaderTimeoutMS int    `json:"read_header_timeout_ms" yaml:"read_header_timeout_ms"`
	ReadTimeoutMS       int    `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	WriteTimeoutMS      int    `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	IdleTimeoutMS       int    `json:"idle_timeout_ms" yaml:"idle_timeout_ms"`
}

type ShutdownConfig struct {
	DrainMS           int `json:"drain_ms" yaml:"drain_ms"`
	GracefulTimeoutMS int `json:"graceful_timeout_ms" yaml:"graceful_timeout_ms"`
	ForceCloseMS      int `json:"force_close_ms" yaml:"force_close_ms"`
}

type MetricsConfig struct {
	RequireToken bool   `json:"require_token" yaml:"require_token"`
	TokenEnv     string `json:"token_env" yaml:"token_env"`
	// IdentityTopK and HostTopK cap the distinct label values; the rest
	// report as "other".
	IdentityTopK        int `json:"identity_top_k" yaml:"identity_top_k"`
	HostTopK            int `json:"host_top_k" yaml:"host_top_k"`
	RecomputeIntervalMS int `json:"recompute_interval_ms" yaml:"recompute_interval_ms"`
}

type AdminConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	TokenEnv string `json:"token_env" yaml:"token_env"`
	RPS      int    `json:"rps" yaml:"rps"`
	Burst    int    `json:"burst" yaml:"burst"`
}

// RateLimit throttles /v1/fetch per client IP. RPS 0 disables it.
type RateLimit struct {
	RPS   int `json:"rps" yaml:"rps"`
	Burst int `json:"burst" yaml:"burst"`
}

func Default() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Backend:    BackendRedis,
		Redis:      RedisConfig{Addr: DefaultRedisAddr},
	}
}

func ParseJSON(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "parse json config")
	}
	return cfg, nil
}

func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "parse yaml config")
	}
	return cfg, nil
}

// Load reads path (JSON, or YAML for .yaml/.yml), applies KVCACHE_* env
// overrides and validates the result. An empty path starts from defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, platformerrors.WrapWithContext(err, platformerrors.CodeInvalidConfig, "read config", map[string]interface{}{
				"path": path,
			})
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			cfg, err = ParseYAML(data)
		default:
			cfg, err = ParseJSON(data)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
