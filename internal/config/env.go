package config

import (
	"strconv"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
)

const EnvPrefix = "KVCACHE_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return platformerrors.New(platformerrors.CodeInvalidConfig, "config is nil")
	}
	if lookup == nil {
		return nil
	}

	if value, ok := lookupString(lookup, "LISTEN_ADDR"); ok {
		cfg.ListenAddr = value
	}
	if value, ok := lookupString(lookup, "GRPC_ADDR"); ok {
		cfg.GRPCAddr = value
	}
	if value, ok := lookupString(lookup, "BACKEND"); ok {
		cfg.Backend = strings.ToLower(value)
	}
	if value, ok := lookupString(lookup, "REDIS_ADDR"); ok {
		cfg.Redis.Addr = value
	}
	if value, ok := lookupString(lookup, "REDIS_PASSWORD"); ok {
		cfg.Redis.Password = value
	}

	intFields := []struct {
		name   string
		target *int
	}{
		{"REDIS_DB", &cfg.Redis.DB},
		{"REDIS_DIAL_TIMEOUT_MS", &cfg.Redis.DialTimeoutMS},
		{"FETCH_TTL_MS", &cfg.Fetch.TTLMS},
		{"FETCH_TIMEOUT_MS", &cfg.Fetch.TimeoutMS},
		{"FETCH_COALESCE_TIMEOUT_MS", &cfg.Fetch.CoalesceTimeoutMS},
		{"RATE_LIMIT_RPS", &cfg.RateLimit.RPS},
		{"RATE_LIMIT_BURST", &cfg.RateLimit.Burst},
	}
	for _, field := range intFields {
		value, ok := lookupString(lookup, field.name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return envError(field.name, err)
		}
		*field.target = parsed
	}

	if value, ok := lookupString(lookup, "FETCH_MAX_BODY_BYTES"); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return envError("FETCH_MAX_BODY_BYTES", err)
		}
		cfg.Fetch.MaxBodyBytes = parsed
	}
	if value, ok := lookupString(lookup, "FLUSH_ON_START"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return envError("FLUSH_ON_START", err)
		}
		cfg.FlushOnStart = parsed
	}
	return nil
}

func lookupString(lookup LookupFunc, name string) (string, bool) {
	value, ok := lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func envError(name string, err error) error {
	return platformerrors.WrapWithContext(err, platformerrors.CodeInvalidConfig, "invalid environment override", map[string]interface{}{
		"env": EnvPrefix + name,
	})
}
