package integration

import (
	"context"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/app"
	"kvcache/internal/config"
)

func TestRejectBadConfig(t *testing.T) {
	cases := map[string]string{
		"unknown backend":  buildConfig(`"backend": "mongo"`),
		"negative ttl":     buildConfig(`"fetch": {"ttl_ms": -1}`),
		"breaker rate":     buildConfig(`"fetch": {"breaker": {"enabled": true, "failure_rate_percent": 150}}`),
		"missing token":    buildConfig(`"admin": {"enabled": true, "token_env": "KVCACHE_IT_UNSET_TOKEN"}`),
		"negative top k":   buildConfig(`"metrics": {"host_top_k": -1}`),
		"negative headers": buildConfig(`"limits": {"max_header_bytes": -1}`),
	}
	for name, raw := range cases {
		cfg, err := config.ParseJSON([]byte(raw))
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		if err := config.Validate(cfg); platformerrors.GetCode(err) != platformerrors.CodeInvalidConfig {
			t.Fatalf("%s: expected invalid config, got %v", name, err)
		}
	}
}

func TestOpenFailsWhenRedisUnreachable(t *testing.T) {
	cfg, err := config.ParseJSON([]byte(buildConfig(`"redis": {"addr": "127.0.0.1:1", "dial_timeout_ms": 200}`)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := app.Open(ctx, cfg)
	if err == nil {
		_ = a.Close()
		t.Fatalf("expected open to fail")
	}
	if code := platformerrors.GetCode(err); code != platformerrors.CodeDatabase && code != platformerrors.CodeUnavailable && code != platformerrors.CodeNetwork {
		t.Fatalf("expected a store error code, got %s (%v)", code, err)
	}
}
