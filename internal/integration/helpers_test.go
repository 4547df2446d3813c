package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"kvcache/internal/app"
	"kvcache/internal/config"
	"kvcache/internal/obs"
	"kvcache/internal/testutil"
)

type stack struct {
	app     *app.App
	running *app.Running
	redis   *miniredis.Miniredis
	client  *testutil.APIClient
}

// buildConfig returns a JSON config listening on a free port with a fast
// shutdown. extra is appended as further top-level fields; later duplicates
// win.
func buildConfig(extra string) string {
	cfg := `{
"listen_addr": "127.0.0.1:0",
"backend": "redis",
"shutdown": {"drain_ms": 1, "graceful_timeout_ms": 2000, "force_close_ms": 1}`
	if extra != "" {
		cfg += "," + extra
	}
	cfg += "}"
	return cfg
}

func startStack(t *testing.T, cfgJSON string) *stack {
	t.Helper()
	return startStackOn(t, miniredis.RunT(t), cfgJSON)
}

func startStackOn(t *testing.T, redisServer *miniredis.Miniredis, cfgJSON string) *stack {
	t.Helper()

	cfg, err := config.ParseJSON([]byte(cfgJSON))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Redis.Addr = redisServer.Addr()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	ctx := context.Background()
	a, err := app.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	running, err := a.Start(ctx)
	if err != nil {
		_ = a.Close()
		t.Fatalf("start app: %v", err)
	}
	t.Cleanup(func() {
		_ = running.Shutdown()
		_ = a.Close()
	})

	return &stack{
		app:     a,
		running: running,
		redis:   redisServer,
		client:  testutil.NewAPIClient("http://"+running.HTTPAddr, ""),
	}
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Events returns the decoded log lines whose event field equals name.
func (b *logBuffer) Events(t *testing.T, name string) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	data := b.buf.String()
	b.mu.Unlock()

	events := []map[string]interface{}{}
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			t.Fatalf("parse log json %q: %v", line, err)
		}
		if payload["event"] == name {
			events = append(events, payload)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan logs: %v", err)
	}
	return events
}

func captureLogs(t *testing.T) *logBuffer {
	t.Helper()
	buf := &logBuffer{}
	obs.SetLogOutput(buf)
	t.Cleanup(func() { obs.SetLogOutput(nil) })
	return buf
}

func assertLogField(t *testing.T, payload map[string]interface{}, field string) {
	t.Helper()
	value, ok := payload[field]
	if !ok {
		t.Fatalf("missing log field %s", field)
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			t.Fatalf("log field %s is empty", field)
		}
	}
}

func decodeJSON[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return out
}

func storeValue(t *testing.T, client *testutil.APIClient, kind string, body string) string {
	t.Helper()
	path := "/v1/store"
	if kind != "" {
		path += "?type=" + kind
	}
	resp, data := client.Post(t, path, []byte(body))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("store: expected 201, got %d: %s", resp.StatusCode, data)
	}
	return decodeJSON[map[string]string](t, data)["key"]
}
