package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/admin"
	"kvcache/internal/cache"
	"kvcache/internal/kv"
	"kvcache/internal/obs"
	"kvcache/internal/ratelimit"
	"kvcache/internal/replay"
	"kvcache/internal/webcache"
)

const (
	AccessCountHeader = "X-Access-Count"

	defaultMaxBodyBytes int64 = 10 << 20
)

type HandlerConfig struct {
	Cache   *cache.Cache
	Replay  *replay.Engine
	Fetch   *webcache.Cache
	Store   kv.Store
	Metrics *obs.Metrics
	// MetricsToken guards /metrics with a bearer token when non-empty.
	MetricsToken string
	MaxBodyBytes int64
	// FetchLimiter throttles /v1/fetch per client when set.
	FetchLimiter *ratelimit.Limiter
	// Admin is mounted under /admin/ when set.
	Admin http.Handler
}

type handler struct {
	cache        *cache.Cache
	replay       *replay.Engine
	fetch        *webcache.Cache
	store        kv.Store
	metrics      *obs.Metrics
	metricsToken string
	maxBodyBytes int64
	fetchLimiter *ratelimit.Limiter
}

// NewHandler returns the HTTP API. Every request gets a request id, a metrics
// sample and one event log line.
func NewHandler(cfg HandlerConfig) http.Handler {
	h := &handler{
		cache:        cfg.Cache,
		replay:       cfg.Replay,
		fetch:        cfg.Fetch,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		metricsToken: cfg.MetricsToken,
		maxBodyBytes: cfg.MaxBodyBytes,
		fetchLimiter: cfg.FetchLimiter,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = defaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	mux.Handle("POST /v1/store", h.instrumented("store", h.handleStore))
	mux.Handle("GET /v1/retrieve/{key}", h.instrumented("retrieve", h.handleRetrieve))
	mux.Handle("GET /v1/calls/{identity}", h.instrumented("calls", h.handleCalls))
	mux.Handle("GET /v1/replay/{identity}", h.instrumented("replay", h.handleReplay))
	mux.Handle("GET /v1/fetch", h.instrumented("fetch", h.handleFetch))
	mux.Handle("GET /v1/access-count", h.instrumented("access_count", h.handleAccessCount))
	mux.Handle("GET /healthz", h.instrumented("healthz", h.handleHealth))
	mux.Handle("GET /metrics", h.instrumented("metrics", h.handleMetrics))
	if cfg.Admin != nil {
		mux.Handle("/admin/", h.instrumented("admin", cfg.Admin.ServeHTTP))
	}
	return mux
}

func (h *handler) instrumented(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = NewRequestID()
			r.Header.Set(RequestIDHeader, requestID)
		}
		r = r.WithContext(obs.StartTrace(WithRequestID(r.Context(), requestID), r))
		w.Header().Set(RequestIDHeader, requestID)

		recorder := newResponseRecorder(w)
		fn(recorder, r)

		status := recorder.Status()
		h.metrics.RecordHTTPRequest(name, status)
		obs.LogEvent(obs.Event{
			Name:      "http_" + name,
			RequestID: requestID,
			Identity:  r.PathValue("identity"),
			Key:       r.PathValue("key"),
			URL:       r.URL.Query().Get("url"),
			Status:    status,
			Duration:  time.Since(start),
			ErrorCode: recorder.errorCode,
		})
	})
}

func (h *handler) handleStore(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "cache unavailable")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, requestIDFrom(r), http.StatusRequestEntityTooLarge, string(platformerrors.CodeInvalidInput), "body too large")
			return
		}
		WriteError(w, requestIDFrom(r), http.StatusBadRequest, string(platformerrors.CodeInvalidInput), "invalid body")
		return
	}
	data, err := parseStoreBody(r.URL.Query().Get("type"), body)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	key, err := h.cache.Store(r.Context(), data)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"key": key})
}

// parseStoreBody converts the request body into the value type named by kind.
func parseStoreBody(kind string, body []byte) (any, error) {
	switch strings.ToLower(kind) {
	case "", "text":
		return string(body), nil
	case "bytes":
		return body, nil
	case "int":
		value, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "body is not an integer")
		}
		return value, nil
	case "float":
		value, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "body is not a float")
		}
		return value, nil
	default:
		return nil, platformerrors.Newf(platformerrors.CodeInvalidInput, "unknown type %q", kind)
	}
}

func (h *handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "cache unavailable")
		return
	}
	key := r.PathValue("key")
	ctx := r.Context()

	var (
		body        []byte
		contentType = "text/plain; charset=utf-8"
		ok          bool
		err         error
	)
	as := strings.ToLower(r.URL.Query().Get("as"))
	switch as {
	case "", "raw":
		body, ok, err = h.cache.Retrieve(ctx, key)
		contentType = "application/octet-stream"
	case "text":
		var text string
		text, ok, err = h.cache.RetrieveText(ctx, key)
		body = []byte(text)
	case "int":
		var value int64
		value, ok, err = h.cache.RetrieveInt(ctx, key)
		body = strconv.AppendInt(nil, value, 10)
	case "float":
		var value float64
		value, ok, err = h.cache.RetrieveFloat(ctx, key)
		body = strconv.AppendFloat(nil, value, 'f', -1, 64)
	default:
		WriteError(w, requestIDFrom(r), http.StatusBadRequest, string(platformerrors.CodeInvalidInput), "unknown conversion "+strconv.Quote(as))
		return
	}
	if err != nil {
		if ok {
			WriteError(w, requestIDFrom(r), http.StatusUnprocessableEntity, string(platformerrors.GetCode(err)), "stored value cannot be read as "+as)
			return
		}
		writeErr(w, r, err)
		return
	}
	if !ok {
		WriteError(w, requestIDFrom(r), http.StatusNotFound, string(platformerrors.CodeNotFound), "key not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *handler) handleCalls(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if h.replay == nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "replay unavailable")
		return
	}
	calls, err := h.replay.Calls(r.Context(), identity)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"identity": identity, "calls": calls})
}

func (h *handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if h.replay == nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "replay unavailable")
		return
	}
	var out strings.Builder
	if err := h.replay.Print(r.Context(), &out, identity); err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out.String())
}

func (h *handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	if h.fetch == nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "fetch unavailable")
		return
	}
	if !h.fetchLimiter.Allow(r.RemoteAddr) {
		WriteError(w, requestIDFrom(r), http.StatusTooManyRequests, "RATE_LIMITED", "rate_limited")
		return
	}
	url := r.URL.Query().Get("url")
	body, err := h.fetch.Fetch(r.Context(), url)
	if count, countErr := h.fetch.AccessCount(r.Context(), url); countErr == nil && count > 0 {
		w.Header().Set(AccessCountHeader, strconv.FormatInt(count, 10))
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (h *handler) handleAccessCount(w http.ResponseWriter, r *http.Request) {
	if h.fetch == nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "fetch unavailable")
		return
	}
	url := r.URL.Query().Get("url")
	count, err := h.fetch.AccessCount(r.Context(), url)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"url": webcache.NormalizeURL(url), "count": count})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "store unavailable")
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		WriteError(w, requestIDFrom(r), http.StatusServiceUnavailable, string(platformerrors.GetCode(err)), err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		WriteError(w, requestIDFrom(r), http.StatusNotFound, string(platformerrors.CodeNotFound), "metrics disabled")
		return
	}
	if h.metricsToken != "" {
		token, ok := admin.BearerToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.metricsToken)) != 1 {
			WriteError(w, requestIDFrom(r), http.StatusUnauthorized, "UNAUTHORIZED", "token required")
			return
		}
	}
	h.metrics.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, requestIDFrom(r))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
