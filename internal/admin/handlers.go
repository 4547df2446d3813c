package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/kv"
	"kvcache/internal/obs"
	"kvcache/internal/ratelimit"
)

const RequestIDHeader = "X-Request-Id"

type HandlerConfig struct {
	Store       kv.Store
	Auth        *Authenticator
	RateLimiter *ratelimit.Limiter
}

type handler struct {
	store       kv.Store
	auth        *Authenticator
	rateLimiter *ratelimit.Limiter
	mux         *http.ServeMux
}

// NewHandler serves the authenticated /admin/ routes.
func NewHandler(cfg HandlerConfig) http.Handler {
	h := &handler{
		store:       cfg.Store,
		auth:        cfg.Auth,
		rateLimiter: cfg.RateLimiter,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/flush", h.handleFlush)
	mux.HandleFunc("/admin/ping", h.handlePing)
	h.mux = mux
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(RequestIDHeader, requestID)
	}
	w.Header().Set(RequestIDHeader, requestID)

	if h.rateLimiter != nil {
		if !h.rateLimiter.Allow(r.RemoteAddr) {
			writeError(w, requestID, http.StatusTooManyRequests, "RATE_LIMITED", "rate_limited")
			return
		}
	}

	if h.auth == nil {
		writeError(w, requestID, http.StatusUnauthorized, "UNAUTHORIZED", "auth unavailable")
		return
	}
	if err := h.auth.Authenticate(r); err != nil {
		if h.rateLimiter != nil {
			h.rateLimiter.RecordFailure(r.RemoteAddr)
		}
		status := http.StatusUnauthorized
		message := "unauthorized"
		var authErr *AuthError
		if errors.As(err, &authErr) {
			status = authErr.Status
			message = authErr.Message
		}
		writeError(w, requestID, status, "UNAUTHORIZED", message)
		return
	}
	if h.rateLimiter != nil {
		h.rateLimiter.ResetFailures(r.RemoteAddr)
	}

	h.mux.ServeHTTP(w, r)
}

func (h *handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if r.Method != http.MethodPost {
		writeError(w, requestID, http.StatusMethodNotAllowed, string(platformerrors.CodeInvalidInput), "method not allowed")
		return
	}
	if h.store == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "store unavailable")
		return
	}
	start := time.Now()
	if err := h.store.FlushDB(r.Context()); err != nil {
		code := string(platformerrors.GetCode(err))
		obs.LogEvent(obs.Event{
			Name:      "admin_flush",
			RequestID: requestID,
			Status:    http.StatusServiceUnavailable,
			Duration:  time.Since(start),
			ErrorCode: code,
			Err:       err,
		})
		writeError(w, requestID, http.StatusServiceUnavailable, code, "flush failed")
		return
	}
	obs.LogEvent(obs.Event{
		Name:      "admin_flush",
		RequestID: requestID,
		Status:    http.StatusOK,
		Duration:  time.Since(start),
	})
	writeJSON(w, requestID, http.StatusOK, map[string]bool{"flushed": true})
}

func (h *handler) handlePing(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if r.Method != http.MethodGet {
		writeError(w, requestID, http.StatusMethodNotAllowed, string(platformerrors.CodeInvalidInput), "method not allowed")
		return
	}
	if h.store == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, string(platformerrors.CodeUnavailable), "store unavailable")
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, requestID, http.StatusServiceUnavailable, string(platformerrors.GetCode(err)), err.Error())
		return
	}
	writeJSON(w, requestID, http.StatusOK, map[string]bool{"ok": true})
}

func writeError(w http.ResponseWriter, requestID string, status int, code string, message string) {
	writeJSON(w, requestID, status, map[string]interface{}{
		"status":     status,
		"request_id": requestID,
		"error_code": code,
		"message":    message,
	})
}

func writeJSON(w http.ResponseWriter, requestID string, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, requestID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
