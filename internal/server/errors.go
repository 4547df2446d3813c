package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/webcache"
)

const RequestIDHeader = "X-Request-Id"

type contextKey string

const requestIDKey contextKey = "request_id"

type ErrorBody struct {
	Status    int    `json:"status"`
	RequestID string `json:"request_id"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func WriteError(w http.ResponseWriter, requestID string, status int, code string, message string) {
	if recorder, ok := w.(errorCodeWriter); ok {
		recorder.SetErrorCode(code)
	}
	w.Header().Set(RequestIDHeader, requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Status:    status,
		RequestID: requestID,
		ErrorCode: code,
		Message:   message,
	})
}

// writeErr maps err to a status from its platform error code.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := platformerrors.GetCode(err)
	WriteError(w, requestIDFrom(r), StatusForError(err), string(code), err.Error())
}

func StatusForError(err error) int {
	if errors.Is(err, webcache.ErrFetch) {
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case platformerrors.CodeNotFound:
		return http.StatusNotFound
	case platformerrors.CodeDatabase, platformerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case platformerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	return value, ok
}

func NewRequestID() string {
	return uuid.NewString()
}

func requestIDFrom(r *http.Request) string {
	if id, ok := RequestIDFromContext(r.Context()); ok {
		return id
	}
	return "none"
}
