package webcache

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// ClassifyError buckets a fetch failure for metrics and error codes.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBreakerOpen) {
		return "breaker_open"
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "status"
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return "too_large"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "reset"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "eof"
	}
	return "other"
}
