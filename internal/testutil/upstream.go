package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func StartUpstream(t *testing.T, handler http.Handler) (string, func()) {
	t.Helper()
	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	server := httptest.NewServer(handler)
	return server.URL, server.Close
}

// CountingUpstream serves body and counts the requests it receives.
type CountingUpstream struct {
	URL    string
	hits   atomic.Int32
	body   atomic.Value
	status atomic.Int32
}

func StartCountingUpstream(t *testing.T, body string) *CountingUpstream {
	t.Helper()
	upstream := &CountingUpstream{}
	upstream.body.Store(body)
	upstream.status.Store(http.StatusOK)
	url, closeFn := StartUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstream.hits.Add(1)
		w.WriteHeader(int(upstream.status.Load()))
		_, _ = w.Write([]byte(upstream.body.Load().(string)))
	}))
	upstream.URL = url
	t.Cleanup(closeFn)
	return upstream
}

func (u *CountingUpstream) Hits() int {
	return int(u.hits.Load())
}

func (u *CountingUpstream) SetBody(body string) {
	u.body.Store(body)
}

func (u *CountingUpstream) SetStatus(status int) {
	u.status.Store(int32(status))
}
