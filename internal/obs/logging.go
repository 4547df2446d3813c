package obs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type EventLogEntry struct {
	Timestamp   string `json:"ts"`
	Event       string `json:"event"`
	RequestID   string `json:"request_id,omitempty"`
	Identity    string `json:"identity,omitempty"`
	Key         string `json:"key,omitempty"`
	URL         string `json:"url,omitempty"`
	CacheStatus string `json:"cache_status,omitempty"`
	AccessCount int64  `json:"access_count,omitempty"`
	Status      int    `json:"status,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	ErrorCode   string `json:"error_code"`
	Error       string `json:"error,omitempty"`
}

var (
	logOutputMu sync.RWMutex
	logOutput   io.Writer = os.Stdout
)

// SetLogOutput redirects event lines; nil restores stdout.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logOutputMu.Lock()
	logOutput = w
	logOutputMu.Unlock()
}

func LogEvent(event Event) {
	entry := EventLogEntry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Event:       defaultString(event.Name, "unknown"),
		RequestID:   event.RequestID,
		Identity:    event.Identity,
		Key:         event.Key,
		URL:         event.URL,
		CacheStatus: event.CacheStatus,
		AccessCount: event.AccessCount,
		Status:      event.Status,
		DurationMS:  event.Duration.Milliseconds(),
		ErrorCode:   defaultString(event.ErrorCode, "none"),
	}
	if event.Err != nil {
		entry.Error = event.Err.Error()
	}

	logOutputMu.RLock()
	defer logOutputMu.RUnlock()
	data, err := json.Marshal(entry)
	if err != nil {
		_, _ = fmt.Fprintf(logOutput, "log_marshal_error event=%s error=%v\n", entry.Event, err)
		return
	}
	_, _ = logOutput.Write(append(data, '\n'))
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
