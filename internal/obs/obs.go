package obs

import "time"

type Event struct {
	Name        string
	RequestID   string
	Identity    string
	Key         string
	URL         string
	CacheStatus string
	AccessCount int64
	Status      int
	Duration    time.Duration
	ErrorCode   string
	Err         error
}
