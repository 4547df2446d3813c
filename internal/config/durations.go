package config

import "time"

func (r RedisConfig) DialTimeout() time.Duration {
	return durationMS(r.DialTimeoutMS)
}

func (f FetchConfig) TTL() time.Duration {
	return durationMS(f.TTLMS)
}

func (f FetchConfig) Timeout() time.Duration {
	return durationMS(f.TimeoutMS)
}

func (f FetchConfig) CoalesceTimeout() time.Duration {
	return durationMS(f.CoalesceTimeoutMS)
}

func (b BreakerConfig) Window() time.Duration {
	return durationMS(b.WindowMS)
}

func (b BreakerConfig) Open() time.Duration {
	return durationMS(b.OpenMS)
}

func (m MetricsConfig) RecomputeInterval() time.Duration {
	return durationMS(m.RecomputeIntervalMS)
}

// durationMS treats zero and negative values as unset.
func durationMS(milliseconds int) time.Duration {
	if milliseconds <= 0 {
		return 0
	}
	return time.Duration(milliseconds) * time.Millisecond
}
