package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Dependency kinds with tuned defaults
const (
	KindLLM    = "llm"
	KindSearch = "search"
	KindRedis  = "redis"
	KindDB     = "db"
)

// SettingsFor returns defaults for a dependency kind, overridable through
// DEEPRESEARCH_CB_<KIND>_{MAX_REQUESTS,INTERVAL,TIMEOUT,FAILURE_THRESHOLD,SUCCESS_THRESHOLD}.
func SettingsFor(kind string) Settings {
	s := DefaultSettings()
	switch kind {
	case KindLLM:
		// provider outages last; don't hammer them
		s.Timeout = 30 * time.Second
		s.FailureThreshold = 5
	case KindSearch:
		s.Interval = 30 * time.Second
		s.Timeout = 15 * time.Second
		s.FailureThreshold = 3
	case KindRedis:
		s.MaxRequests = 5
		s.Interval = 30 * time.Second
		s.Timeout = 15 * time.Second
		s.FailureThreshold = 3
	case KindDB:
		s.Timeout = 30 * time.Second
	}

	prefix := "DEEPRESEARCH_CB_" + strings.ToUpper(kind) + "_"
	s.MaxRequests = envUint32(prefix+"MAX_REQUESTS", s.MaxRequests)
	s.Interval = envDuration(prefix+"INTERVAL", s.Interval)
	s.Timeout = envDuration(prefix+"TIMEOUT", s.Timeout)
	s.FailureThreshold = envUint32(prefix+"FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = envUint32(prefix+"SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

func envUint32(key string, def uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
