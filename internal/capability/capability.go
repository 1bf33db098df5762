package capability

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of one capability invocation. Success=false is an
// expected, reportable failure (missing path, nothing matched); hard faults
// are returned as errors instead and handled by the orchestrator.
type Result struct {
	Success         bool
	Message         string
	ArtifactLocator string
	Stats           map[string]int64
}

// Failf builds a failed Result with a formatted message.
func Failf(format string, args ...interface{}) *Result {
	return &Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Emitter receives progress and log output from a running capability. The
// orchestrator binds an emitter to the current execution and node before
// invoking Execute; capabilities never talk to the event hub directly.
type Emitter interface {
	Progress(percent int, message string)
	Log(message string)
	Logf(format string, args ...interface{})
}

// Capability is one black-box unit of work. Implementations should honor ctx
// cancellation on long operations (the engine cancels it on shutdown) and
// report expected failures via Result.Success rather than an error.
type Capability interface {
	Execute(ctx context.Context, cfg Config, emit Emitter) (*Result, error)
}

// Config is a node's configuration map with tolerant typed getters. Values
// usually arrive from JSON, so numbers show up as float64 and lists as
// []interface{}; the getters accept the common shapes and fall back to the
// provided default otherwise.
type Config map[string]interface{}

// String returns the string at key, or fallback.
func (c Config) String(key, fallback string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return fallback
}

// Int returns the integer at key, or fallback.
func (c Config) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Int64 returns the 64-bit integer at key, or fallback.
func (c Config) Int64(key string, fallback int64) int64 {
	switch v := c[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return fallback
}

// Float returns the float at key, or fallback.
func (c Config) Float(key string, fallback float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// Bool returns the bool at key, or fallback.
func (c Config) Bool(key string, fallback bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return fallback
}

// StringSlice returns the list of strings at key, accepting both []string
// and the []interface{} JSON decoding. Missing or mistyped values yield nil.
func (c Config) StringSlice(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Duration returns the duration at key, or fallback. Accepts a Go duration
// string ("1.5s") or a number of milliseconds.
func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	switch v := c[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return fallback
}
