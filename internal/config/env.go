// This file contains environment variable utilities for configuration override.

package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// getEnvString returns the value of EnvPrefix+key, or defaultVal if unset.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool returns EnvPrefix+key parsed as a bool, or defaultVal.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		return parseBoolEnv(val, defaultVal)
	}
	return defaultVal
}

// isFlagSet checks if a flag was explicitly set on the command line.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// isFlagSetAny checks if any of the specified flags were explicitly set.
func isFlagSetAny(fs *flag.FlagSet, names ...string) bool {
	for _, name := range names {
		if isFlagSet(fs, name) {
			return true
		}
	}
	return false
}

// envOverride maps an env key (without the PRIMECOUNT_ prefix) to the flag
// name(s) it shadows and a function that applies the env value.
type envOverride struct {
	envKey string
	flags  []string
	apply  func(*AppConfig, string)
}

func durationOverride(dst func(*AppConfig) *time.Duration) func(*AppConfig, string) {
	return func(c *AppConfig, v string) {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst(c) = parsed
		}
	}
}

func intOverride(dst func(*AppConfig) *int) func(*AppConfig, string) {
	return func(c *AppConfig, v string) {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst(c) = parsed
		}
	}
}

// envOverrides is the declarative table of all environment variable overrides.
var envOverrides = []envOverride{
	// String overrides
	{"MODE", []string{"mode"}, func(c *AppConfig, v string) { c.Mode = v }},
	{"ADDR", []string{"addr"}, func(c *AppConfig, v string) { c.Addr = v }},
	{"REDIS_URL", []string{"redis-url"}, func(c *AppConfig, v string) { c.RedisURL = v }},
	{"ALLOWED_ORIGINS", []string{"allowed-origins"}, func(c *AppConfig, v string) {
		c.AllowedOrigins = splitList(v)
	}},
	{"LOG_LEVEL", []string{"log-level"}, func(c *AppConfig, v string) { c.LogLevel = v }},
	{"LOG_FORMAT", []string{"log-format"}, func(c *AppConfig, v string) { c.LogFormat = v }},
	{"TRACING", []string{"tracing"}, func(c *AppConfig, v string) { c.Tracing = v }},

	// Numeric overrides
	{"CONCURRENCY", []string{"concurrency"}, intOverride(func(c *AppConfig) *int { return &c.Concurrency })},
	{"MAX_RETRIES", []string{"max-retries"}, intOverride(func(c *AppConfig) *int { return &c.MaxRetries })},
	{"MAX_CHUNKS", []string{"max-chunks"}, intOverride(func(c *AppConfig) *int { return &c.MaxChunks })},
	{"MIN_N", []string{"min-n"}, func(c *AppConfig, v string) {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MinN = parsed
		}
	}},

	// Duration overrides
	{"JOB_TTL", []string{"job-ttl"}, durationOverride(func(c *AppConfig) *time.Duration { return &c.JobTTL })},
	{"RETIRE_GRACE", []string{"retire-grace"}, durationOverride(func(c *AppConfig) *time.Duration { return &c.RetireGrace })},
	{"TIME_LIMIT", []string{"time-limit"}, durationOverride(func(c *AppConfig) *time.Duration { return &c.HardTimeLimit })},
	{"SOFT_TIME_LIMIT", []string{"soft-time-limit"}, durationOverride(func(c *AppConfig) *time.Duration { return &c.SoftTimeLimit })},
	{"RETRY_DELAY", []string{"retry-delay"}, durationOverride(func(c *AppConfig) *time.Duration { return &c.RetryDelay })},
	{"RESULT_EXPIRES", []string{"result-expires"}, durationOverride(func(c *AppConfig) *time.Duration { return &c.ResultExpires })},
	{"HEARTBEAT", []string{"heartbeat"}, durationOverride(func(c *AppConfig) *time.Duration { return &c.Heartbeat })},

	// Boolean overrides
	{"CORS", []string{"cors"}, func(c *AppConfig, v string) { c.EnableCORS = parseBoolEnv(v, c.EnableCORS) }},
	{"BREAKER", []string{"breaker"}, func(c *AppConfig, v string) { c.Breaker = parseBoolEnv(v, c.Breaker) }},
}

// parseBoolEnv accepts "true", "1", "yes" and "false", "0", "no"
// (case-insensitive). Anything else yields defaultVal.
func parseBoolEnv(val string, defaultVal bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultVal
}

// applyEnvOverrides applies environment values for every flag that was not
// set explicitly: CLI flags > environment variables > defaults.
func applyEnvOverrides(config *AppConfig, fs *flag.FlagSet) {
	for _, o := range envOverrides {
		if isFlagSetAny(fs, o.flags...) {
			continue
		}
		if val := os.Getenv(EnvPrefix + o.envKey); val != "" {
			o.apply(config, val)
		}
	}
}
