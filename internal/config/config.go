package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// All configuration is environment-only. Load pulls a local .env file
// into the process environment for development; production deployments
// set real environment variables and ship no .env file.

// Load reads an optional .env file. Call once at process start.
func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
}

// Require reads a required environment variable and exits if it is not
// set. This prevents a binary from starting with missing critical
// configuration (API keys, peer URLs).
func Require(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set", key)
	}
	return val
}

// String returns the env var value or a default for non-secret settings.
func String(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Int returns the env var parsed as int, or the default when unset or
// unparsable (unparsable values are logged, not fatal).
func Int(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, val, fallback)
		return fallback
	}
	return n
}

// Bool returns the env var parsed as bool ("true"/"false"/"1"/"0"), or
// the default when unset or unparsable.
func Bool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %v", key, val, fallback)
		return fallback
	}
	return b
}

// Seconds returns the env var interpreted as a whole number of seconds.
func Seconds(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		log.Printf("Invalid %s=%q, using default %s", key, val, fallback)
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Pipeline-wide knobs with their production defaults.

// MaxRetries is the number of additional attempts after the first.
func MaxRetries() int { return Int("MAX_RETRIES", 3) }

// RetryBackoffBase is the exponential backoff base in seconds.
func RetryBackoffBase() int { return Int("RETRY_BACKOFF_BASE_SECONDS", 2) }

// AlgorithmTimeout bounds a single worker call.
func AlgorithmTimeout() time.Duration { return Seconds("ALGORITHM_TIMEOUT_SECONDS", 30*time.Second) }

// CacheSize is the worker idempotency cache capacity.
func CacheSize() int { return Int("CACHE_SIZE", 1000) }

// RateLimitPerMinute is the per-client request budget.
func RateLimitPerMinute() int { return Int("RATE_LIMIT_PER_MINUTE", 100) }

// MaxRequestSizeBytes is the admission-control payload cap.
func MaxRequestSizeBytes() int64 { return int64(Int("MAX_REQUEST_SIZE_MB", 10)) * 1024 * 1024 }

// MaxEventsPerRequest caps the event-list length of one detect call.
func MaxEventsPerRequest() int { return Int("MAX_EVENTS_PER_REQUEST", 100000) }

// ValidationStrict makes the aggregator fail closed on missing or
// non-final workers.
func ValidationStrict() bool { return Bool("VALIDATION_STRICT", true) }

// AllowPartialResults lets the aggregator merge SUCCESS entries and
// ignore EXHAUSTED ones instead of failing.
func AllowPartialResults() bool { return Bool("ALLOW_PARTIAL_RESULTS", false) }
