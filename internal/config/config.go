// Package config loads the engine's tunable parameters from environment
// variables, optionally seeded from a .env file in the working directory.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the pacer and scheduler package defaults so a host that
// never sets any HEAPKEEPER_* variable still gets sane behavior.
const (
	DefaultBytesThreshold    = 32 << 20
	DefaultCallsThreshold    = 1 << 20
	DefaultCollectIntervalMs = 500
	DefaultPacerAlpha        = 0.2
	DefaultPacerPeakFactor   = 2.0
	DefaultAutoCollect       = true
	DefaultTelemetryAddr     = ""
)

// Config holds every environment-tunable engine parameter.
type Config struct {
	BytesThreshold  uint64
	CallsThreshold  uint64
	CollectInterval time.Duration
	PacerAlpha      float64
	PacerPeakFactor float64
	AutoCollect     bool
	TelemetryAddr   string // empty disables the telemetry server
}

// Load reads a .env file if present (missing files are not an error) and
// then fills a Config from the environment, falling back to defaults for
// anything unset or unparsable.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded, using process environment", "error", err)
	}

	return &Config{
		BytesThreshold:  envUint64("HEAPKEEPER_BYTES_THRESHOLD", DefaultBytesThreshold),
		CallsThreshold:  envUint64("HEAPKEEPER_CALLS_THRESHOLD", DefaultCallsThreshold),
		CollectInterval: time.Duration(envInt64("HEAPKEEPER_COLLECT_INTERVAL_MS", DefaultCollectIntervalMs)) * time.Millisecond,
		PacerAlpha:      envFloat64("HEAPKEEPER_PACER_ALPHA", DefaultPacerAlpha),
		PacerPeakFactor: envFloat64("HEAPKEEPER_PACER_PEAK_FACTOR", DefaultPacerPeakFactor),
		AutoCollect:     envBool("HEAPKEEPER_AUTO_COLLECT", DefaultAutoCollect),
		TelemetryAddr:   envString("HEAPKEEPER_TELEMETRY_ADDR", DefaultTelemetryAddr),
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envUint64(key string, def uint64) uint64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		slog.Warn("invalid uint env var, using default", "key", key, "value", v)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid int env var, using default", "key", key, "value", v)
		return def
	}
	return n
}

func envFloat64(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", v)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid bool env var, using default", "key", key, "value", v)
		return def
	}
	return b
}
