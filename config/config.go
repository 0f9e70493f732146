// Package config loads process configuration from the environment. It
// follows the plain env-var-with-default style used across the engine's
// command entrypoints rather than a configuration framework: the settings
// here are few, flat, and rarely change shape.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the settings shared by the orchestrator and agent-runtime
// processes.
type Config struct {
	// SubstrateURL is the Redis connection string backing the Pulse message
	// substrate (task channels, results channel, stream mirrors).
	SubstrateURL string
	// SubstratePassword is the optional Redis AUTH password.
	SubstratePassword string
	// SubstrateNamespace prefixes every channel/stream/consumer-group name,
	// allowing multiple environments to share a Redis instance.
	SubstrateNamespace string
	// PersistenceURL is the Postgres DSN for the workflow/task/definition store.
	PersistenceURL string
	// OTELExporterEndpoint is loaded from OTEL_EXPORTER_OTLP_ENDPOINT. No
	// process in this repository reads it or configures an OTLP exporter.
	OTELExporterEndpoint string
	// PingInterval is the agent registry heartbeat ping interval.
	PingInterval time.Duration
	// MissedPingThreshold is how many missed pings mark an agent offline.
	MissedPingThreshold int
	// ReaperInterval is how often the timeout and pending-task reapers scan.
	ReaperInterval time.Duration
	// HTTPAddr is the address the definition/surface/workflow ingress API
	// listens on.
	HTTPAddr string
}

// FromEnv loads Config from the process environment, applying the documented
// defaults for anything unset.
func FromEnv() Config {
	return Config{
		SubstrateURL:         envOr("SUBSTRATE_URL", "localhost:6379"),
		SubstratePassword:    os.Getenv("SUBSTRATE_PASSWORD"),
		SubstrateNamespace:   envOr("SUBSTRATE_NAMESPACE", "orchestrator"),
		PersistenceURL:       envOr("PERSISTENCE_URL", "postgres://localhost:5432/orchestrator?sslmode=disable"),
		OTELExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PingInterval:         envDurationOr("PING_INTERVAL", 10*time.Second),
		MissedPingThreshold:  envIntOr("MISSED_PING_THRESHOLD", 3),
		ReaperInterval:       envDurationOr("REAPER_INTERVAL", 15*time.Second),
		HTTPAddr:             envOr("HTTP_ADDR", ":8090"),
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
