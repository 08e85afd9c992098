// Package config assembles the process-level Config struct from the
// environment, following the teacher's exclusively-os.Getenv convention —
// no config file format, no package-level mutable singleton.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full set of startup-time settings for the orchestrator
// process, passed down explicitly to every component that needs it.
type Config struct {
	ServiceName string
	HTTPAddr    string

	BoltPath string

	OrganizeExecCap        int
	OrganizeWaitCap        int
	OrganizeMaxConcurrency int

	MetadataTimeout time.Duration

	AIServiceURL string

	NATSURL string

	JSONLog  bool
	LogLevel string
}

// Load assembles a Config from the environment, defaulting every field the
// way the teacher's services default theirs.
func Load() Config {
	return Config{
		ServiceName: getString("PAPERPILOT_SERVICE_NAME", "paperpilot-orchestrator"),
		HTTPAddr:    getString("PAPERPILOT_HTTP_ADDR", ":8080"),

		BoltPath: getString("PAPERPILOT_BOLT_PATH", "./data/paperpilot.db"),

		OrganizeExecCap:        getInt("PAPERPILOT_ORGANIZE_EXEC_CAP", 100),
		OrganizeWaitCap:        getInt("PAPERPILOT_ORGANIZE_WAIT_CAP", 1000),
		OrganizeMaxConcurrency: getInt("PAPERPILOT_ORGANIZE_MAX_CONCURRENCY", 10),

		MetadataTimeout: getDuration("PAPERPILOT_METADATA_TIMEOUT", 5*time.Minute),

		AIServiceURL: getString("PAPERPILOT_AI_SERVICE_URL", ""),

		NATSURL: getString("PAPERPILOT_NATS_URL", ""),

		JSONLog:  getBool("PAPERPILOT_JSON_LOG", true),
		LogLevel: getString("PAPERPILOT_LOG_LEVEL", "info"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
