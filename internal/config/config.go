package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the coachlink daemon.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	AllowAnyOrigin bool

	BackendURL        string
	ConnectTimeout    time.Duration
	MaxReconnects     int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	SendCooldown        time.Duration
	LockRelease         time.Duration
	FingerprintCapacity int
	QueueCapacity       int

	SampleRate int

	HistoryDriver string
	DatabaseURL   string
	DataDir       string
	RedactPII     bool

	CaptureMode   string
	CaptureScript string

	UserID string

	EmbeddedSim   bool
	SimGeneration int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("COACHLINK_BIND_ADDR", ":8090"),
		MetricsNamespace: envOrDefault("COACHLINK_METRICS_NAMESPACE", "coachlink"),
		ShutdownTimeout:  15 * time.Second,
		AllowAnyOrigin:   false,
		// The coach backend's conventional local port.
		BackendURL:          envOrDefault("COACHLINK_BACKEND_URL", "ws://127.0.0.1:8080"),
		ConnectTimeout:      6 * time.Second,
		MaxReconnects:       3,
		BackoffBase:         500 * time.Millisecond,
		BackoffCap:          4 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		HeartbeatTimeout:    10 * time.Second,
		SendCooldown:        2500 * time.Millisecond,
		LockRelease:         10 * time.Second,
		FingerprintCapacity: 10,
		QueueCapacity:       32,
		SampleRate:          16000,
		HistoryDriver:       strings.ToLower(envOrDefault("COACHLINK_HISTORY_DRIVER", "memory")),
		DatabaseURL:         stringsTrimSpace("COACHLINK_DATABASE_URL"),
		DataDir:             envOrDefault("COACHLINK_DATA_DIR", ".data/coachlink"),
		RedactPII:           true,
		CaptureMode:         strings.ToLower(envOrDefault("COACHLINK_CAPTURE_MODE", "off")),
		CaptureScript:       stringsTrimSpace("COACHLINK_CAPTURE_SCRIPT"),
		UserID:              envOrDefault("COACHLINK_USER_ID", "local"),
		EmbeddedSim:         false,
		SimGeneration:       2,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("COACHLINK_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("COACHLINK_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackoffBase, err = durationFromEnv("COACHLINK_BACKOFF_BASE", cfg.BackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.BackoffCap, err = durationFromEnv("COACHLINK_BACKOFF_CAP", cfg.BackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("COACHLINK_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatTimeout, err = durationFromEnv("COACHLINK_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SendCooldown, err = durationFromEnv("COACHLINK_SEND_COOLDOWN", cfg.SendCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.LockRelease, err = durationFromEnv("COACHLINK_LOCK_RELEASE", cfg.LockRelease)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxReconnects, err = intFromEnv("COACHLINK_MAX_RECONNECTS", cfg.MaxReconnects)
	if err != nil {
		return Config{}, err
	}
	cfg.FingerprintCapacity, err = intFromEnv("COACHLINK_FINGERPRINT_CAPACITY", cfg.FingerprintCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueCapacity, err = intFromEnv("COACHLINK_QUEUE_CAPACITY", cfg.QueueCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("COACHLINK_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.SimGeneration, err = intFromEnv("COACHLINK_SIM_GENERATION", cfg.SimGeneration)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("COACHLINK_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("COACHLINK_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddedSim, err = boolFromEnv("COACHLINK_EMBEDDED_SIM", cfg.EmbeddedSim)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectTimeout < time.Second {
		return Config{}, fmt.Errorf("COACHLINK_CONNECT_TIMEOUT must be at least 1s")
	}
	if cfg.MaxReconnects < 1 || cfg.MaxReconnects > 10 {
		return Config{}, fmt.Errorf("COACHLINK_MAX_RECONNECTS must be between 1 and 10")
	}
	if cfg.BackoffBase <= 0 {
		return Config{}, fmt.Errorf("COACHLINK_BACKOFF_BASE must be positive")
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		return Config{}, fmt.Errorf("COACHLINK_BACKOFF_CAP must be at least the base")
	}
	if cfg.HeartbeatInterval < time.Second {
		return Config{}, fmt.Errorf("COACHLINK_HEARTBEAT_INTERVAL must be at least 1s")
	}
	if cfg.HeartbeatTimeout <= 0 || cfg.HeartbeatTimeout >= cfg.HeartbeatInterval {
		return Config{}, fmt.Errorf("COACHLINK_HEARTBEAT_TIMEOUT must be positive and shorter than the interval")
	}
	if cfg.SendCooldown < 0 {
		return Config{}, fmt.Errorf("COACHLINK_SEND_COOLDOWN must not be negative")
	}
	if cfg.LockRelease <= 0 {
		return Config{}, fmt.Errorf("COACHLINK_LOCK_RELEASE must be positive")
	}
	if cfg.FingerprintCapacity <= 0 {
		return Config{}, fmt.Errorf("COACHLINK_FINGERPRINT_CAPACITY must be positive")
	}
	if cfg.QueueCapacity <= 0 {
		return Config{}, fmt.Errorf("COACHLINK_QUEUE_CAPACITY must be positive")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("COACHLINK_SAMPLE_RATE must be positive")
	}
	if cfg.SimGeneration < 1 || cfg.SimGeneration > 2 {
		return Config{}, fmt.Errorf("COACHLINK_SIM_GENERATION must be 1 or 2")
	}

	switch cfg.HistoryDriver {
	case "memory", "badger", "postgres":
	default:
		return Config{}, fmt.Errorf("COACHLINK_HISTORY_DRIVER must be memory, badger or postgres")
	}
	if cfg.HistoryDriver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("COACHLINK_DATABASE_URL is required for the postgres history driver")
	}

	switch cfg.CaptureMode {
	case "off", "scripted":
	default:
		return Config{}, fmt.Errorf("COACHLINK_CAPTURE_MODE must be off or scripted")
	}
	if cfg.CaptureMode == "scripted" && cfg.CaptureScript == "" {
		return Config{}, fmt.Errorf("COACHLINK_CAPTURE_SCRIPT is required for scripted capture")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
