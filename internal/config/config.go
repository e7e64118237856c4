// Package config loads EdgeCore configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all EdgeCore configuration, loaded once at startup. The
// sync service keeps its own runtime-adjustable copy of SyncFlushCron
// rather than mutating this struct after Load.
type Config struct {
	// HTTP
	HTTPAddr string
	LogJSON  bool

	// Auth manager (spec section 6.5)
	JWTSecret       string
	JWTAlg          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Durable sync queue
	QueueDBPath      string // "" or ":memory:" selects the in-memory mode
	QueueMaxSize     int
	QueueMaxRetry    int
	QueueBatchSize   int
	SyncFlushCron    string
	CloudBaseURL     string
	CloudEdgeID      string
	SSLVerify        bool
	CacheDir         string
	CacheRetainCount int

	// Robot router
	RobotHeartbeatIntervalSec int
	RobotOfflineThresholdSec  int
	RobotSeedFile             string // optional YAML file of robots to pre-register

	// Command handler
	CommandDefaultTimeoutMS int

	// Bootstrap admin account, created once at startup if AdminUsername and
	// AdminPassword are set and no user with AdminUserID already exists.
	AdminUsername string
	AdminPassword string
	AdminUserID   string

	// Ambient observability
	AuditDBPath     string
	MetricsEnabled  bool
	MQTTBroker      string // empty disables the Shared State MQTT mirror
	AlertWebhookURL string // empty disables the error-event webhook notifier
}

// NewTestConfig returns a Config with sensible defaults for tests.
func NewTestConfig() *Config {
	return &Config{
		HTTPAddr:                  ":8080",
		JWTSecret:                 "test-secret",
		JWTAlg:                    "HS256",
		AccessTokenTTL:            15 * time.Minute,
		RefreshTokenTTL:           7 * 24 * time.Hour,
		QueueDBPath:               ":memory:",
		QueueMaxSize:              500,
		QueueMaxRetry:             3,
		QueueBatchSize:            20,
		SyncFlushCron:             "@every 30s",
		SSLVerify:                 true,
		CacheRetainCount:          10,
		RobotHeartbeatIntervalSec: 30,
		RobotOfflineThresholdSec:  120,
		CommandDefaultTimeoutMS:   10000,
		AuditDBPath:               ":memory:",
	}
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		HTTPAddr:                  envStr("EDGECORE_HTTP_ADDR", ":8080"),
		LogJSON:                   envBool("EDGECORE_LOG_JSON", true),
		JWTSecret:                 envStr("JWT_SECRET", ""),
		JWTAlg:                    envStr("JWT_ALG", "HS256"),
		AccessTokenTTL:            envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:           envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		QueueDBPath:               envStr("QUEUE_DB_PATH", ":memory:"),
		QueueMaxSize:              envInt("QUEUE_MAX_SIZE", 500),
		QueueMaxRetry:             envInt("QUEUE_MAX_RETRY", 3),
		QueueBatchSize:            envInt("QUEUE_BATCH_SIZE", 20),
		SyncFlushCron:             envStr("SYNC_FLUSH_SCHEDULE", "@every 30s"),
		CloudBaseURL:              envStr("CLOUD_BASE_URL", ""),
		CloudEdgeID:               envStr("CLOUD_EDGE_ID", "edge-1"),
		SSLVerify:                 envBool("SSL_VERIFY", true),
		CacheDir:                  envStr("EDGECORE_CACHE_DIR", defaultCacheDir()),
		CacheRetainCount:          envInt("CACHE_RETENTION_COUNT", 10),
		RobotHeartbeatIntervalSec: envInt("ROBOT_HEARTBEAT_INTERVAL_SEC", 30),
		RobotOfflineThresholdSec:  envInt("ROBOT_OFFLINE_THRESHOLD_SEC", 120),
		RobotSeedFile:             envStr("ROBOT_SEED_FILE", ""),
		CommandDefaultTimeoutMS:   envInt("COMMAND_DEFAULT_TIMEOUT_MS", 10000),
		AdminUsername:             envStr("EDGECORE_ADMIN_USERNAME", ""),
		AdminPassword:             envStr("EDGECORE_ADMIN_PASSWORD", ""),
		AdminUserID:               envStr("EDGECORE_ADMIN_USER_ID", "admin"),
		AuditDBPath:               envStr("EDGECORE_AUDIT_DB_PATH", "edgecore-audit.db"),
		MetricsEnabled:            envBool("EDGECORE_METRICS", false),
		MQTTBroker:                envStr("MQTT_BROKER", ""),
		AlertWebhookURL:           envStr("ALERT_WEBHOOK_URL", ""),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be set"))
	}
	if c.JWTAlg != "HS256" {
		errs = append(errs, fmt.Errorf("JWT_ALG: only HS256 is supported, got %q", c.JWTAlg))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL must be > 0, got %s", c.AccessTokenTTL))
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_TTL (%s) must be greater than ACCESS_TOKEN_TTL (%s)", c.RefreshTokenTTL, c.AccessTokenTTL))
	}
	if c.QueueMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_SIZE must be > 0, got %d", c.QueueMaxSize))
	}
	if c.QueueMaxRetry < 0 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_RETRY must be >= 0, got %d", c.QueueMaxRetry))
	}
	if c.QueueBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_BATCH_SIZE must be > 0, got %d", c.QueueBatchSize))
	}
	if c.RobotOfflineThresholdSec <= c.RobotHeartbeatIntervalSec {
		errs = append(errs, fmt.Errorf("ROBOT_OFFLINE_THRESHOLD_SEC (%d) must be greater than ROBOT_HEARTBEAT_INTERVAL_SEC (%d)", c.RobotOfflineThresholdSec, c.RobotHeartbeatIntervalSec))
	}
	if c.CommandDefaultTimeoutMS < 100 || c.CommandDefaultTimeoutMS > 600000 {
		errs = append(errs, fmt.Errorf("COMMAND_DEFAULT_TIMEOUT_MS must be in [100, 600000], got %d", c.CommandDefaultTimeoutMS))
	}
	return errors.Join(errs...)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
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

func envInt(key string, def int) int {
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

func envDuration(key string, def time.Duration) time.Duration {
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

// defaultCacheDir returns the platform cache directory for sync result
// summaries, falling back to a relative path if the platform default is
// unavailable (e.g. HOME unset in a minimal container).
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "./cache/edgecore"
	}
	return dir + "/edgecore"
}
