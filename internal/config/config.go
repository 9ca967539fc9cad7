// Package config loads schedulerd's configuration from environment
// variables, following the teacher's string-then-parsed-duration pattern
// so defaults apply before parsing and validation is a separate pass.
package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the scheduler daemon. Values are
// loaded from environment variables; see Load for the full list and
// defaults.
type Config struct {
	SchedulerName string `json:"scheduler_name"`
	InstanceID    string `json:"instance_id"`

	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// JobStoreKind selects the Registry backing store: "ram" (in-memory,
	// single process) or "postgres" (durable, multi-instance).
	JobStoreKind string `json:"job_store_kind"`

	IdleWaitTime    time.Duration `json:"-"`
	IdleWaitTimeStr string        `json:"idle_wait_time"`

	AcquireBatchSize int `json:"acquire_batch_size"`

	MisfireThreshold    time.Duration `json:"-"`
	MisfireThresholdStr string        `json:"misfire_threshold"`

	MisfireScanInterval    time.Duration `json:"-"`
	MisfireScanIntervalStr string        `json:"misfire_scan_interval"`

	WorkerPoolSize int `json:"worker_pool_size"`

	ShutdownDrainTimeout    time.Duration `json:"-"`
	ShutdownDrainTimeoutStr string        `json:"shutdown_drain_timeout"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// CircuitBreakerThreshold: 0 disables the job circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string       `json:"circuit_breaker_cooldown"`

	AnalyticsEnabled bool `json:"analytics_enabled"`

	// RecoveryLockKey: every instance sharing the same database must use
	// the same key for the startup-recovery advisory lock.
	RecoveryLockKey int64 `json:"recovery_lock_key"`

	// StaleAcquisitionThreshold bounds how long a trigger may sit
	// acquired-but-not-fired before startup recovery releases it.
	StaleAcquisitionThreshold    time.Duration `json:"-"`
	StaleAcquisitionThresholdStr string        `json:"stale_acquisition_threshold"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		SchedulerName:                os.Getenv("SCHEDULER_NAME"),
		InstanceID:                   os.Getenv("INSTANCE_ID"),
		DatabaseURL:                  os.Getenv("DATABASE_URL"),
		RedisAddr:                    os.Getenv("REDIS_ADDR"),
		HTTPAddr:                     os.Getenv("HTTP_ADDR"),
		JobStoreKind:                 os.Getenv("JOB_STORE_KIND"),
		IdleWaitTimeStr:              os.Getenv("IDLE_WAIT_TIME"),
		MisfireThresholdStr:          os.Getenv("MISFIRE_THRESHOLD"),
		MisfireScanIntervalStr:       os.Getenv("MISFIRE_SCAN_INTERVAL"),
		ShutdownDrainTimeoutStr:      os.Getenv("SHUTDOWN_DRAIN_TIMEOUT"),
		DBOpTimeoutStr:               os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:         os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:       os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:               os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                  os.Getenv("METRICS_PATH"),
		AnalyticsEnabled:             os.Getenv("ANALYTICS_ENABLED") == "true",
		CircuitBreakerCooldownStr:    os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		StaleAcquisitionThresholdStr: os.Getenv("STALE_ACQUISITION_THRESHOLD"),
	}

	if cfg.SchedulerName == "" {
		cfg.SchedulerName = "quartzcore"
	}
	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "instance-1"
		}
		cfg.InstanceID = host
	}
	if cfg.JobStoreKind == "" {
		cfg.JobStoreKind = "ram"
	}

	if batchStr := os.Getenv("ACQUIRE_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.AcquireBatchSize = n
		} else {
			log.Printf("config: invalid ACQUIRE_BATCH_SIZE %q, using default 10", batchStr)
		}
	}
	if cfg.AcquireBatchSize == 0 {
		cfg.AcquireBatchSize = 10
	}

	if workersStr := os.Getenv("WORKER_POOL_SIZE"); workersStr != "" {
		if n, err := parseInt(workersStr); err == nil && n > 0 {
			cfg.WorkerPoolSize = n
		} else {
			log.Printf("config: invalid WORKER_POOL_SIZE %q, using default 10", workersStr)
		}
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 10
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
			cfg.CircuitBreakerThreshold = 5
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("RECOVERY_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.RecoveryLockKey = int64(n)
		} else {
			log.Printf("config: invalid RECOVERY_LOCK_KEY %q, using default 728379", lockKeyStr)
		}
	}
	if cfg.RecoveryLockKey == 0 {
		cfg.RecoveryLockKey = 728379
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.IdleWaitTimeStr == "" {
		cfg.IdleWaitTimeStr = "30s"
	}
	if cfg.MisfireThresholdStr == "" {
		cfg.MisfireThresholdStr = "60s"
	}
	if cfg.MisfireScanIntervalStr == "" {
		cfg.MisfireScanIntervalStr = "60s"
	}
	if cfg.ShutdownDrainTimeoutStr == "" {
		cfg.ShutdownDrainTimeoutStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.StaleAcquisitionThresholdStr == "" {
		cfg.StaleAcquisitionThresholdStr = "5m"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.IdleWaitTimeStr); err == nil {
		cfg.IdleWaitTime = d
	}
	if d, err := time.ParseDuration(cfg.MisfireThresholdStr); err == nil {
		cfg.MisfireThreshold = d
	}
	if d, err := time.ParseDuration(cfg.MisfireScanIntervalStr); err == nil {
		cfg.MisfireScanInterval = d
	}
	if d, err := time.ParseDuration(cfg.ShutdownDrainTimeoutStr); err == nil {
		cfg.ShutdownDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.StaleAcquisitionThresholdStr); err == nil {
		cfg.StaleAcquisitionThreshold = d
	}

	return cfg
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		SchedulerName             string `json:"scheduler_name"`
		InstanceID                string `json:"instance_id"`
		DatabaseURL               string `json:"database_url"`
		RedisAddr                 string `json:"redis_addr,omitempty"`
		HTTPAddr                  string `json:"http_addr"`
		JobStoreKind              string `json:"job_store_kind"`
		IdleWaitTime              string `json:"idle_wait_time"`
		AcquireBatchSize          int    `json:"acquire_batch_size"`
		MisfireThreshold          string `json:"misfire_threshold"`
		MisfireScanInterval       string `json:"misfire_scan_interval"`
		WorkerPoolSize            int    `json:"worker_pool_size"`
		ShutdownDrainTimeout      string `json:"shutdown_drain_timeout"`
		DBOpTimeout               string `json:"db_op_timeout"`
		DBMaxOpenConns            int    `json:"db_max_open_conns"`
		DBMaxIdleConns            int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime         string `json:"db_conn_max_lifetime"`
		HTTPShutdownTimeout       string `json:"http_shutdown_timeout"`
		MetricsEnabled            bool   `json:"metrics_enabled"`
		MetricsPath               string `json:"metrics_path"`
		CircuitBreakerThreshold   int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown    string `json:"circuit_breaker_cooldown"`
		AnalyticsEnabled          bool   `json:"analytics_enabled"`
		RecoveryLockKey           int64  `json:"recovery_lock_key"`
		StaleAcquisitionThreshold string `json:"stale_acquisition_threshold"`
	}{
		SchedulerName:             c.SchedulerName,
		InstanceID:                c.InstanceID,
		DatabaseURL:               maskSecret(c.DatabaseURL),
		RedisAddr:                 c.RedisAddr,
		HTTPAddr:                  c.HTTPAddr,
		JobStoreKind:              c.JobStoreKind,
		IdleWaitTime:              c.IdleWaitTimeStr,
		AcquireBatchSize:          c.AcquireBatchSize,
		MisfireThreshold:          c.MisfireThresholdStr,
		MisfireScanInterval:       c.MisfireScanIntervalStr,
		WorkerPoolSize:            c.WorkerPoolSize,
		ShutdownDrainTimeout:      c.ShutdownDrainTimeoutStr,
		DBOpTimeout:               c.DBOpTimeoutStr,
		DBMaxOpenConns:            c.DBMaxOpenConns,
		DBMaxIdleConns:            c.DBMaxIdleConns,
		DBConnMaxLifetime:         c.DBConnMaxLifetimeStr,
		HTTPShutdownTimeout:       c.HTTPShutdownTimeoutStr,
		MetricsEnabled:            c.MetricsEnabled,
		MetricsPath:               c.MetricsPath,
		CircuitBreakerThreshold:   c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:    c.CircuitBreakerCooldownStr,
		AnalyticsEnabled:          c.AnalyticsEnabled,
		RecoveryLockKey:           c.RecoveryLockKey,
		StaleAcquisitionThreshold: c.StaleAcquisitionThresholdStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only a postgres:// or
// postgresql:// scheme prefix if present; any other value is fully masked.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
