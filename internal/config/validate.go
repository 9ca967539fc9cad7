package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors. Returns nil if valid, or
// ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.JobStoreKind != "ram" && cfg.JobStoreKind != "postgres" {
		errs = append(errs, ValidationError{
			Field:   "JOB_STORE_KIND",
			Message: fmt.Sprintf("must be 'ram' or 'postgres', got %q", cfg.JobStoreKind),
		})
	}

	if cfg.JobStoreKind == "postgres" && cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required when JOB_STORE_KIND=postgres",
		})
	}

	if cfg.IdleWaitTimeStr != "" {
		if d, err := time.ParseDuration(cfg.IdleWaitTimeStr); err != nil {
			errs = append(errs, ValidationError{Field: "IDLE_WAIT_TIME", Message: fmt.Sprintf("invalid duration: %v", err)})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: "IDLE_WAIT_TIME", Message: "must be positive"})
		}
	}

	if cfg.MisfireThresholdStr != "" {
		if d, err := time.ParseDuration(cfg.MisfireThresholdStr); err != nil {
			errs = append(errs, ValidationError{Field: "MISFIRE_THRESHOLD", Message: fmt.Sprintf("invalid duration: %v", err)})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: "MISFIRE_THRESHOLD", Message: "must be positive"})
		}
	}

	if cfg.AcquireBatchSize <= 0 {
		errs = append(errs, ValidationError{Field: "ACQUIRE_BATCH_SIZE", Message: "must be positive"})
	}
	if cfg.WorkerPoolSize <= 0 {
		errs = append(errs, ValidationError{Field: "WORKER_POOL_SIZE", Message: "must be positive"})
	}
	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{Field: "CIRCUIT_BREAKER_THRESHOLD", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
