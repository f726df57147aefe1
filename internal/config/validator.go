package config

import (
	"fmt"
	"net/url"

	"crmsync/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateLedger(cfg.Ledger); err != nil {
		errs = append(errs, err)
	}

	if err := validateStore(cfg.Store); err != nil {
		errs = append(errs, err)
	}

	if err := validateReconciler(cfg.Reconciler); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type %q", cfg.Type),
		}
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}
	if cfg.Kafka.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "consumer group ID is required",
		}
	}
	return nil
}

func validateLedger(cfg LedgerConfig) error {
	switch cfg.Backend {
	case constants.LedgerBackendRedis:
		if cfg.Redis.Host == "" {
			return &ValidationError{
				Field:   "ledger.redis.host",
				Message: "redis host is required for the redis ledger backend",
			}
		}
	case constants.LedgerBackendPostgres:
		if cfg.Postgres.Host == "" {
			return &ValidationError{
				Field:   "ledger.postgres.host",
				Message: "postgres host is required for the postgres ledger backend",
			}
		}
	default:
		return &ValidationError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("backend must be %q or %q, got %q", constants.LedgerBackendRedis, constants.LedgerBackendPostgres, cfg.Backend),
		}
	}
	return nil
}

func validateStore(cfg StoreConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "store.base_url",
			Message: "record store base URL is required",
		}
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return &ValidationError{
			Field:   "store.base_url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		}
	}
	if cfg.APIVersion == "" {
		return &ValidationError{
			Field:   "store.api_version",
			Message: "record store API version is required",
		}
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return &ValidationError{
			Field:   "store.rate_limit.rps",
			Message: "rps must be positive when rate limiting is enabled",
		}
	}
	return nil
}

func validateReconciler(cfg ReconcilerConfig) error {
	if cfg.MaxRetries < 1 {
		return &ValidationError{
			Field:   "reconciler.max_retries",
			Message: fmt.Sprintf("max retries must be at least 1, got %d", cfg.MaxRetries),
		}
	}
	return nil
}
