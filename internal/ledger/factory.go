package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crmsync/internal/config"
	"crmsync/internal/constants"
	"crmsync/internal/logger"
)

// New builds the configured ledger backend. Exactly one of redisClient/db
// must be non-nil, matching cfg.Backend.
func New(cfg config.LedgerConfig, redisClient *redis.Client, db *sql.DB, log logger.Logger) (Ledger, error) {
	switch cfg.Backend {
	case constants.LedgerBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis ledger backend requires a redis client")
		}
		ttl := time.Duration(cfg.TTLSeconds) * time.Second
		return NewRedisLedger(redisClient, ttl, log), nil
	case constants.LedgerBackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres ledger backend requires a database connection")
		}
		return NewPostgresLedger(db, log), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Backend)
	}
}
