package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"crmsync/internal/logger"
	"crmsync/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresLedger keeps idempotency records in a single append-only table.
// ON CONFLICT DO NOTHING makes the first terminal state win under
// concurrent workers.
type PostgresLedger struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresLedger(db *sql.DB, log logger.Logger) *PostgresLedger {
	return &PostgresLedger{db: db, logger: log}
}

// Migrate applies the ledger schema.
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (l *PostgresLedger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM idempotency_records WHERE message_id = $1)`,
		messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed: %w", err)
	}
	return exists, nil
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, messageID string, status Status, errMsg string) error {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO idempotency_records (message_id, status, processed_at, error)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, string(status), time.Now().UTC(), nullable(errMsg),
	)
	if err != nil {
		return fmt.Errorf("ledger insert failed: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		metrics.LedgerDuplicateMarksTotal.Inc()
		l.logger.WarnwCtx(ctx, "Duplicate terminal state for message, keeping first record",
			"message_id", messageID,
			"status", status,
		)
	}

	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
