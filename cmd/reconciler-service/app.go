package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"crmsync/internal/config"
	"crmsync/internal/constants"
	"crmsync/internal/ledger"
	"crmsync/internal/logger"
	"crmsync/internal/reconciler"
	"crmsync/internal/store"
	"crmsync/pkg/bootstrap"
	"crmsync/pkg/health"
	"crmsync/pkg/logging"
	"crmsync/pkg/metrics"
)

const serviceName = "reconciler-service"

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redis       *redis.Client
	postgres    *sql.DB
	processor   *reconciler.Processor
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initLedgerBackend(ctx); err != nil {
		return fmt.Errorf("failed to initialize ledger backend: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initProcessor(); err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	metrics.RegisterReconcilerMetrics()
	metrics.RegisterStoreMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

// initLedgerBackend opens the connection the configured ledger backend
// needs. Only one of redis/postgres is opened per deployment.
func (a *App) initLedgerBackend(ctx context.Context) error {
	switch a.Config.Ledger.Backend {
	case constants.LedgerBackendRedis:
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redis = rdb
	case constants.LedgerBackendPostgres:
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return err
		}
		a.postgres = db
		if a.Config.Ledger.Postgres.RunMigrations {
			if err := ledger.Migrate(db); err != nil {
				return fmt.Errorf("ledger migrations failed: %w", err)
			}
			initCtx := logging.WithServiceName(ctx, serviceName)
			a.Logger.InfowCtx(initCtx, "Ledger migrations applied")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %s", a.Config.Ledger.Backend)
	}
	return nil
}

func (a *App) initProcessor() error {
	initCtx := logging.WithServiceName(context.Background(), serviceName)

	baseLedger, err := ledger.New(a.Config.Ledger, a.redis, a.postgres, a.Logger)
	if err != nil {
		return err
	}

	var lg ledger.Ledger = baseLedger
	if a.Config.CircuitBreaker.Enabled {
		lg = ledger.NewCircuitBreakerLedger(baseLedger, a.Config.CircuitBreaker)
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for idempotency ledger")
	}

	creds := a.buildCredentialProvider()

	var recordStore store.RecordStore = store.NewHTTPClient(a.Config.Store, creds, a.Logger)
	if a.Config.CircuitBreaker.Enabled {
		recordStore = store.NewCircuitBreakerStore(recordStore, a.Config.CircuitBreaker)
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for record store client")
	}

	synchronizer := store.NewSynchronizer(recordStore, a.Logger)

	dlqTopic := a.Config.Broker.Kafka.DLQTopic
	if dlqTopic == "" {
		dlqTopic = constants.DefaultDLQTopic
	}
	dlq := reconciler.NewDeadLetterRouter(a.Producer, dlqTopic, a.Logger)

	workTopic := a.Config.Broker.Kafka.WorkTopic
	if workTopic == "" {
		workTopic = constants.DefaultWorkTopic
	}
	maxRetries := a.Config.Reconciler.MaxRetries
	if maxRetries < 1 {
		maxRetries = constants.DefaultMaxRetries
	}

	a.processor = reconciler.NewProcessor(
		reconciler.Config{
			WorkTopic:  workTopic,
			MaxRetries: maxRetries,
		},
		lg,
		synchronizer,
		a.Producer,
		dlq,
		a.Logger,
	)
	return nil
}

func (a *App) buildCredentialProvider() store.CredentialProvider {
	if a.Config.Credentials.StaticToken != "" {
		return store.NewStaticProvider(a.Config.Credentials.StaticToken)
	}

	margin := constants.DefaultTokenMargin
	if a.Config.Credentials.MarginSeconds > 0 {
		margin = time.Duration(a.Config.Credentials.MarginSeconds) * time.Second
	}

	fetch := store.ClientCredentialsFetch(
		a.Config.Credentials.TokenURL,
		a.Config.Credentials.ClientID,
		a.Config.Credentials.ClientSecret,
		&http.Client{Timeout: constants.DefaultStoreTimeout},
	)
	return store.NewCachedProvider(fetch, margin)
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	if a.postgres != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.postgres))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	workTopic := a.Config.Broker.Kafka.WorkTopic
	if workTopic == "" {
		workTopic = constants.DefaultWorkTopic
	}

	g.Go(func() error {
		consumeCtx := logging.WithServiceName(gCtx, serviceName)
		a.Logger.InfowCtx(consumeCtx, "Starting reconciliation consumer", "topic", workTopic)
		return a.Consumer.Consume(gCtx, workTopic, a.processor.Handle)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down reconciler service")

	timeoutCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(timeoutCtx); err != nil {
			a.Logger.ErrorwCtx(shutdownCtx, "HTTP server shutdown error", "error", err)
		}
	}

	return a.Base.Shutdown(timeoutCtx, func(sCtx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(a.redis, a.postgres)
	})
}
