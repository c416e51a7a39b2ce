package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
)

// Runtime owns the DBOS context, the pipeline queue and a direct connection
// to the system database
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       dbos.WorkflowQueue
	config      Config
	db          *sql.DB
}

// NewRuntime creates a DBOS runtime. Workflows must be registered on
// Context() before Launch is called.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}
	cfg.WithDefaults()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DBOS context: %w", err)
	}

	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName, dbos.WithWorkerConcurrency(cfg.Concurrency))

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open system database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach system database: %w", err)
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       queue,
		config:      cfg,
		db:          db,
	}, nil
}

// Launch starts the DBOS runtime and its queue workers
func (r *Runtime) Launch() error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return fmt.Errorf("failed to launch DBOS: %w", err)
	}
	log.Printf("✓ DBOS launched (app=%s, queue=%s)", r.config.AppName, r.config.QueueName)
	return nil
}

// Shutdown waits up to timeout for running workflows, then closes the
// system database connection. A zero timeout uses the configured default.
func (r *Runtime) Shutdown(timeout time.Duration) {
	if timeout == 0 {
		timeout = r.config.ShutdownTimeout
	}
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db != nil {
		r.db.Close()
	}
}

// Context returns the DBOS context
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// QueueName returns the configured queue name
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// Concurrency returns the configured concurrency
func (r *Runtime) Concurrency() int {
	return r.config.Concurrency
}

// DB returns the connection to the DBOS system database, shared with the
// dedupe ledger and the postgres record store
func (r *Runtime) DB() *sql.DB {
	return r.db
}
