// Package runtime assembles the full process: configuration, storage,
// application services and the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/xeriaco/sourcing_engine/internal/app"
	"github.com/xeriaco/sourcing_engine/internal/app/httpapi"
	"github.com/xeriaco/sourcing_engine/internal/app/storage/postgres"
	"github.com/xeriaco/sourcing_engine/internal/config"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// Application wires core dependencies and manages the process lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sql.DB
}

// NewApplication constructs a fully wired application from the environment.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Name:   "sourcing-engine",
	})

	var stores app.Stores
	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = openDatabase(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("configure database: %w", err)
		}
		pg := postgres.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare schema: %w", err)
		}
		stores = app.Stores{Runs: pg, Products: pg, Orders: pg, Analytics: pg}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	application, err := app.New(ctx, cfg, stores, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build application: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewHandler(application),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: httpServer,
		db:         db,
	}, nil
}

// Run starts the services and the HTTP server, then blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.HTTP.Addr).Info("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, the services and the database handle.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown failed")
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("service shutdown failed")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
