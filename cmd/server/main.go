package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/dedupe/internal/audit"
	"github.com/JonMunkholm/dedupe/internal/config"
	"github.com/JonMunkholm/dedupe/internal/logging"
	"github.com/JonMunkholm/dedupe/internal/notify"
	"github.com/JonMunkholm/dedupe/internal/service"
	"github.com/JonMunkholm/dedupe/internal/storage"
	"github.com/JonMunkholm/dedupe/internal/web"
)

func main() {
	// Overload lets a local .env win over the shell environment.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	store, err := openAudit(ctx, cfg)
	if err != nil {
		slog.Error("failed to open audit log", "driver", cfg.Audit.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	files, err := storage.NewFileStore(cfg.Storage.Dir, cfg.Storage.BaseURL)
	if err != nil {
		slog.Error("failed to open file store", "dir", cfg.Storage.Dir, "error", err)
		os.Exit(1)
	}

	svc := service.New(files, store, notify.LogNotifier{}, service.Config{
		MaxConcurrent: cfg.Job.MaxConcurrent,
		MaxWait:       cfg.Job.MaxWaitTime,
		Timeout:       cfg.Job.Timeout,
		ResultTTL:     cfg.Job.ResultTTL,
		MaxFileSize:   cfg.Job.MaxFileSize,
	})

	server := web.NewServer(svc, cfg)

	bgCtx, cancelBackground := context.WithCancel(ctx)
	go svc.StartRetentionScheduler(bgCtx, service.RetentionConfig{
		Retention:     cfg.Storage.Retention,
		CheckInterval: cfg.Storage.CheckInterval,
	})

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting work first, then let running jobs finish.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if st := svc.Limiter().Status(); st.Active > 0 {
			slog.Info("waiting for jobs to complete", "active", st.Active)
			if err := svc.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("jobs did not complete in time, cancelling", "error", err)
				svc.CancelAll()
			} else {
				slog.Info("all jobs completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-drained
	slog.Info("server stopped")
}

// openAudit returns the audit store selected by AUDIT_DRIVER.
func openAudit(ctx context.Context, cfg *config.Config) (audit.Store, error) {
	switch strings.ToLower(cfg.Audit.Driver) {
	case config.AuditNone:
		return audit.Nop{}, nil

	case config.AuditSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		slog.Info("using sqlite audit log", "path", cfg.Audit.SQLitePath)
		return audit.NewSQLiteStore(cfg.Audit.SQLitePath)

	case config.AuditPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
		poolConfig.MinConns = int32(cfg.Database.MinConns)
		poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		}

		store, err := audit.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return closeWith{Store: store, close: pool.Close}, nil
	}
	return nil, fmt.Errorf("unknown audit driver %q", cfg.Audit.Driver)
}

// closeWith closes the pool behind a postgres store.
type closeWith struct {
	audit.Store
	close func()
}

func (c closeWith) Close() error {
	err := c.Store.Close()
	c.close()
	return err
}
