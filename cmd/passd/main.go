package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/clubdesk/internal/config"
	"github.com/dukerupert/clubdesk/internal/database"
	"github.com/dukerupert/clubdesk/internal/email"
	"github.com/dukerupert/clubdesk/internal/logging"
	"github.com/dukerupert/clubdesk/internal/server"
	"github.com/dukerupert/clubdesk/internal/store"
)

const cleanupInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "passd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts := server.Options{Location: cfg.Location}
	if cfg.PostmarkToken != "" {
		opts.Mailer = email.NewClient(cfg.PostmarkToken, cfg.MailFrom)
	} else {
		logger.Info("PASSD_POSTMARK_TOKEN not set; sale receipts disabled")
	}
	srv := server.New(db, opts, logger)
	defer srv.Close()

	if err := bootstrapStaff(srv.StaffStore(), cfg, logger); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("passd listening", "addr", httpServer.Addr, "db", cfg.DBPath, "timezone", cfg.Location.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		cleanupLoop(ctx, srv, logger)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// bootstrapStaff creates the first staff account on an empty database.
func bootstrapStaff(staff *store.StaffStore, cfg config.Server, logger *slog.Logger) error {
	n, err := staff.Count()
	if err != nil {
		return fmt.Errorf("count staff: %w", err)
	}
	if n > 0 {
		return nil
	}
	if cfg.BootstrapStaff == "" {
		logger.Warn("no staff accounts exist; set PASSD_BOOTSTRAP_STAFF and PASSD_BOOTSTRAP_PIN to create one")
		return nil
	}
	s, err := staff.Create(cfg.BootstrapStaff, cfg.BootstrapPIN)
	if err != nil {
		return fmt.Errorf("bootstrap staff: %w", err)
	}
	logger.Info("created bootstrap staff", "staff_id", s.ID, "name", s.Name)
	return nil
}

func cleanupLoop(ctx context.Context, srv *server.Server, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := srv.SessionStore().DeleteExpired()
			if err != nil {
				logger.Error("delete expired sessions", "error", err)
			} else if n > 0 {
				logger.Debug("deleted expired sessions", "count", n)
			}
			srv.RateLimiter().Cleanup()
		}
	}
}
