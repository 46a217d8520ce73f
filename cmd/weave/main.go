// Command weave is the audit subscriber: it ingests Orca CloudEvents,
// anchors each one in an append-only receipt log, and optionally fans
// receipts back out as ocn.weave.audit.v1 events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocn-ai/orca/pkg/events"
	"github.com/ocn-ai/orca/pkg/weave"
)

func main() {
	os.Exit(Run(os.Args, os.Stderr))
}

// Run starts the subscriber; exit codes are 0 success, 1 failure, 2
// usage.
func Run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("weave", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":8081", "listen address")
	dbPath := fs.String("db", "", "SQLite receipt log path (empty keeps receipts in memory)")
	auditURL := fs.String("audit-url", os.Getenv("WEAVE_AUDIT_URL"), "downstream subscriber for audit events")
	rateLimit := fs.Float64("rate-limit", 0, "ingest requests per second (0 uses the default)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	slog.SetDefault(logger)

	var store weave.ReceiptStore
	if *dbPath != "" {
		s, err := weave.OpenSQLite(*dbPath)
		if err != nil {
			logger.Error("receipt log open failed", "path", *dbPath, "error", err)
			return 1
		}
		store = s
		logger.Info("using SQLite receipt log", "path", *dbPath)
	} else {
		store = weave.NewMemoryStore()
		logger.Warn("using in-memory receipt log, receipts are lost on restart")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("receipt log close failed", "error", err)
		}
	}()

	var auditEmitter *events.Emitter
	if *auditURL != "" {
		auditEmitter = events.New(events.Config{
			SubscriberURL: *auditURL,
			SourceURI:     "https://weave.ocn.ai/audit-subscriber",
			Logger:        logger.With("component", "audit-emitter"),
		})
	}

	server := weave.NewServer(weave.ServerConfig{
		Store:        store,
		AuditEmitter: auditEmitter,
		RateLimit:    *rateLimit,
		Logger:       logger.With("component", "weave"),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("audit subscriber listening", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "weave: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
		server.Drain()
	}
	return 0
}
