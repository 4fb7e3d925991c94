// Command issuefaker runs a minimal fake issue-tracker service: just
// enough of a vendor-shaped CRUD surface (repos, issues) plus the
// shared control plane, to demonstrate the core harness wired end to
// end against a concrete example.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/islo-labs/doubleagent-sub000/cmd/issuefaker/internal/issuesvc"
	"github.com/islo-labs/doubleagent-sub000/internal/controlplane"
	"github.com/islo-labs/doubleagent-sub000/internal/idempotency"
	"github.com/islo-labs/doubleagent-sub000/internal/idgen"
	"github.com/islo-labs/doubleagent-sub000/internal/state"
	"github.com/islo-labs/doubleagent-sub000/internal/vendorkit"
	"github.com/islo-labs/doubleagent-sub000/internal/webhook"
)

const maxRequestBody = 1 << 20 // 1 MiB

func main() {
	logger := setupLogger()
	logger.Info("issuefaker starting")

	addr := envOr("ISSUEFAKER_ADDR", ":8080")
	authSecret := []byte(envOr("ISSUEFAKER_AUTH_SECRET", "issuefaker-dev-secret-change-me-32b!"))

	router := state.NewRouter(state.EmptyBaseline())
	idemp := idempotency.New(0)
	webhooks := webhook.New(webhook.Config{}, idgen.Prefixed("whd", idgen.NanoID(8)))

	cp := controlplane.New(router, idemp, webhooks, logger)
	cp.ServiceName = "issuefaker"
	cp.Version = "dev"

	svc := issuesvc.New(router, webhooks, idemp, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(vendorkit.CORS())
	r.Use(vendorkit.MaxBody(maxRequestBody))
	r.Use(vendorkit.HeadToGet)
	r.Use(vendorkit.WithNamespace(""))
	r.Use(vendorkit.WithRequestID(""))

	// Control-plane routes bypass vendor auth entirely.
	cp.Mount(r)

	r.Group(func(vendor chi.Router) {
		if envOr("ISSUEFAKER_REQUIRE_AUTH", "false") == "true" {
			vendor.Use(vendorkit.RequireBearer(authSecret))
		}
		svc.Mount(vendor)
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server crashed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("ready, waiting for signals")
	<-sigChan
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := webhooks.Shutdown(ctx); err != nil {
		logger.Error("error draining webhook engine", "error", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}

	logger.Info("issuefaker stopped cleanly")
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
