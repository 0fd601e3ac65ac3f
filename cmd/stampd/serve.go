package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/stampd/stampd/internal/api"
	"github.com/stampd/stampd/internal/config"
	"github.com/stampd/stampd/internal/job"
	"github.com/stampd/stampd/internal/pool"
	"github.com/stampd/stampd/internal/render"
	"github.com/stampd/stampd/internal/template"
	"github.com/stampd/stampd/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts the HTTP API and the web studio",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	for _, dir := range []string{cfg.StoreDir, cfg.ImagesDir(), cfg.FontsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	store, err := template.NewSQLiteStore(cfg.TemplatesDB())
	if err != nil {
		return fmt.Errorf("open template store: %w", err)
	}
	defer store.Close()

	width := cfg.Workers
	if width <= 0 {
		width = pool.Width()
	}

	var factory pool.Factory
	switch cfg.Executor {
	case config.ExecutorThread:
		factory = pool.ThreadFactory(width, render.Exec)
	default:
		bin, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate own binary: %w", err)
		}
		factory = pool.ProcessFactory(width, bin, applyCmd.Use)
	}

	var hook *webhook.Sender
	if cfg.WebhookURL != "" {
		hook, err = webhook.NewSender(cfg.WebhookURL)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
	}

	registry := job.NewRegistry(time.Duration(cfg.JobTTLHours) * time.Hour)
	manager := job.NewManager(registry, factory, hook)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry.StartSweeper(ctx, 10*time.Minute)

	mux := http.NewServeMux()
	h := api.NewHandler(store, registry, manager, factory, cfg)
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging,
		api.Auth(cfg.APIKeys),
		api.RateLimit(cfg.RateRPS, cfg.RateBurst),
	)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Progress streams stay open for the whole run, so no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if flagOpen {
		go func() {
			time.Sleep(time.Second)
			if err := browser.OpenURL(studioURL(cfg.ListenAddr)); err != nil {
				slog.Warn("open studio", "error", err)
			}
		}()
	}

	slog.Info("stampd listening", "addr", cfg.ListenAddr, "executor", cfg.Executor, "workers", width)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// studioURL turns a listen address into one a browser can open.
func studioURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
