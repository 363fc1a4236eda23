// Package main provides the wolfpackd binary: the Wolfpack messaging and
// notification service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bitethatthing2/no-creyeron-sub000/api"
	"github.com/bitethatthing2/no-creyeron-sub000/config"
	"github.com/bitethatthing2/no-creyeron-sub000/core"
	"github.com/bitethatthing2/no-creyeron-sub000/media"
	"github.com/bitethatthing2/no-creyeron-sub000/memory"
	"github.com/bitethatthing2/no-creyeron-sub000/postgres"
	"github.com/bitethatthing2/no-creyeron-sub000/push"
	"github.com/bitethatthing2/no-creyeron-sub000/redis"
	"github.com/bitethatthing2/no-creyeron-sub000/validator"
)

const appName = "wolfpackd"

func main() {
	_ = godotenv.Load(".env")

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Wolfpack messaging and notification service",
		Long: `wolfpackd serves the Wolfpack conversations, messages, likes,
follows and notifications over HTTP, with realtime updates over websockets.

Configuration is read from an optional YAML file and WOLFPACK_* environment
variables (a .env file in the working directory is loaded first).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), configPath)
		},
	})

	return cmd
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log, os.Stderr)

	pg, err := postgres.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("Schema is up to date")
	return nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := core.Backend{
		Logger:    logger,
		Validator: validator.New(),
		TypingTTL: cfg.Realtime.TypingTTL,
	}

	switch cfg.Store.Backend {
	case "postgres":
		pg, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if cfg.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		b.DB = pg
		logger.Info("Using Postgres store")
	default:
		b.DB = memory.New()
		logger.Warn("Using in-memory store, data is lost on exit")
	}

	if cfg.Redis.Addr != "" {
		rd, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.CacheTTL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rd.Close()
		b.Cache, b.PubSub = rd, rd
		logger.Info("Using Redis cache and realtime", "addr", cfg.Redis.Addr)
	} else {
		b.PubSub = memory.NewPubSub()
	}

	if cfg.NATS.URL != "" {
		p, err := push.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer p.Close()
		b.Push = p
		logger.Info("Push delivery enabled", "url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	a := &api.API{
		Logger:  logger,
		Backend: b,
		Val:     b.Validator,
	}
	if cfg.Media.Dir != "" {
		disk, err := media.NewDisk(cfg.Media.Dir, cfg.Media.BaseURL)
		if err != nil {
			return err
		}
		a.Backend.Uploader = disk
		a.Media = disk.Handler()
	}
	defer a.Close()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: a}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
