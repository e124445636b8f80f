package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"claude-openai-bridge/core"
	"claude-openai-bridge/endpoints"
)

var version = "dev"

func main() {
	// Context cancellation is the shutdown signal for everything downstream.
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,    // SIGINT: Ctrl+C
		syscall.SIGTERM, // SIGTERM: Docker/k8s termination
	)
	defer stop()

	if err := run(ctx, os.Args); err != nil {
		slog.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:    "claude-openai-bridge",
		Usage:   "Claude Messages API front end for OpenAI-compatible backends",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "path to a .env file with configuration overrides",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "bind host (overrides HOST)",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "listen port (overrides PORT)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error; overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json; overrides LOG_FORMAT)",
			},
		},
		Action: serveAction,
	}

	return cmd.Run(ctx, args)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env-file")
	if err := godotenv.Load(envFile); err != nil {
		// A missing default .env is fine; an explicitly named one is not.
		if cmd.IsSet("env-file") || !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		return err
	}
	if host := cmd.String("host"); host != "" {
		cfg.Host = host
	}
	if port := cmd.String("port"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		cfg.Port = parsed
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format := cmd.String("log-format"); format != "" {
		cfg.LogFormat = format
	}

	if err := core.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	cfg.LogSummary()

	server := endpoints.NewServer(cfg)
	httpServer := &http.Server{
		Addr:    cfg.Address(),
		Handler: server.Router(),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("stopped gracefully")
	return nil
}
