package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/app"
	"github.com/agritrace/fieldsync/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "fieldsync",
		Usage: "Offline-first sync agent for the agritrace supply-chain API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "127.0.0.1:8091",
				Usage: "control API listen address",
			},
			&cli.StringFlag{
				Name:  "db-path",
				Value: "./fieldsync.sqlite",
				Usage: "local SQLite file path",
			},
			&cli.StringFlag{
				Name:    "api-url",
				Value:   "http://localhost:8080/api",
				Sources: cli.EnvVars("FIELDSYNC_API_URL"),
				Usage:   "base URL of the remote supply-chain API",
			},
			&cli.StringFlag{
				Name:    "api-token",
				Sources: cli.EnvVars("FIELDSYNC_API_TOKEN"),
				Usage:   "bearer token for the remote API",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("FIELDSYNC_LOG_LEVEL"),
				Usage:   "log level (debug, info, warn, error)",
			},
			&cli.DurationFlag{
				Name:    "flush-interval",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("FIELDSYNC_FLUSH_INTERVAL"),
				Usage:   "how often the pending queue is flushed",
			},
			&cli.StringFlag{
				Name:    "poll-schedule",
				Value:   "@every 5m",
				Sources: cli.EnvVars("FIELDSYNC_POLL_SCHEDULE"),
				Usage:   "cron schedule for delta polling",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("FIELDSYNC_WEBHOOK_URL"),
				Usage:   "optional webhook target for sync events",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("FIELDSYNC_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := logging.New(c.String("log-level"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg := app.Config{
				Addr:          c.String("addr"),
				DBPath:        c.String("db-path"),
				APIBaseURL:    c.String("api-url"),
				APIToken:      c.String("api-token"),
				FlushInterval: c.Duration("flush-interval"),
				PollSchedule:  c.String("poll-schedule"),
				WebhookURL:    c.String("webhook-url"),
				WebhookSecret: c.String("webhook-secret"),
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					logger.Warn("close resources", zap.Error(closeErr))
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("control api listening", zap.String("addr", cfg.Addr))
				errCh <- a.Server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return a.Server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				logger.Info("received signal", zap.String("signal", sig.String()))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return a.Server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
