package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/cli"
	"github.com/aretw0/chatflow/pkg/adapters/amqp"
	httpAdapter "github.com/aretw0/chatflow/pkg/adapters/http"
	"github.com/aretw0/chatflow/pkg/session"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the broker consumer",
	Long: `Starts the engine in server mode: the management API, the inbound message
webhook and, when enabled, the AMQP consumer and action publisher.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var broker *amqp.Client
		var extra []chatflow.Option
		if cfg.AMQP.Enabled {
			broker, err = amqp.Dial(ctx, amqp.Config{
				URL:          cfg.AMQP.URL,
				Exchange:     cfg.AMQP.Exchange,
				InboundQueue: cfg.AMQP.InboundQueue,
				Workers:      cfg.AMQP.Workers,
			}, logger)
			if err != nil {
				return err
			}
			defer broker.Close()
			extra = append(extra, chatflow.WithDispatcher(broker.Dispatcher(amqp.WithDispatcherLogger(logger))))
		}

		rt, err := cli.NewRuntime(ctx, cfg, logger, extra...)
		if err != nil {
			return err
		}
		defer closeRuntime(rt)

		if cfg.Sessions.IdleTTL > 0 {
			janitor := session.NewJanitor(rt.Engine.Sessions(), cfg.Sessions.IdleTTL,
				session.WithJanitorLogger(logger),
				session.WithSweepHook(rt.Metrics.ObserveSweep),
			)
			if err := janitor.Start(ctx, cfg.Sessions.JanitorSchedule); err != nil {
				return err
			}
			defer janitor.Stop()
		}
		if guard := rt.Engine.Cooldown(); guard != nil && cfg.Engine.CooldownSweep != "" {
			if err := guard.Start(ctx, cfg.Engine.CooldownSweep); err != nil {
				return err
			}
			defer guard.Stop()
		}
		if cfg.Flows.RefreshInterval > 0 {
			go rt.Engine.Flows().Watch(ctx, cfg.Flows.RefreshInterval)
		}

		srv := &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: httpAdapter.NewHandler(rt.Engine,
				httpAdapter.WithLogger(logger),
				httpAdapter.WithGatherer(rt.Registry),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener or the consumer.
		serverErrors := make(chan error, 2)

		go func() {
			logger.Info("Starting chatflow server", "address", srv.Addr, "version", chatflow.Version)
			serverErrors <- srv.ListenAndServe()
		}()
		if broker != nil {
			go func() {
				if err := broker.Consume(ctx, rt.Engine); err != nil {
					serverErrors <- fmt.Errorf("amqp consumer stopped: %w", err)
				}
			}()
		}

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case <-ctx.Done():
			logger.Info("Start shutdown")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Error killing server", "err", err)
				}
			}
			logger.Info("Chatflow server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides http.addr)")
}
