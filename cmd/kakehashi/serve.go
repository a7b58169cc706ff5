package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/kakehashi/internal/api"
	"github.com/harunnryd/kakehashi/internal/auth"
	"github.com/harunnryd/kakehashi/internal/bridge"
	"github.com/harunnryd/kakehashi/internal/command"
	"github.com/harunnryd/kakehashi/internal/config"
	"github.com/harunnryd/kakehashi/internal/executor"
	"github.com/harunnryd/kakehashi/internal/ratelimit"
	"github.com/harunnryd/kakehashi/internal/redact"
	"github.com/harunnryd/kakehashi/internal/sandbox"
	"github.com/harunnryd/kakehashi/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server",
	Long:  `Starts the HTTP bridge, the cleanup sweeper, and (when opted in) the execution guard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		conversationTTL, err := config.DurationOrDefault(cfg.Bridge.ConversationTTL, config.DefaultBridgeConversationTTL)
		if err != nil {
			return err
		}
		aliveWithin, err := config.DurationOrDefault(cfg.Bridge.AliveWithin, config.DefaultBridgeAliveWithin)
		if err != nil {
			return err
		}
		execTimeout, err := config.DurationOrDefault(cfg.Executor.DefaultTimeout, config.DefaultExecutorTimeout)
		if err != nil {
			return err
		}
		readTimeout, err := config.DurationOrDefault(cfg.Server.ReadTimeout, config.DefaultServerReadTimeout)
		if err != nil {
			return err
		}
		writeTimeout, err := config.DurationOrDefault(cfg.Server.WriteTimeout, config.DefaultServerWriteTimeout)
		if err != nil {
			return err
		}
		shutdownTimeout, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
		if err != nil {
			return err
		}

		validator, err := command.New(cfg.Command.ExtraBlocked)
		if err != nil {
			return err
		}

		runner, err := sandbox.NewDockerRunner(sandbox.Options{
			Image:       cfg.Sandbox.Image,
			MemoryBytes: cfg.Sandbox.MemoryBytes,
			NanoCPUs:    cfg.Sandbox.NanoCPUs,
			PidsLimit:   cfg.Sandbox.PidsLimit,
		})
		if err != nil {
			return err
		}

		exec := executor.New(comps.store, comps.audit, comps.guard, validator, redact.New(), runner, executor.Options{
			DefaultTimeout: execTimeout,
			MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		})

		limiter := ratelimit.New(comps.store,
			ratelimit.Windows(cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour, cfg.RateLimit.PerDay))

		b := bridge.New(comps.store, auth.New(comps.store, conversationTTL), limiter,
			redact.New(), comps.audit, comps.guard, exec, bridge.Options{
				MaxMessageBytes: cfg.Bridge.MaxMessageBytes,
				MaxFiles:        cfg.Bridge.MaxFiles,
				AliveWithin:     aliveWithin,
			})

		sw := sweeper.New(comps.store, comps.audit)
		if err := sw.Start(cfg.Sweeper.Schedule); err != nil {
			return err
		}
		defer sw.Stop()

		server := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      api.NewHandler(b).Router(),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("Bridge server listening",
				"addr", cfg.Server.Addr,
				"guard_optin", cfg.Guard.Optin,
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-stop:
			slog.Info("Shutting down", "signal", sig.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
