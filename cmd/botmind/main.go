// botmind is the task lifecycle core of an autonomous game-world agent:
// it ingests intent, materializes tasks, verifies step effects against bot
// state, and keeps goal lifecycle in sync.
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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"botmind/internal/config"
	"botmind/internal/core"
	"botmind/internal/httpapi"
	"botmind/internal/logging"
)

var version = "0.3.0"

var (
	verbose   bool
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "botmind",
	Short: "botmind - autonomous agent task lifecycle core",
	Long: `botmind drives the planning subsystem of an autonomous bot.

It ingests intent from cognition, goals, and the management API,
materializes tasks, gates execution on feasibility, verifies step effects
against bot state, and synchronizes goal lifecycle.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task lifecycle core and its management API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		if err := logging.Configure(workspace, cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.Categories); err != nil {
			return err
		}
		defer logging.Close()

		c, err := core.New(cfg, core.Deps{})
		if err != nil {
			return err
		}
		defer c.Close()

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.New(c, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("management API listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the botmind version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("botmind %s\n", version)
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
