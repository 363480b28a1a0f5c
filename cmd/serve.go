package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/cleanup"
	"github.com/sells-group/address-pipeline/internal/server"
)

var serveFlags struct {
	port    int
	offline bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP job API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := os.MkdirAll(cfg.Jobs.OutputDir, 0o755); err != nil {
			return eris.Wrap(err, "cmd: create output dir")
		}

		env, err := initPipeline(ctx, cfg, serveFlags.offline)
		if err != nil {
			return err
		}
		defer env.Close()

		scheduler := cleanup.NewScheduler(env.Sweeper, cleanup.ScheduleConfig{
			Enabled:    cfg.Cleanup.Enabled,
			Hour:       cfg.Cleanup.Hour,
			Minute:     cfg.Cleanup.Minute,
			RunAtStart: cfg.Cleanup.RunAtStart,
		})
		if err := scheduler.Start(ctx); err != nil {
			return eris.Wrap(err, "cmd: start cleanup scheduler")
		}
		defer scheduler.Stop()

		port := serveFlags.port
		if port == 0 {
			port = cfg.Server.Port
		}

		uploadDir := filepath.Join(cfg.Jobs.OutputDir, "uploads")
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.New(env.Store, env.Orchestrator, uploadDir).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		if err := env.Orchestrator.Wait(); err != nil {
			zap.L().Warn("worker drain", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port (default from config)")
	serveCmd.Flags().BoolVar(&serveFlags.offline, "offline", false, "use stub oracle responses instead of the API")
	rootCmd.AddCommand(serveCmd)
}
