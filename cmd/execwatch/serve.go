package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/execwatch/internal/api"
	"github.com/kandev/execwatch/internal/common/constants"
	"github.com/kandev/execwatch/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and follow the orchestrator",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("execution", "", "Execution to load on start")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("cleanup failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = a.watcher.Stop() }()

	if id, _ := cmd.Flags().GetString("execution"); id != "" {
		if _, err := a.monitor.ViewExecution(ctx, id); err != nil {
			log.Warn("failed to load initial execution", zap.String("execution_id", id), zap.Error(err))
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(a.monitor, nil, log),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), constants.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.engine.Interactions().RunCleanup(gctx, constants.InteractionCleanupInterval)
		return nil
	})
	if a.conn != nil {
		g.Go(func() error {
			return a.conn.Run(gctx)
		})
	}

	err = g.Wait()
	log.Info("shutting down")
	a.engine.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if terr := tracing.Shutdown(shutdownCtx); terr != nil {
		log.Warn("tracing shutdown failed", zap.Error(terr))
	}
	return err
}
