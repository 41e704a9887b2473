package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub027/metrics"
	"github.com/Luneo19/luneo-platform-sub027/pipeline"
	"github.com/Luneo19/luneo-platform-sub027/services"
	"github.com/Luneo19/luneo-platform-sub027/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the conversion worker pool",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting conversion service")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbSvc.Close()
	logger.Info("connected to database")

	// Clear out workspaces left behind by a previous crashed process
	// before accepting any work.
	staleAfter := time.Duration(cfg.StaleJobMinutes) * time.Minute
	if _, err := pipeline.SweepOrphans(cfg.WorkspaceRoot, staleAfter, logger); err != nil {
		logger.Warn("startup workspace sweep failed", zap.Error(err))
	}

	m := metrics.New()
	pool := worker.NewPool(cfg, redisClient, dbSvc, logger, m)

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			pool.StartWorker(ctx, workerID)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.RecoveryLoop(ctx)
	}()

	logger.Info("service ready",
		zap.Int("workers", cfg.WorkerCount),
		zap.String("pending_queue", cfg.PendingQueue),
		zap.String("tool", cfg.ToolPath),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping workers")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all workers stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("shutdown timeout, forcing exit")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	redisClient.Close()
	logger.Info("conversion service stopped")
	return nil
}
