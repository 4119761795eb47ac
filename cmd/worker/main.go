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

	"github.com/kirillkom/canopy-survey/internal/bootstrap"
	"github.com/kirillkom/canopy-survey/internal/config"
	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/observability/logging"
	"github.com/kirillkom/canopy-survey/internal/observability/metrics"
)

const applyTimeout = 2 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSResultSubject)
	err = app.Queue.SubscribeDetectionOutcomes(ctx, func(handlerCtx context.Context, outcome domain.DetectionOutcome) error {
		applyCtx, cancel := context.WithTimeout(handlerCtx, applyTimeout)
		defer cancel()

		workerMetrics.StartOutcome()
		started := time.Now()
		err := app.OutcomeUC.Apply(applyCtx, outcome)
		workerMetrics.FinishOutcome("worker", string(outcome.Status), len(outcome.Trees), time.Since(started), err)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
