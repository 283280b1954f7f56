package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tgrelay/internal/app"
	"tgrelay/internal/awsutil"
	"tgrelay/internal/config"
	"tgrelay/internal/httpserver"
	"tgrelay/internal/logging"
	"tgrelay/internal/observability"
	sqsqueue "tgrelay/internal/queue/sqs"
)

// jobTimeout bounds one update end to end, including the Telegram replies.
const jobTimeout = 30 * time.Second

func main() {
	cfg := config.LoadWorker()
	logger := logging.Init("relay-worker", cfg.LogFormat, cfg.LogLevel)

	// Use a root ctx we can cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.Register(prometheus.DefaultRegisterer)

	core, err := app.Build(ctx, app.Options{
		Postgres: cfg.Postgres,
		Telegram: cfg.Telegram,
		AWS:      cfg.AWS,
		Blob:     cfg.Blob,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("worker init failed", "err", err)
		os.Exit(1)
	}
	defer core.Close()

	sqsClient := awsutil.NewSQSClient(core.AWS, cfg.LocalstackEndpoint)
	queueReachable := func(c context.Context) error {
		_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.SQSUpdatesQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}
	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := queueReachable(startupCtx); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSUpdatesQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
		Logger:            logging.Component(logger, "consumer"),
	}

	// health server (liveness + readiness)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", httpserver.Healthz())
	healthMux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, core.Store.Ping, queueReachable))
	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(healthMux),
	}

	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: httpserver.NewMetricsMux(prometheus.DefaultGatherer),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed", "err", err)
		}
	}()

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.SQSUpdatesQueueURL, "concurrency", cfg.WorkerConcurrency)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, func(ctx context.Context, job sqsqueue.UpdateJob) error {
			var u tgbotapi.Update
			if err := json.Unmarshal(job.Update, &u); err != nil {
				// malformed payloads are acknowledged; redelivery cannot fix them
				slog.Warn("dropping undecodable update", "err", err, "update_id", job.UpdateID)
				return nil
			}
			start := time.Now()
			jobCtx, jobCancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
			defer jobCancel()
			core.Relay.Handle(jobCtx, u)
			slog.Debug("worker job finish", "update_id", job.UpdateID, "external_id", job.ExternalID,
				"queue_delay", start.Sub(job.ReceivedAt), "duration", time.Since(start))
			return nil
		})
	}()

	// shutdown wiring
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for poll loop")
	}
}
