package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tgrelay/internal/app"
	"tgrelay/internal/awsutil"
	"tgrelay/internal/config"
	"tgrelay/internal/httpserver"
	"tgrelay/internal/logging"
	"tgrelay/internal/observability"
	sqsqueue "tgrelay/internal/queue/sqs"
)

func main() {
	cfg := config.LoadRelay()
	logger := logging.Init("relay", cfg.LogFormat, cfg.LogLevel)

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
		slog.Error("relay init failed", "err", err)
		os.Exit(1)
	}
	defer core.Close()

	webhook := &httpserver.Webhook{
		Secret: cfg.WebhookSecret,
		Relay:  core.Relay,
		Logger: logging.Component(logger, "webhook"),
	}
	switch strings.ToLower(cfg.InboundMode) {
	case "sqs":
		if cfg.SQSUpdatesQueueURL == "" {
			slog.Error("INBOUND_MODE=sqs requires SQS_UPDATES_QUEUE_URL")
			os.Exit(1)
		}
		webhook.Queue = &sqsqueue.Producer{
			SQS:      awsutil.NewSQSClient(core.AWS, cfg.LocalstackEndpoint),
			QueueURL: cfg.SQSUpdatesQueueURL,
		}
	case "direct":
	default:
		slog.Error("unknown INBOUND_MODE", "mode", cfg.InboundMode)
		os.Exit(1)
	}

	s := httpserver.New()
	s.Mount(httpserver.Routes{
		Webhook: webhook,
		API: &httpserver.API{
			Store:      core.Store,
			Gateway:    core.Gateway,
			Blobs:      core.Blobs,
			Notifier:   core.Fanout,
			PresignTTL: cfg.PresignTTL,
			Logger:     logging.Component(logger, "api"),
		},
		Live:      httpserver.NewLive(core.Hub, core.Store, logging.Component(logger, "live")),
		JWTSecret: cfg.JWTSecret,
		Ready:     []httpserver.ReadyzCheck{core.Store.Ping},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.Logging(s.Mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: httpserver.NewMetricsMux(prometheus.DefaultGatherer),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("relay shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("relay metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("relay metrics server failed", "err", err)
		}
	}()

	slog.Info("relay listening", "port", cfg.Port, "inbound_mode", cfg.InboundMode, "bot", core.Telegram.Username())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("relay server failed", "err", err)
		os.Exit(1)
	}
}
