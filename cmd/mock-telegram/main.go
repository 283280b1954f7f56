// Command mock-telegram serves a fake Bot API for local runs and load tests.
// POST /mock/updates injects a text update into whatever webhook the relay registered.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"tgrelay/internal/logging"
	"tgrelay/internal/telegram/telegramtest"
)

type config struct {
	Port           string `envconfig:"PORT" default:"8081"`
	Token          string `envconfig:"TELEGRAM_BOT_TOKEN" default:"mock-token"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"json"`
	OutcomeMode    string `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw    string `envconfig:"MOCK_OUTCOMES" default:"ok"`
	DelayMs        int    `envconfig:"MOCK_DELAY_MS" default:"0"`
	TimeoutDelayMs int    `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"12000"`
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock telegram config load failed", "err", err)
		os.Exit(1)
	}
	logger := logging.Init("mock-telegram", cfg.LogFormat, "info")

	srv := telegramtest.NewServer(telegramtest.Config{
		Token:        cfg.Token,
		OutcomeMode:  cfg.OutcomeMode,
		Outcomes:     telegramtest.ParseOutcomes(cfg.OutcomesRaw),
		Delay:        time.Duration(cfg.DelayMs) * time.Millisecond,
		TimeoutDelay: time.Duration(cfg.TimeoutDelayMs) * time.Millisecond,
	})

	logger.Info("mock telegram listening", "port", cfg.Port, "outcome_mode", cfg.OutcomeMode, "outcomes", cfg.OutcomesRaw)
	if err := http.ListenAndServe(":"+cfg.Port, telegramtest.LoggingMiddleware(logger, srv.Handler())); err != nil {
		logger.Error("mock telegram server failed", "err", err)
		os.Exit(1)
	}
}
