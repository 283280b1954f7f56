package telegram

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// slogBotLogger adapts slog.Logger to tgbotapi.BotLogger so library logs go through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (s *slogBotLogger) Println(v ...any) {
	s.log.Warn(fmt.Sprint(v...))
}

func (s *slogBotLogger) Printf(format string, v ...any) {
	s.log.Warn(fmt.Sprintf(format, v...))
}

// SetLogger routes the bot library's package-level logger through l.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: l.With("component", "tgbotapi")})
}
