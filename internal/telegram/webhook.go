package telegram

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// VerifySecret compares the webhook secret header in constant time.
// An empty expected secret disables the check.
func VerifySecret(expected, provided string) bool {
	if expected == "" {
		return true
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

// DecodeUpdate parses one webhook body. raw is the original JSON for queueing.
func DecodeUpdate(r io.Reader) (update tgbotapi.Update, raw json.RawMessage, err error) {
	raw, err = io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return tgbotapi.Update{}, nil, fmt.Errorf("read update: %w", err)
	}
	if err := json.Unmarshal(raw, &update); err != nil {
		return tgbotapi.Update{}, nil, fmt.Errorf("decode update: %w", err)
	}
	return update, raw, nil
}

// SenderID returns the Telegram user id behind an update, or 0.
func SenderID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.EditedMessage != nil && u.EditedMessage.From != nil:
		return u.EditedMessage.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}
