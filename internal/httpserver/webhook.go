package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"

	"tgrelay/internal/observability"
	sqsqueue "tgrelay/internal/queue/sqs"
	"tgrelay/internal/telegram"
	"tgrelay/internal/util"
)

const DefaultProcessTimeout = 30 * time.Second

type UpdateHandler interface {
	Handle(ctx context.Context, u tgbotapi.Update)
}

type UpdateQueue interface {
	EnqueueUpdate(ctx context.Context, job sqsqueue.UpdateJob) error
}

// Webhook receives Telegram updates. With a Queue the raw update is handed to the
// relay-worker; otherwise the relay runs in-request.
type Webhook struct {
	Secret string
	Relay  UpdateHandler
	Queue  UpdateQueue

	ProcessTimeout time.Duration
	Logger         *slog.Logger
}

func (wh *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/telegram/webhook", wh.handleUpdate).Methods(http.MethodPost)
}

func (wh *Webhook) logger() *slog.Logger {
	if wh.Logger == nil {
		return slog.Default()
	}
	return wh.Logger
}

func (wh *Webhook) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !telegram.VerifySecret(wh.Secret, r.Header.Get(telegram.SecretHeader)) {
		http.Error(w, ErrInvalidSecret, http.StatusUnauthorized)
		return
	}
	update, raw, err := telegram.DecodeUpdate(r.Body)
	if err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	if wh.Queue != nil {
		err := wh.Queue.EnqueueUpdate(r.Context(), sqsqueue.UpdateJob{
			UpdateID:   update.UpdateID,
			ExternalID: telegram.SenderID(update),
			Update:     raw,
			ReceivedAt: util.NowUTC(),
		})
		if err != nil {
			observability.Enqueues.WithLabelValues("error").Inc()
			wh.logger().Error("enqueue update failed", "err", err, "update_id", update.UpdateID)
			// non-2xx makes Telegram redeliver
			http.Error(w, ErrEnqueueFailed, http.StatusServiceUnavailable)
			return
		}
		observability.Enqueues.WithLabelValues("ok").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// Telegram may drop the connection on slow responses; finish the update anyway.
	timeout := wh.ProcessTimeout
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()
	wh.Relay.Handle(ctx, update)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
