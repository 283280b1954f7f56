// Package fanout pushes rendered conversation events to connected staff sessions.
// Delivery is best effort and never fails the caller.
package fanout

import (
	"log/slog"

	"tgrelay/internal/domain"
	"tgrelay/internal/logging"
	"tgrelay/internal/observability"
)

func ConversationChannel(clientID string) string { return "conversation:" + clientID }

func NotificationChannel(userID string) string { return "notifications:" + userID }

type Fanout struct {
	Hub      *Hub
	Renderer Renderer
	Logger   *slog.Logger
}

func New(hub *Hub, renderer Renderer, logger *slog.Logger) *Fanout {
	if renderer == nil {
		renderer = NewHTMLRenderer()
	}
	return &Fanout{Hub: hub, Renderer: renderer, Logger: logging.Component(logger, "fanout")}
}

func (f *Fanout) PublishMessage(m domain.Message) {
	if f == nil {
		return
	}
	channel := ConversationChannel(m.ClientID)
	if f.Hub.Subscribers(channel) == 0 {
		return
	}
	payload, err := f.Renderer.RenderMessage(m)
	if err != nil {
		observability.FanoutDeliveries.WithLabelValues("render_error").Inc()
		f.Logger.Warn("render message failed", "err", err, "message_id", m.ID, "client_id", m.ClientID)
		return
	}
	f.deliver(channel, payload)
}

func (f *Fanout) PublishToast(userID, text string, level Level) {
	if f == nil || userID == "" {
		return
	}
	channel := NotificationChannel(userID)
	if f.Hub.Subscribers(channel) == 0 {
		return
	}
	payload, err := f.Renderer.RenderToast(text, level)
	if err != nil {
		observability.FanoutDeliveries.WithLabelValues("render_error").Inc()
		f.Logger.Warn("render toast failed", "err", err, "user_id", userID)
		return
	}
	f.deliver(channel, payload)
}

func (f *Fanout) deliver(channel, payload string) {
	delivered, dropped := f.Hub.Publish(channel, payload)
	if delivered > 0 {
		observability.FanoutDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		observability.FanoutDeliveries.WithLabelValues("dropped").Add(float64(dropped))
		f.Logger.Debug("slow subscribers skipped", "channel", channel, "dropped", dropped)
	}
}
