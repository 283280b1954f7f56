package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tgrelay_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	InboundUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tgrelay_inbound_updates_total", Help: "Telegram updates handled by the relay"},
		[]string{"kind", "result"},
	)
	ContactCapture = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tgrelay_contact_capture_total", Help: "Contact extraction outcomes"},
		[]string{"result"},
	)
	Identities = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tgrelay_identities_total", Help: "Identity resolution outcomes"},
		[]string{"result"},
	)
	OutboundSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tgrelay_outbound_sends_total", Help: "Telegram send outcomes"},
		[]string{"kind", "result"},
	)
	TelegramLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "tgrelay_telegram_latency_seconds", Help: "Telegram Bot API call latency"},
		[]string{"method"},
	)
	FanoutDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tgrelay_fanout_deliveries_total", Help: "Live notification deliveries"},
		[]string{"result"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tgrelay_enqueue_total", Help: "SQS update enqueue results"},
		[]string{"result"},
	)
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tgrelay_live_sessions", Help: "Open websocket sessions"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, InboundUpdates, ContactCapture, Identities, OutboundSends,
		TelegramLatency, FanoutDeliveries, Enqueues, LiveSessions)
}
