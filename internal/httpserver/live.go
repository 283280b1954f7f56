package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"tgrelay/internal/auth"
	"tgrelay/internal/fanout"
	"tgrelay/internal/observability"
	"tgrelay/internal/store"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

// Live streams fanout payloads to staff browsers over websockets.
type Live struct {
	Hub      *fanout.Hub
	Store    store.ConversationStore
	Upgrader websocket.Upgrader
	// Buffer is the per-session backlog; a session that falls further behind misses payloads.
	Buffer int
	Logger *slog.Logger
}

func NewLive(hub *fanout.Hub, st store.ConversationStore, logger *slog.Logger) *Live {
	return &Live{
		Hub:   hub,
		Store: st,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		Buffer: fanout.DefaultBufferSize,
		Logger: logger,
	}
}

func (l *Live) Register(mux *mux.Router) {
	mux.HandleFunc("/ws/conversations/{id}", l.handleConversation).Methods(http.MethodGet)
	mux.HandleFunc("/ws/notifications", l.handleNotifications).Methods(http.MethodGet)
}

func (l *Live) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *Live) handleConversation(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]
	if _, err := l.Store.GetIdentity(r.Context(), clientID); err != nil {
		if statusFor(err) == http.StatusNotFound {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		l.logger().Error("live session lookup failed", "err", err, "client_id", clientID)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	l.serve(w, r, fanout.ConversationChannel(clientID))
}

func (l *Live) handleNotifications(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	l.serve(w, r, fanout.NotificationChannel(uid))
}

func (l *Live) serve(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := l.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger().Warn("websocket upgrade failed", "err", err, "channel", channel)
		return
	}
	defer conn.Close()

	id, stream, cancel := l.Hub.Subscribe(channel, l.Buffer)
	defer cancel()
	observability.LiveSessions.Inc()
	defer observability.LiveSessions.Dec()
	l.logger().Debug("live session opened", "session_id", id, "channel", channel)

	// Reader: staff sessions only listen, so inbound frames are discarded. A read
	// error means the browser went away.
	done := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				l.logger().Debug("live write failed", "err", err, "session_id", id)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			l.logger().Debug("live session closed", "session_id", id, "channel", channel)
			return
		case <-r.Context().Done():
			return
		}
	}
}
