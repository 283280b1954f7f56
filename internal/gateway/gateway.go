// Package gateway delivers staff replies and bot messages to Telegram and records them
// as conversation history.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"tgrelay/internal/blob"
	"tgrelay/internal/domain"
	"tgrelay/internal/fanout"
	"tgrelay/internal/logging"
	"tgrelay/internal/observability"
	"tgrelay/internal/store"
)

const (
	DefaultSendTimeout = 5 * time.Second
	persistTimeout     = 5 * time.Second

	staffImageContent = "Изображение от сотрудника"
	sentToast         = "Сообщение отправлено клиенту"
)

type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, name string, data []byte, caption string) (int64, error)
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) (int64, error)
}

type Publisher interface {
	PublishMessage(m domain.Message)
	PublishToast(userID, text string, level fanout.Level)
}

type File struct {
	Name string
	Data []byte
}

type SendRequest struct {
	ClientID   string
	Text       string
	Attachment *File
	// AuthorID is the acting staff user; nil for bot messages.
	AuthorID *string
	// Kind of the text part: text (default) or system.
	Kind domain.MessageType
}

type Gateway struct {
	Store     store.ConversationStore
	Transport Transport
	Blobs     blob.Store
	Fanout    Publisher
	Limiter   *rate.Limiter
	Breaker   *gobreaker.CircuitBreaker

	SendTimeout time.Duration
	Logger      *slog.Logger
}

// NewBreaker trips after 5 consecutive Telegram failures and probes again after 30s.
func NewBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	logger = logging.Component(logger, "gateway")
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a client-side cancel says nothing about Telegram health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// Send delivers text and/or one attachment to the client's Telegram chat. Each part is
// persisted whether or not Telegram accepted it; a failed part has no external id and
// its error is returned as a *domain.TransportError joined with the others.
// Fanout and the staff toast only happen when every part was delivered.
func (g *Gateway) Send(ctx context.Context, req SendRequest) ([]domain.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && req.Attachment == nil {
		return nil, domain.ErrEmptyMessage
	}
	client, err := g.Store.GetIdentity(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client.ExternalID == 0 {
		return nil, fmt.Errorf("client %s: %w", client.ID, domain.ErrNoDestination)
	}

	var (
		out  []domain.Message
		errs []error
	)
	if req.Attachment != nil {
		m, err := g.sendAttachment(ctx, client, req.Attachment, req.AuthorID)
		if m != nil {
			out = append(out, *m)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if text != "" {
		kind := req.Kind
		if kind == "" {
			kind = domain.TypeText
		}
		m, err := g.sendText(ctx, client, text, kind, req.AuthorID)
		if m != nil {
			out = append(out, *m)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return out, err
	}
	if g.Fanout == nil {
		return out, nil
	}
	for _, m := range out {
		g.Fanout.PublishMessage(m)
	}
	if req.AuthorID != nil {
		g.Fanout.PublishToast(*req.AuthorID, sentToast, fanout.LevelSuccess)
	}
	return out, nil
}

// SendSystem sends an author-less bot reply recorded as a system message.
func (g *Gateway) SendSystem(ctx context.Context, clientID, text string) (domain.Message, error) {
	msgs, err := g.Send(ctx, SendRequest{ClientID: clientID, Text: text, Kind: domain.TypeSystem})
	if len(msgs) == 0 {
		return domain.Message{}, err
	}
	return msgs[0], err
}

func (g *Gateway) sendText(ctx context.Context, c domain.ClientIdentity, text string, kind domain.MessageType, author *string) (*domain.Message, error) {
	extID, sendErr := g.deliver(ctx, string(kind), func(ctx context.Context) (int64, error) {
		return g.Transport.SendText(ctx, c.ExternalID, text)
	})
	m, err := g.persist(ctx, store.MessageAppend{
		ClientID:  c.ID,
		AuthorID:  author,
		Direction: domain.DirectionOutgoing,
		Type:      kind,
		Content:   text,
	}, extID, sendErr)
	if err != nil {
		return nil, errors.Join(sendErr, err)
	}
	return &m, sendErr
}

func (g *Gateway) sendAttachment(ctx context.Context, c domain.ClientIdentity, f *File, author *string) (*domain.Message, error) {
	name := f.Name
	if name == "" {
		name = "file"
	}
	isImage := blob.IsImage(name)

	uploadCtx, cancel := context.WithTimeout(ctx, g.sendTimeout())
	ref, err := g.Blobs.Put(uploadCtx, f.Data, blob.PrefixFor(name), name)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	kind, typ, content := "document", domain.TypeDocument, "Файл: "+name
	if isImage {
		kind, typ, content = "photo", domain.TypeImage, staffImageContent
	}
	extID, sendErr := g.deliver(ctx, kind, func(ctx context.Context) (int64, error) {
		if isImage {
			return g.Transport.SendPhoto(ctx, c.ExternalID, name, f.Data, "")
		}
		return g.Transport.SendDocument(ctx, c.ExternalID, name, f.Data, "")
	})
	m, err := g.persist(ctx, store.MessageAppend{
		ClientID:   c.ID,
		AuthorID:   author,
		Direction:  domain.DirectionOutgoing,
		Type:       typ,
		Content:    content,
		Attachment: &ref,
	}, extID, sendErr)
	if err != nil {
		return nil, errors.Join(sendErr, err)
	}
	return &m, sendErr
}

// deliver runs one transport call behind the limiter, breaker and send timeout.
func (g *Gateway) deliver(ctx context.Context, kind string, send func(ctx context.Context) (int64, error)) (int64, error) {
	sendCtx, cancel := context.WithTimeout(ctx, g.sendTimeout())
	defer cancel()

	// 1) Rate limit before calling Telegram (per process)
	if g.Limiter != nil {
		if err := g.Limiter.Wait(sendCtx); err != nil {
			observability.OutboundSends.WithLabelValues(kind, "rate_limited_local").Inc()
			return 0, &domain.TransportError{Op: "send " + kind, Err: err}
		}
	}

	// 2) Circuit breaker wraps the Telegram call
	call := func() (any, error) { return send(sendCtx) }
	var res any
	var err error
	if g.Breaker != nil {
		res, err = g.Breaker.Execute(call)
	} else {
		res, err = call()
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.OutboundSends.WithLabelValues(kind, "cb_open").Inc()
		return 0, &domain.TransportError{Op: "send " + kind, Err: err}
	case err != nil:
		observability.OutboundSends.WithLabelValues(kind, "error").Inc()
		var te *domain.TransportError
		if errors.As(err, &te) {
			return 0, err
		}
		return 0, &domain.TransportError{Op: "send " + kind, Err: err}
	}
	observability.OutboundSends.WithLabelValues(kind, "ok").Inc()
	return res.(int64), nil
}

// persist records the outgoing message on a context detached from the caller, so a
// cancelled request or timed-out send still leaves a history entry.
func (g *Gateway) persist(ctx context.Context, in store.MessageAppend, extID int64, sendErr error) (domain.Message, error) {
	if sendErr == nil {
		in.ExternalMessageID = &extID
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	m, err := g.Store.AppendMessage(pctx, in)
	if err != nil {
		g.logger().Error("persist outgoing message failed", "err", err, "client_id", in.ClientID, "type", in.Type)
		return domain.Message{}, fmt.Errorf("%w: outgoing: %w", domain.ErrPersist, err)
	}
	if sendErr != nil {
		g.logger().Warn("telegram send failed, message stored undelivered",
			"err", sendErr, "client_id", in.ClientID, "message_id", m.ID, "type", in.Type)
	}
	return m, nil
}

func (g *Gateway) sendTimeout() time.Duration {
	if g.SendTimeout <= 0 {
		return DefaultSendTimeout
	}
	return g.SendTimeout
}
