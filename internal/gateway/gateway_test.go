package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"tgrelay/internal/blob"
	"tgrelay/internal/domain"
	"tgrelay/internal/fanout"
	"tgrelay/internal/store"
	"tgrelay/internal/store/memory"
)

type sentCall struct {
	method string
	chatID int64
	text   string
	name   string
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []sentCall
	next  int64
	err   error
	block bool
}

func (f *fakeTransport) record(ctx context.Context, c sentCall) (int64, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	return 100 + f.next, nil
}

func (f *fakeTransport) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	return f.record(ctx, sentCall{method: "text", chatID: chatID, text: text})
}

func (f *fakeTransport) SendPhoto(ctx context.Context, chatID int64, name string, _ []byte, _ string) (int64, error) {
	return f.record(ctx, sentCall{method: "photo", chatID: chatID, name: name})
}

func (f *fakeTransport) SendDocument(ctx context.Context, chatID int64, name string, _ []byte, _ string) (int64, error) {
	return f.record(ctx, sentCall{method: "document", chatID: chatID, name: name})
}

type harness struct {
	gw        *Gateway
	store     *memory.Store
	transport *fakeTransport
	blobs     *blob.Memory
	hub       *fanout.Hub
	client    domain.ClientIdentity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memory.New()
	c, err := s.CreateIdentity(context.Background(), store.IdentityCreate{ExternalID: 4242, FirstName: "Ann"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	hub := fanout.NewHub()
	h := &harness{
		store:     s,
		transport: &fakeTransport{},
		blobs:     blob.NewMemory("crm"),
		hub:       hub,
		client:    c,
	}
	h.gw = &Gateway{
		Store:       s,
		Transport:   h.transport,
		Blobs:       h.blobs,
		Fanout:      fanout.New(hub, nil, nil),
		Limiter:     rate.NewLimiter(rate.Inf, 1),
		Breaker:     NewBreaker(nil),
		SendTimeout: 200 * time.Millisecond,
	}
	return h
}

func drain(ch <-chan string) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func TestSendTextSuccess(t *testing.T) {
	h := newHarness(t)
	_, conv, cancelConv := h.hub.Subscribe(fanout.ConversationChannel(h.client.ID), 8)
	defer cancelConv()
	_, toasts, cancelToasts := h.hub.Subscribe(fanout.NotificationChannel("staff-1"), 8)
	defer cancelToasts()

	author := "staff-1"
	msgs, err := h.gw.Send(context.Background(), SendRequest{ClientID: h.client.ID, Text: "  hello  ", AuthorID: &author})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Direction != domain.DirectionOutgoing || m.Type != domain.TypeText || m.Content != "hello" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if !m.Delivered() || m.AuthorID == nil || *m.AuthorID != "staff-1" {
		t.Fatalf("expected delivered authored message: %+v", m)
	}
	if h.transport.calls[0].chatID != 4242 {
		t.Fatalf("sent to wrong chat: %d", h.transport.calls[0].chatID)
	}
	if drain(conv) != 1 || drain(toasts) != 1 {
		t.Fatalf("expected one fanout and one toast")
	}
}

func TestSendTransportFailurePersistsUndelivered(t *testing.T) {
	h := newHarness(t)
	h.transport.err = errors.New("bot was blocked by the user")
	_, conv, cancel := h.hub.Subscribe(fanout.ConversationChannel(h.client.ID), 8)
	defer cancel()

	author := "staff-1"
	msgs, err := h.gw.Send(context.Background(), SendRequest{ClientID: h.client.ID, Text: "hello", AuthorID: &author})
	if !domain.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(msgs) != 1 || msgs[0].Delivered() {
		t.Fatalf("expected one undelivered message, got %+v", msgs)
	}

	stored, _ := h.store.ListMessages(context.Background(), h.client.ID, 0)
	if len(stored) != 1 || stored[0].ExternalMessageID != nil {
		t.Fatalf("message not persisted undelivered: %+v", stored)
	}
	if drain(conv) != 0 {
		t.Fatalf("failed send must not fan out")
	}
}

func TestSendTimeoutPersistsOnDetachedContext(t *testing.T) {
	h := newHarness(t)
	h.transport.block = true
	h.gw.SendTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	msgs, err := h.gw.Send(ctx, SendRequest{ClientID: h.client.ID, Text: "slow"})
	if !domain.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("message must be persisted after cancellation, got %d", len(msgs))
	}
}

func TestSendAttachmentAndText(t *testing.T) {
	h := newHarness(t)
	msgs, err := h.gw.Send(context.Background(), SendRequest{
		ClientID:   h.client.ID,
		Text:       "see photo",
		Attachment: &File{Name: "Plan.PNG", Data: []byte("png")},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected attachment + text, got %d", len(msgs))
	}
	img := msgs[0]
	if img.Type != domain.TypeImage || img.Attachment == nil || img.Content != staffImageContent {
		t.Fatalf("unexpected image message: %+v", img)
	}
	if _, ok := h.blobs.Get(img.Attachment.Key); !ok {
		t.Fatalf("attachment not uploaded")
	}
	if h.transport.calls[0].method != "photo" || h.transport.calls[1].method != "text" {
		t.Fatalf("unexpected call order: %+v", h.transport.calls)
	}
}

func TestSendDocumentClassification(t *testing.T) {
	h := newHarness(t)
	msgs, err := h.gw.Send(context.Background(), SendRequest{
		ClientID:   h.client.ID,
		Attachment: &File{Name: "contract.pdf", Data: []byte("pdf")},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgs[0].Type != domain.TypeDocument || msgs[0].Content != "Файл: contract.pdf" {
		t.Fatalf("unexpected document message: %+v", msgs[0])
	}
	if msgs[0].Attachment.Key[:len(blob.PrefixDocs)] != blob.PrefixDocs {
		t.Fatalf("unexpected key %q", msgs[0].Attachment.Key)
	}
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.gw.Send(context.Background(), SendRequest{ClientID: h.client.ID, Text: "   "}); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := h.gw.Send(context.Background(), SendRequest{ClientID: "cli_missing", Text: "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	noChat, _ := h.store.CreateIdentity(context.Background(), store.IdentityCreate{ExternalID: 0})
	if _, err := h.gw.Send(context.Background(), SendRequest{ClientID: noChat.ID, Text: "x"}); !errors.Is(err, domain.ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
	if len(h.transport.calls) != 0 {
		t.Fatalf("nothing should be sent on validation errors")
	}
}

func TestSendSystemHasNoAuthor(t *testing.T) {
	h := newHarness(t)
	m, err := h.gw.SendSystem(context.Background(), h.client.ID, "welcome")
	if err != nil {
		t.Fatalf("send system: %v", err)
	}
	if m.Type != domain.TypeSystem || m.AuthorID != nil || m.Direction != domain.DirectionOutgoing {
		t.Fatalf("unexpected system message: %+v", m)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	h.transport.err = errors.New("server error")
	for i := 0; i < 5; i++ {
		_, _ = h.gw.Send(context.Background(), SendRequest{ClientID: h.client.ID, Text: "x"})
	}
	if h.gw.Breaker.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker open, got %s", h.gw.Breaker.State())
	}

	before := len(h.transport.calls)
	msgs, err := h.gw.Send(context.Background(), SendRequest{ClientID: h.client.ID, Text: "y"})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open-state error, got %v", err)
	}
	if len(h.transport.calls) != before {
		t.Fatalf("open breaker must not reach transport")
	}
	if len(msgs) != 1 || msgs[0].Delivered() {
		t.Fatalf("message must still be persisted undelivered")
	}
}

type failingStore struct {
	*memory.Store
}

func (failingStore) AppendMessage(context.Context, store.MessageAppend) (domain.Message, error) {
	return domain.Message{}, errors.New("db down")
}

func TestSendPersistFailureIsMarked(t *testing.T) {
	h := newHarness(t)
	h.gw.Store = failingStore{h.store}
	h.transport.err = errors.New("bot was blocked by the user")

	_, err := h.gw.SendSystem(context.Background(), h.client.ID, "hello")
	if !errors.Is(err, domain.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if !domain.IsTransport(err) {
		t.Fatalf("send failure must still be reported, got %v", err)
	}

	h.transport.err = nil
	if _, err := h.gw.SendSystem(context.Background(), h.client.ID, "hello"); !errors.Is(err, domain.ErrPersist) || domain.IsTransport(err) {
		t.Fatalf("expected bare ErrPersist after a delivered send, got %v", err)
	}
}
