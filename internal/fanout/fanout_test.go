package fanout

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tgrelay/internal/domain"
)

func TestPublishMessageRendersToConversation(t *testing.T) {
	h := NewHub()
	f := New(h, nil, nil)
	_, ch, cancel := h.Subscribe(ConversationChannel("cli_1"), 1)
	defer cancel()

	f.PublishMessage(domain.Message{
		ID: "msg_1", ClientID: "cli_1", Direction: domain.DirectionIncoming, Type: domain.TypeText,
		Content: "<b>hi</b>", CreatedAt: time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC),
	})

	got := <-ch
	if !strings.Contains(got, `id="msg-msg_1"`) {
		t.Fatalf("missing message id: %s", got)
	}
	if !strings.Contains(got, "&lt;b&gt;hi&lt;/b&gt;") {
		t.Fatalf("content not escaped: %s", got)
	}
	if !strings.Contains(got, "message--incoming") {
		t.Fatalf("missing direction class: %s", got)
	}
}

func TestPublishMessageMarksUndeliveredOutgoing(t *testing.T) {
	out, err := NewHTMLRenderer().RenderMessage(domain.Message{
		ID: "msg_2", ClientID: "cli_1", Direction: domain.DirectionOutgoing, Type: domain.TypeImage,
		Attachment: &domain.BlobRef{Key: "k", Filename: "a.png"},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "message__status--failed") {
		t.Fatalf("expected failed marker: %s", out)
	}
	if !strings.Contains(out, "/v1/messages/msg_2/attachment") {
		t.Fatalf("expected attachment link: %s", out)
	}
}

func TestPublishToastLevels(t *testing.T) {
	h := NewHub()
	f := New(h, nil, nil)
	_, ch, cancel := h.Subscribe(NotificationChannel("u1"), 2)
	defer cancel()

	f.PublishToast("u1", "sent", LevelSuccess)
	f.PublishToast("u1", "odd", Level("purple"))

	if got := <-ch; !strings.Contains(got, "toast--success") {
		t.Fatalf("unexpected toast: %s", got)
	}
	if got := <-ch; !strings.Contains(got, "toast--info") {
		t.Fatalf("unknown level should fall back to info: %s", got)
	}
}

type brokenRenderer struct{}

func (brokenRenderer) RenderMessage(domain.Message) (string, error) { return "", errors.New("boom") }
func (brokenRenderer) RenderToast(string, Level) (string, error)   { return "", errors.New("boom") }

func TestPublishNeverFails(t *testing.T) {
	h := NewHub()
	f := New(h, brokenRenderer{}, nil)
	_, ch, cancel := h.Subscribe(ConversationChannel("cli_1"), 1)
	defer cancel()

	f.PublishMessage(domain.Message{ClientID: "cli_1"})
	f.PublishToast("nobody", "x", LevelInfo)
	select {
	case got := <-ch:
		t.Fatalf("nothing should be delivered on render error, got %q", got)
	default:
	}

	var nilFanout *Fanout
	nilFanout.PublishMessage(domain.Message{ClientID: "cli_1"})
}
