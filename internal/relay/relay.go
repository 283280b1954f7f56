// Package relay turns inbound Telegram updates into CRM conversation history: it resolves
// the sender, walks new clients through contact capture, stores every message and
// notifies live staff sessions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgrelay/internal/blob"
	"tgrelay/internal/contact"
	"tgrelay/internal/domain"
	"tgrelay/internal/identity"
	"tgrelay/internal/logging"
	"tgrelay/internal/observability"
	"tgrelay/internal/store"
)

const (
	onboardingPrompt = "Здравствуйте! Похоже, вы обращаетесь к нам впервые.\n\n" +
		"Пожалуйста, отправьте ваш номер телефона и фамилию, имя, отчество одной строкой.\n\n" +
		"Пример: 8 999 123-45-67 Иванов Иван Иванович"
	contactsSaved = "Спасибо! Мы сохранили ваши контактные данные и готовы выслушать ваше обращение."
	parseFailure  = "Не удалось распознать номер телефона.\n\n" +
		"Пожалуйста, отправьте фамилию, имя, отчество и номер телефона одной строкой.\n\n" +
		"Пример: 8 999 123-45-67 Иванов Иван Иванович"
	helpText = "🤖 Доступные команды:\n" +
		"/start - Начало работы\n" +
		"/help - Эта справка\n\n" +
		"💬 Отправляйте сообщения в CRM прямо через бота!"

	clientImageContent = "Изображение от клиента"
	messageFailure     = "❌ Ошибка при обработке сообщения."
	fileFailure        = "❌ Ошибка при обработке файла."

	apologyTimeout = 5 * time.Second
)

func greeting(firstName string) string {
	return fmt.Sprintf("Привет, %s! 👋\n\nДобро пожаловать в CRM систему!", firstName)
}

func fileAck(in Inbound) string {
	if in.Kind == KindPhoto {
		return "📷 Картинка получена и сохранена в CRM."
	}
	return fmt.Sprintf("📎 Файл «%s» получен и сохранён в CRM.", in.FileName)
}

// errDuplicate marks a redelivered update whose message is already stored.
var errDuplicate = errors.New("update already stored")

type Identities interface {
	Lookup(ctx context.Context, externalID int64) (domain.ClientIdentity, bool, error)
	ResolveOrCreate(ctx context.Context, p identity.Profile) (domain.ClientIdentity, bool, error)
}

// Replier sends author-less bot replies and records them as system messages.
type Replier interface {
	SendSystem(ctx context.Context, clientID, text string) (domain.Message, error)
}

type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
}

type Publisher interface {
	PublishMessage(m domain.Message)
}

type Deps struct {
	Identities Identities
	Store      store.ConversationStore
	Replies    Replier
	Transport  Transport
	Blobs      blob.Store
	Fanout     Publisher
	Logger     *slog.Logger
}

type Relay struct {
	Deps
	locks *keyLock
}

func New(d Deps) *Relay {
	d.Logger = logging.Component(d.Logger, "relay")
	return &Relay{Deps: d, locks: newKeyLock()}
}

// Handle processes one update. Failures are logged and answered with a generic notice;
// they never reach the caller, so webhook and queue consumers can always acknowledge.
func (r *Relay) Handle(ctx context.Context, u tgbotapi.Update) {
	in := Classify(u)
	if in.Kind == KindUnsupported {
		observability.InboundUpdates.WithLabelValues(string(in.Kind), "ignored").Inc()
		r.Logger.Debug("update ignored", "update_id", in.UpdateID)
		return
	}

	unlock := r.locks.Lock(in.Sender.ExternalID)
	defer unlock()
	defer func() {
		if p := recover(); p != nil {
			observability.InboundUpdates.WithLabelValues(string(in.Kind), "panic").Inc()
			r.Logger.Error("panic while handling update", "panic", p, "stack", string(debug.Stack()),
				"update_id", in.UpdateID, "external_id", in.Sender.ExternalID, "kind", in.Kind)
			r.apologize(ctx, in)
		}
	}()

	err := r.dispatch(ctx, in)
	switch {
	case err == nil:
		observability.InboundUpdates.WithLabelValues(string(in.Kind), "ok").Inc()
	case errors.Is(err, errDuplicate):
		observability.InboundUpdates.WithLabelValues(string(in.Kind), "duplicate").Inc()
		r.Logger.Info("duplicate update skipped", "update_id", in.UpdateID, "external_id", in.Sender.ExternalID)
	default:
		observability.InboundUpdates.WithLabelValues(string(in.Kind), "error").Inc()
		r.Logger.Error("handle update failed", "err", err,
			"update_id", in.UpdateID, "external_id", in.Sender.ExternalID, "kind", in.Kind)
		r.apologize(ctx, in)
	}
}

func (r *Relay) dispatch(ctx context.Context, in Inbound) error {
	switch in.Kind {
	case KindText:
		return r.handleText(ctx, in)
	case KindCommand:
		return r.handleCommand(ctx, in)
	case KindPhoto, KindDocument:
		return r.handleFile(ctx, in)
	}
	return fmt.Errorf("unhandled kind %q", in.Kind)
}

func (r *Relay) handleText(ctx context.Context, in Inbound) error {
	c, isNew, err := r.Identities.ResolveOrCreate(ctx, in.Sender)
	if err != nil {
		return err
	}
	if isNew {
		return r.welcome(ctx, c, in)
	}

	if _, err := r.storeIncoming(ctx, c.ID, in, domain.TypeText, in.Text, nil); err != nil {
		return err
	}
	if c, err = r.touch(ctx, c.ID); err != nil {
		return err
	}
	if !c.AwaitingContact() {
		return nil
	}

	found, ok := contact.Extract(in.Text)
	if !ok {
		observability.ContactCapture.WithLabelValues("parse_failure").Inc()
		return r.reply(ctx, c.ID, parseFailure)
	}

	patch := store.IdentityPatch{
		Phone:             store.StringPtr(found.Phone),
		ContactsConfirmed: store.BoolPtr(true),
	}
	if found.LastName != "" {
		patch.LastName = store.StringPtr(found.LastName)
	}
	if found.FirstName != "" {
		patch.FirstName = store.StringPtr(found.FirstName)
	}
	if found.Patronymic != "" {
		patch.Patronymic = store.StringPtr(found.Patronymic)
	}
	if _, err := r.Store.UpdateIdentity(ctx, c.ID, patch); err != nil {
		return fmt.Errorf("save contacts: %w", err)
	}
	observability.ContactCapture.WithLabelValues("captured").Inc()
	r.Logger.Info("client contacts captured", "client_id", c.ID, "external_id", c.ExternalID)
	return r.reply(ctx, c.ID, contactsSaved)
}

// welcome is the first exchange with a new client: the message is kept and the
// onboarding prompt asks for contacts. No extraction runs on this message.
func (r *Relay) welcome(ctx context.Context, c domain.ClientIdentity, in Inbound) error {
	if _, err := r.storeIncoming(ctx, c.ID, in, domain.TypeText, in.Text, nil); err != nil {
		return err
	}
	return r.reply(ctx, c.ID, onboardingPrompt)
}

func (r *Relay) handleCommand(ctx context.Context, in Inbound) error {
	if in.Command == CommandStart {
		if _, found, err := r.Identities.Lookup(ctx, in.Sender.ExternalID); err != nil {
			return fmt.Errorf("lookup identity: %w", err)
		} else if !found {
			return r.handleText(ctx, in)
		}
	}

	c, _, err := r.Identities.ResolveOrCreate(ctx, in.Sender)
	if err != nil {
		return err
	}
	if _, err := r.storeIncoming(ctx, c.ID, in, domain.TypeText, in.Text, nil); err != nil {
		return err
	}
	if _, err := r.touch(ctx, c.ID); err != nil {
		return err
	}
	if in.Command == CommandStart {
		return r.reply(ctx, c.ID, greeting(in.Sender.FirstName))
	}
	return r.reply(ctx, c.ID, helpText)
}

func (r *Relay) handleFile(ctx context.Context, in Inbound) error {
	c, _, err := r.Identities.ResolveOrCreate(ctx, in.Sender)
	if err != nil {
		return err
	}
	data, err := r.Transport.Download(ctx, in.FileID)
	if err != nil {
		return fmt.Errorf("download %s: %w", in.Kind, err)
	}
	ref, err := r.Blobs.Put(ctx, data, blob.PrefixFor(in.FileName), in.FileName)
	if err != nil {
		return fmt.Errorf("upload %s: %w", in.Kind, err)
	}
	typ, content := domain.TypeDocument, "Файл: "+in.FileName
	if in.Kind == KindPhoto {
		typ, content = domain.TypeImage, clientImageContent
	}
	if in.Caption != "" {
		content = in.Caption
	}
	if _, err := r.storeIncoming(ctx, c.ID, in, typ, content, &ref); err != nil {
		return err
	}
	if _, err := r.touch(ctx, c.ID); err != nil {
		return err
	}
	return r.reply(ctx, c.ID, fileAck(in))
}

func (r *Relay) touch(ctx context.Context, clientID string) (domain.ClientIdentity, error) {
	c, err := r.Store.UpdateIdentity(ctx, clientID, store.IdentityPatch{TouchLastMessage: true})
	if err != nil {
		return domain.ClientIdentity{}, fmt.Errorf("touch last message: %w", err)
	}
	return c, nil
}

func (r *Relay) storeIncoming(ctx context.Context, clientID string, in Inbound, typ domain.MessageType, content string, ref *domain.BlobRef) (domain.Message, error) {
	extID := in.MessageID
	m, err := r.Store.AppendMessage(ctx, store.MessageAppend{
		ClientID:          clientID,
		Direction:         domain.DirectionIncoming,
		Type:              typ,
		Content:           content,
		Attachment:        ref,
		ExternalMessageID: &extID,
	})
	if errors.Is(err, domain.ErrConflict) {
		return domain.Message{}, errDuplicate
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("store incoming message: %w", err)
	}
	if r.Fanout != nil {
		r.Fanout.PublishMessage(m)
	}
	return m, nil
}

// reply sends a bot message. An undelivered reply is already recorded by the
// gateway, so only storage failures abort the update, even when delivery failed too.
func (r *Relay) reply(ctx context.Context, clientID, text string) error {
	_, err := r.Replies.SendSystem(ctx, clientID, text)
	if err == nil || (!errors.Is(err, domain.ErrPersist) && domain.IsTransport(err)) {
		return nil
	}
	return fmt.Errorf("send reply: %w", err)
}

// apologize goes to the transport directly: the store may be the thing that failed.
func (r *Relay) apologize(ctx context.Context, in Inbound) {
	if in.ChatID == 0 {
		return
	}
	text := messageFailure
	if in.Kind == KindPhoto || in.Kind == KindDocument {
		text = fileFailure
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
	defer cancel()
	if _, err := r.Transport.SendText(actx, in.ChatID, text); err != nil {
		r.Logger.Warn("failure notice not delivered", "err", err, "update_id", in.UpdateID, "external_id", in.Sender.ExternalID)
	}
}
