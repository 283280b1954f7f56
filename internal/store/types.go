package store

import (
	"context"
	"time"

	"tgrelay/internal/domain"
)

// ConversationStore is the system of record for client identities and their messages.
// All mutation happens inside a single call; callers never read-modify-write.
type ConversationStore interface {
	FindByExternalID(ctx context.Context, externalID int64) (domain.ClientIdentity, bool, error)
	GetIdentity(ctx context.Context, clientID string) (domain.ClientIdentity, error)
	CreateIdentity(ctx context.Context, in IdentityCreate) (domain.ClientIdentity, error)
	UpdateIdentity(ctx context.Context, clientID string, patch IdentityPatch) (domain.ClientIdentity, error)

	// AppendMessage returns domain.ErrConflict when an incoming message with the same
	// external id is already stored for the client.
	AppendMessage(ctx context.Context, in MessageAppend) (domain.Message, error)
	GetMessage(ctx context.Context, messageID string) (domain.Message, error)
	ListMessages(ctx context.Context, clientID string, limit int) ([]domain.Message, error)
	SetExternalMessageID(ctx context.Context, messageID string, externalID int64) error
	MarkRead(ctx context.Context, clientID string, at time.Time) (int, error)
	CountUnread(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
}

type IdentityCreate struct {
	ExternalID int64
	FirstName  string
	LastName   string
	Username   string
	Status     domain.ClientStatus
}

// IdentityPatch lists the fields to change; nil pointers are left untouched.
type IdentityPatch struct {
	FirstName         *string
	LastName          *string
	Patronymic        *string
	Phone             *string
	Status            *domain.ClientStatus
	ContactsConfirmed *bool
	// TouchLastMessage sets last_message_at from the store clock.
	TouchLastMessage bool
}

func (p IdentityPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Patronymic == nil && p.Phone == nil &&
		p.Status == nil && p.ContactsConfirmed == nil && !p.TouchLastMessage
}

type MessageAppend struct {
	ClientID          string
	AuthorID          *string
	Direction         domain.Direction
	Type              domain.MessageType
	Content           string
	Attachment        *domain.BlobRef
	ExternalMessageID *int64
}

func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }

func Int64Ptr(v int64) *int64 { return &v }
