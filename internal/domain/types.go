package domain

import "time"

type ClientStatus string

const (
	StatusLead     ClientStatus = "lead"
	StatusActive   ClientStatus = "active"
	StatusInactive ClientStatus = "inactive"
	StatusClosed   ClientStatus = "closed"
)

func (s ClientStatus) Valid() bool {
	switch s {
	case StatusLead, StatusActive, StatusInactive, StatusClosed:
		return true
	}
	return false
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
	TypeAudio    MessageType = "audio"
	TypeSystem   MessageType = "system"
)

// ClientIdentity is one Telegram user mapped to a CRM contact.
type ClientIdentity struct {
	ID                string       `json:"id"`
	ExternalID        int64        `json:"externalId"`
	FirstName         string       `json:"firstName"`
	LastName          string       `json:"lastName"`
	Patronymic        string       `json:"patronymic,omitempty"`
	Username          string       `json:"username,omitempty"`
	Phone             string       `json:"phone,omitempty"`
	Status            ClientStatus `json:"status"`
	ContactsConfirmed bool         `json:"contactsConfirmed"`
	LastMessageAt     *time.Time   `json:"lastMessageAt,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// AwaitingContact reports whether the client has not yet given a phone number.
func (c ClientIdentity) AwaitingContact() bool {
	return c.Phone == ""
}

func (c ClientIdentity) DisplayName() string {
	switch {
	case c.FirstName != "":
		return c.FirstName
	case c.Username != "":
		return "@" + c.Username
	default:
		return c.ID
	}
}

// BlobRef points at an object in the blob store.
type BlobRef struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

type Message struct {
	ID                string      `json:"id"`
	ClientID          string      `json:"clientId"`
	AuthorID          *string     `json:"authorId,omitempty"`
	Direction         Direction   `json:"direction"`
	Type              MessageType `json:"type"`
	Content           string      `json:"content"`
	Attachment        *BlobRef    `json:"attachment,omitempty"`
	ExternalMessageID *int64      `json:"externalMessageId,omitempty"`
	IsRead            bool        `json:"isRead"`
	ReadAt            *time.Time  `json:"readAt,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	Seq               int64       `json:"seq"`
}

// Delivered reports whether Telegram acknowledged the message.
func (m Message) Delivered() bool {
	return m.ExternalMessageID != nil
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

type ChangeStatusRequest struct {
	Status ClientStatus `json:"status"`
}

func (r ChangeStatusRequest) Validate() error {
	if !r.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

type SendResponse struct {
	Messages []Message `json:"messages"`
	Error    string    `json:"error,omitempty"`
}
