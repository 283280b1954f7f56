package relay

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgrelay/internal/identity"
)

type Kind string

const (
	KindText        Kind = "text"
	KindPhoto       Kind = "photo"
	KindDocument    Kind = "document"
	KindCommand     Kind = "command"
	KindUnsupported Kind = "unsupported"
)

const (
	CommandStart = "start"
	CommandHelp  = "help"
)

// Inbound is a classified update. Only the fields relevant to Kind are set.
type Inbound struct {
	Kind      Kind
	UpdateID  int
	ChatID    int64
	MessageID int64
	Sender    identity.Profile

	Text    string
	Command string
	Caption string

	FileID       string
	FileUniqueID string
	FileName     string
}

// Classify maps an update onto one of the handled kinds. Edits, callbacks, stickers
// and messages without a sender are Unsupported.
func Classify(u tgbotapi.Update) Inbound {
	in := Inbound{Kind: KindUnsupported, UpdateID: u.UpdateID}
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return in
	}
	in.ChatID = msg.Chat.ID
	in.MessageID = int64(msg.MessageID)
	in.Sender = identity.Profile{
		ExternalID: msg.From.ID,
		FirstName:  msg.From.FirstName,
		LastName:   msg.From.LastName,
		Username:   msg.From.UserName,
	}

	switch {
	case len(msg.Photo) > 0:
		p := largestPhoto(msg.Photo)
		in.Kind = KindPhoto
		in.FileID, in.FileUniqueID = p.FileID, p.FileUniqueID
		in.FileName = fmt.Sprintf("photo_%s.jpg", p.FileUniqueID)
		in.Caption = msg.Caption
	case msg.Document != nil:
		in.Kind = KindDocument
		in.FileID, in.FileUniqueID = msg.Document.FileID, msg.Document.FileUniqueID
		in.FileName = msg.Document.FileName
		if in.FileName == "" {
			in.FileName = "file_" + msg.Document.FileUniqueID
		}
		in.Caption = msg.Caption
	case msg.Text != "":
		in.Text = msg.Text
		in.Kind = KindText
		if cmd := msg.Command(); cmd == CommandStart || cmd == CommandHelp {
			in.Kind = KindCommand
			in.Command = cmd
		}
	}
	return in
}

// largestPhoto picks the biggest rendition by file size, falling back to pixel area.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.FileSize > best.FileSize || (p.FileSize == best.FileSize && p.Width*p.Height > best.Width*best.Height) {
			best = p
		}
	}
	return best
}
