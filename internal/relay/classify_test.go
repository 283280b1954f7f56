package relay

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestClassify(t *testing.T) {
	from := &tgbotapi.User{ID: 5, FirstName: "Ivan", LastName: "Petrov", UserName: "ivp"}
	chat := &tgbotapi.Chat{ID: 5}
	cmd := func(n int) []tgbotapi.MessageEntity {
		return []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
	}

	tests := []struct {
		name    string
		update  tgbotapi.Update
		kind    Kind
		command string
		file    string
	}{
		{"text", tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat, Text: "hello"}}, KindText, "", ""},
		{"start", tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat, Text: "/start", Entities: cmd(6)}}, KindCommand, "start", ""},
		{"help with bot name", tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat, Text: "/help@crm_bot", Entities: cmd(13)}}, KindCommand, "help", ""},
		{"unknown command is text", tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat, Text: "/auth 123", Entities: cmd(5)}}, KindText, "", ""},
		{"document without name", tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat,
			Document: &tgbotapi.Document{FileID: "f", FileUniqueID: "u9"}}}, KindDocument, "", "file_u9"},
		{"photo", tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat,
			Photo: []tgbotapi.PhotoSize{{FileID: "a", FileUniqueID: "ua", Width: 10, Height: 10}, {FileID: "b", FileUniqueID: "ub", Width: 100, Height: 100}}}}, KindPhoto, "", "photo_ub.jpg"},
		{"edited", tgbotapi.Update{EditedMessage: &tgbotapi.Message{From: from, Chat: chat, Text: "x"}}, KindUnsupported, "", ""},
		{"no sender", tgbotapi.Update{Message: &tgbotapi.Message{Chat: chat, Text: "x"}}, KindUnsupported, "", ""},
		{"empty message", tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: chat}}, KindUnsupported, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Classify(tt.update)
			if in.Kind != tt.kind {
				t.Fatalf("kind: got %s want %s", in.Kind, tt.kind)
			}
			if in.Command != tt.command {
				t.Fatalf("command: got %q want %q", in.Command, tt.command)
			}
			if in.FileName != tt.file {
				t.Fatalf("file: got %q want %q", in.FileName, tt.file)
			}
			if in.Kind != KindUnsupported && in.Sender.ExternalID != 5 {
				t.Fatalf("sender not mapped: %+v", in.Sender)
			}
		})
	}
}

func TestKeyLockReleases(t *testing.T) {
	k := newKeyLock()
	u1 := k.Lock(1)
	u2 := k.Lock(2)
	if k.size() != 2 {
		t.Fatalf("expected 2 entries")
	}
	u1()
	u2()
	if k.size() != 0 {
		t.Fatalf("expected entries dropped, got %d", k.size())
	}
}
