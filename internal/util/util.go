package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID, e.g. "msg_01J...". ULIDs sort by creation time.
func NewID(prefix string) string {
	t := time.Now().UTC()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewMessageID() string { return NewID("msg") }

func NewClientID() string { return NewID("cli") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
