// Package blob stores conversation attachments.
package blob

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"tgrelay/internal/domain"
)

// Key prefixes by attachment classification; both directions share them.
const (
	PrefixImages = "telegram/images"
	PrefixDocs   = "telegram/docs"
)

// PrefixFor picks the key prefix for filename.
func PrefixFor(filename string) string {
	if IsImage(filename) {
		return PrefixImages
	}
	return PrefixDocs
}

type Store interface {
	Put(ctx context.Context, data []byte, prefix, filename string) (domain.BlobRef, error)
	PresignedGetURL(ctx context.Context, ref domain.BlobRef, ttl time.Duration) (string, error)
}

var imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true}

// IsImage classifies a filename by extension.
func IsImage(filename string) bool {
	return imageExts[Ext(filename)]
}

// Ext returns the lower-cased extension without the dot.
func Ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// ObjectKey builds prefix/<uuid>.<ext> so uploads never collide.
func ObjectKey(prefix, filename string) string {
	name := uuid.NewString()
	if ext := Ext(filename); ext != "" {
		name += "." + ext
	}
	return path.Join(strings.Trim(prefix, "/"), name)
}
