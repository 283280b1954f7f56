package blob

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"tgrelay/internal/domain"
)

// Memory keeps blobs in process. Used by tests and local runs without S3.
type Memory struct {
	Bucket string

	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory(bucket string) *Memory {
	return &Memory{Bucket: bucket, objects: map[string][]byte{}}
}

func (m *Memory) Put(ctx context.Context, data []byte, prefix, filename string) (domain.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.BlobRef{}, err
	}
	key := ObjectKey(prefix, filename)
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return domain.BlobRef{Bucket: m.Bucket, Key: key, Filename: filename}, nil
}

func (m *Memory) PresignedGetURL(_ context.Context, ref domain.BlobRef, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[ref.Key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("blob %s: %w", ref.Key, domain.ErrNotFound)
	}
	u := url.URL{Scheme: "memory", Host: m.Bucket, Path: "/" + ref.Key}
	q := u.Query()
	q.Set("expires", ttl.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	return b, ok
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
