// Package memory is an in-process ConversationStore with the same ordering and
// uniqueness guarantees as the Postgres store. Used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tgrelay/internal/domain"
	"tgrelay/internal/store"
	"tgrelay/internal/util"
)

type Store struct {
	// Now is the store clock. Defaults to util.NowUTC.
	Now func() time.Time

	mu         sync.RWMutex
	clients    map[string]domain.ClientIdentity
	byExternal map[int64]string
	messages   map[string]domain.Message
	byClient   map[string][]string
	seq        int64
}

func New() *Store {
	return &Store{
		Now:        util.NowUTC,
		clients:    make(map[string]domain.ClientIdentity),
		byExternal: make(map[int64]string),
		messages:   make(map[string]domain.Message),
		byClient:   make(map[string][]string),
	}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return util.NowUTC()
	}
	return s.Now()
}

func (s *Store) FindByExternalID(ctx context.Context, externalID int64) (domain.ClientIdentity, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClientIdentity{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return domain.ClientIdentity{}, false, nil
	}
	return s.clients[id], true, nil
}

func (s *Store) GetIdentity(ctx context.Context, clientID string) (domain.ClientIdentity, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClientIdentity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return domain.ClientIdentity{}, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	return c, nil
}

func (s *Store) CreateIdentity(ctx context.Context, in store.IdentityCreate) (domain.ClientIdentity, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClientIdentity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byExternal[in.ExternalID]; exists {
		return domain.ClientIdentity{}, fmt.Errorf("client external_id %d: %w", in.ExternalID, domain.ErrConflict)
	}
	now := s.now()
	status := in.Status
	if status == "" {
		status = domain.StatusLead
	}
	c := domain.ClientIdentity{
		ID:            util.NewClientID(),
		ExternalID:    in.ExternalID,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Username:      in.Username,
		Status:        status,
		LastMessageAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.clients[c.ID] = c
	s.byExternal[c.ExternalID] = c.ID
	return c, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, clientID string, p store.IdentityPatch) (domain.ClientIdentity, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClientIdentity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return domain.ClientIdentity{}, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	now := s.now()
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		c.LastName = *p.LastName
	}
	if p.Patronymic != nil {
		c.Patronymic = *p.Patronymic
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.ContactsConfirmed != nil {
		c.ContactsConfirmed = *p.ContactsConfirmed
	}
	if p.TouchLastMessage {
		c.LastMessageAt = &now
	}
	c.UpdatedAt = now
	s.clients[clientID] = c
	return c, nil
}

func (s *Store) AppendMessage(ctx context.Context, in store.MessageAppend) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[in.ClientID]; !ok {
		return domain.Message{}, fmt.Errorf("client %s: %w", in.ClientID, domain.ErrNotFound)
	}

	ids := s.byClient[in.ClientID]
	if in.Direction == domain.DirectionIncoming && in.ExternalMessageID != nil {
		for _, id := range ids {
			m := s.messages[id]
			if m.Direction == domain.DirectionIncoming && m.ExternalMessageID != nil && *m.ExternalMessageID == *in.ExternalMessageID {
				return domain.Message{}, fmt.Errorf("incoming message %d for client %s: %w", *in.ExternalMessageID, in.ClientID, domain.ErrConflict)
			}
		}
	}

	createdAt := s.now()
	if n := len(ids); n > 0 {
		if last := s.messages[ids[n-1]].CreatedAt; createdAt.Before(last) {
			createdAt = last
		}
	}
	s.seq++

	m := domain.Message{
		ID:                util.NewMessageID(),
		ClientID:          in.ClientID,
		AuthorID:          in.AuthorID,
		Direction:         in.Direction,
		Type:              in.Type,
		Content:           in.Content,
		Attachment:        in.Attachment,
		ExternalMessageID: in.ExternalMessageID,
		CreatedAt:         createdAt,
		Seq:               s.seq,
	}
	s.messages[m.ID] = m
	s.byClient[in.ClientID] = append(ids, m.ID)
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, clientID string, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[clientID]; !ok {
		return nil, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	ids := s.byClient[clientID]
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) SetExternalMessageID(ctx context.Context, messageID string, externalID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	m.ExternalMessageID = &externalID
	s.messages[messageID] = m
	return nil
}

func (s *Store) MarkRead(ctx context.Context, clientID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return 0, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	n := 0
	for _, id := range s.byClient[clientID] {
		m := s.messages[id]
		if m.Direction != domain.DirectionIncoming || m.IsRead {
			continue
		}
		readAt := at
		m.IsRead = true
		m.ReadAt = &readAt
		s.messages[id] = m
		n++
	}
	return n, nil
}

func (s *Store) CountUnread(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.Direction == domain.DirectionIncoming && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
