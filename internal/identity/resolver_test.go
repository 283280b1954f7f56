package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tgrelay/internal/domain"
	"tgrelay/internal/store"
	"tgrelay/internal/store/memory"
)

func TestResolveOrCreateNewClient(t *testing.T) {
	r := NewResolver(memory.New(), nil)
	c, isNew, err := r.ResolveOrCreate(context.Background(), Profile{ExternalID: 5, FirstName: "Ann", Username: "ann"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !isNew {
		t.Fatalf("expected new identity")
	}
	if c.Status != domain.StatusLead || c.Phone != "" || c.ContactsConfirmed || c.LastMessageAt == nil {
		t.Fatalf("unexpected new identity: %+v", c)
	}

	again, isNew, err := r.ResolveOrCreate(context.Background(), Profile{ExternalID: 5})
	if err != nil || isNew || again.ID != c.ID {
		t.Fatalf("second resolve: id=%s isNew=%v err=%v", again.ID, isNew, err)
	}
}

func TestResolveOrCreateConcurrentFirstContact(t *testing.T) {
	s := memory.New()
	r := NewResolver(s, nil)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[string]int{}
	created := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, isNew, err := r.ResolveOrCreate(context.Background(), Profile{ExternalID: 77})
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			mu.Lock()
			ids[c.ID]++
			if isNew {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("expected one identity, got %d", len(ids))
	}
	if created != 1 {
		t.Fatalf("expected exactly one creator, got %d", created)
	}
}

// racingStore loses the create race exactly once.
type racingStore struct {
	*memory.Store
	once sync.Once
}

func (s *racingStore) FindByExternalID(ctx context.Context, externalID int64) (domain.ClientIdentity, bool, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		if _, err := s.Store.CreateIdentity(ctx, store.IdentityCreate{ExternalID: externalID, FirstName: "winner"}); err != nil {
			return domain.ClientIdentity{}, false, err
		}
		return domain.ClientIdentity{}, false, nil
	}
	return s.Store.FindByExternalID(ctx, externalID)
}

func TestResolveOrCreateConflictReturnsWinner(t *testing.T) {
	s := &racingStore{Store: memory.New()}
	r := NewResolver(s, nil)

	c, isNew, err := r.ResolveOrCreate(context.Background(), Profile{ExternalID: 9, FirstName: "loser"})
	if err != nil {
		t.Fatalf("conflict must not surface: %v", err)
	}
	if isNew {
		t.Fatalf("loser must report isNew=false")
	}
	if c.FirstName != "winner" {
		t.Fatalf("expected winner's identity, got %+v", c)
	}
}

type failingStore struct {
	*memory.Store
}

func (failingStore) FindByExternalID(context.Context, int64) (domain.ClientIdentity, bool, error) {
	return domain.ClientIdentity{}, false, errors.New("db down")
}

func TestResolveOrCreateLookupError(t *testing.T) {
	r := NewResolver(failingStore{memory.New()}, nil)
	if _, _, err := r.ResolveOrCreate(context.Background(), Profile{ExternalID: 1}); err == nil {
		t.Fatalf("expected lookup error")
	}
}
