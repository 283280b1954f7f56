//go:build integration
// +build integration

package pg

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tgrelay/internal/domain"
	"tgrelay/internal/identity"
	"tgrelay/internal/store"
)

func TestCreateIdentityConflictMapsToErrConflict(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := s.CreateIdentity(ctx, store.IdentityCreate{ExternalID: 100, FirstName: "Ann"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.CreateIdentity(ctx, store.IdentityCreate{ExternalID: 100})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestConcurrentFirstContactCreatesOneIdentity(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	r := identity.NewResolver(s, nil)
	const n = 8
	ids := make([]string, n)
	var created int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, isNew, err := r.ResolveOrCreate(ctx, identity.Profile{ExternalID: 200, FirstName: "Ann"})
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = c.ID
			if isNew {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one creator, got %d", created)
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("resolver returned different identities: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestAppendAndListOrdering(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	c, err := s.CreateIdentity(ctx, store.IdentityCreate{ExternalID: 300})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendMessage(ctx, store.MessageAppend{
				ClientID: c.ID, Direction: domain.DirectionIncoming, Type: domain.TypeText, Content: "x",
			}); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs, err := s.ListMessages(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("message %d out of order", i)
		}
	}

	latest, err := s.ListMessages(ctx, c.ID, 5)
	if err != nil {
		t.Fatalf("list limit: %v", err)
	}
	if len(latest) != 5 || latest[4].ID != msgs[19].ID {
		t.Fatalf("limit did not return latest messages ascending")
	}
}

func TestUpdateIdentityAndReadState(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	c, _ := s.CreateIdentity(ctx, store.IdentityCreate{ExternalID: 400, FirstName: "Ann"})
	updated, err := s.UpdateIdentity(ctx, c.ID, store.IdentityPatch{
		Phone:             store.StringPtr("89991234567"),
		LastName:          store.StringPtr("Иванов"),
		ContactsConfirmed: store.BoolPtr(true),
		TouchLastMessage:  true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Phone != "89991234567" || updated.FirstName != "Ann" || !updated.ContactsConfirmed {
		t.Fatalf("unexpected identity after patch: %+v", updated)
	}

	in, _ := s.AppendMessage(ctx, store.MessageAppend{ClientID: c.ID, Direction: domain.DirectionIncoming, Type: domain.TypeText, Content: "hi"})
	out, _ := s.AppendMessage(ctx, store.MessageAppend{
		ClientID: c.ID, Direction: domain.DirectionOutgoing, Type: domain.TypeImage,
		Attachment: &domain.BlobRef{Bucket: "b", Key: "telegram/images/x.jpg", Filename: "x.jpg"},
	})
	if err := s.SetExternalMessageID(ctx, out.ID, 77); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	got, _ := s.GetMessage(ctx, out.ID)
	if got.Attachment == nil || got.Attachment.Key != "telegram/images/x.jpg" || !got.Delivered() {
		t.Fatalf("unexpected outgoing message: %+v", got)
	}

	if n, _ := s.CountUnread(ctx); n != 1 {
		t.Fatalf("expected 1 unread, got %d", n)
	}
	n, err := s.MarkRead(ctx, c.ID, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("mark read n=%d err=%v", n, err)
	}
	readBack, _ := s.GetMessage(ctx, in.ID)
	if !readBack.IsRead || readBack.ReadAt == nil {
		t.Fatalf("message not marked read")
	}
}

func TestAppendMessageDuplicateIncoming(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStore(t)
	defer cleanup()

	c, err := s.CreateIdentity(ctx, store.IdentityCreate{ExternalID: 300, FirstName: "Ann"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ext := int64(41)
	in := store.MessageAppend{
		ClientID: c.ID, Direction: domain.DirectionIncoming, Type: domain.TypeText,
		Content: "hi", ExternalMessageID: &ext,
	}
	if _, err := s.AppendMessage(ctx, in); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, in); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict on redelivery, got %v", err)
	}

	in.Direction = domain.DirectionOutgoing
	if _, err := s.AppendMessage(ctx, in); err != nil {
		t.Fatalf("outgoing with same external id: %v", err)
	}
}

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	dsn := os.Getenv("DB_DSN_TEST")
	if dsn == "" {
		t.Skip("DB_DSN_TEST not set")
	}

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}
	if _, err := admin.Exec(context.Background(), "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	dbDSN, err := withSearchPath(dsn, schema)
	if err != nil {
		admin.Close()
		t.Fatalf("build dsn: %v", err)
	}
	if err := RunMigrate(nil, dbDSN, "up", nil); err != nil {
		admin.Close()
		t.Fatalf("run migrations: %v", err)
	}
	db, err := NewPool(context.Background(), dbDSN, PoolOptions{})
	if err != nil {
		admin.Close()
		t.Fatalf("connect test db: %v", err)
	}

	cleanup := func() {
		db.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	}
	return New(db), cleanup
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts = opts + " -c search_path=" + schema
	} else {
		opts = "-c search_path=" + schema
	}
	q.Set("options", opts)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
