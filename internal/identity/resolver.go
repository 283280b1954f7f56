// Package identity maps Telegram users onto CRM client identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tgrelay/internal/domain"
	"tgrelay/internal/logging"
	"tgrelay/internal/observability"
	"tgrelay/internal/store"
)

// Profile is what Telegram tells us about the sender.
type Profile struct {
	ExternalID int64
	FirstName  string
	LastName   string
	Username   string
}

type Resolver struct {
	Store  store.ConversationStore
	Logger *slog.Logger
}

func NewResolver(s store.ConversationStore, logger *slog.Logger) *Resolver {
	return &Resolver{Store: s, Logger: logging.Component(logger, "identity")}
}

// Lookup returns the identity for an external id without creating one.
func (r *Resolver) Lookup(ctx context.Context, externalID int64) (domain.ClientIdentity, bool, error) {
	return r.Store.FindByExternalID(ctx, externalID)
}

// ResolveOrCreate returns the identity for p.ExternalID, creating a lead on first contact.
// A concurrent creator winning the unique constraint is not an error: the winner is re-read
// and returned with isNew=false.
func (r *Resolver) ResolveOrCreate(ctx context.Context, p Profile) (domain.ClientIdentity, bool, error) {
	c, found, err := r.Store.FindByExternalID(ctx, p.ExternalID)
	if err != nil {
		return domain.ClientIdentity{}, false, fmt.Errorf("lookup identity: %w", err)
	}
	if found {
		return c, false, nil
	}

	c, err = r.Store.CreateIdentity(ctx, store.IdentityCreate{
		ExternalID: p.ExternalID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Username:   p.Username,
		Status:     domain.StatusLead,
	})
	if err == nil {
		observability.Identities.WithLabelValues("created").Inc()
		r.Logger.Info("client identity created", "client_id", c.ID, "external_id", p.ExternalID)
		return c, true, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return domain.ClientIdentity{}, false, fmt.Errorf("create identity: %w", err)
	}

	observability.Identities.WithLabelValues("conflict").Inc()
	c, found, err = r.Store.FindByExternalID(ctx, p.ExternalID)
	if err != nil {
		return domain.ClientIdentity{}, false, fmt.Errorf("lookup identity after conflict: %w", err)
	}
	if !found {
		return domain.ClientIdentity{}, false, fmt.Errorf("identity for external_id %d vanished after conflict", p.ExternalID)
	}
	r.Logger.Debug("identity created concurrently, using winner", "client_id", c.ID, "external_id", p.ExternalID)
	return c, false, nil
}
