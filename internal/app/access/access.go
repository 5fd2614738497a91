// Package access owns the admin-identity set and the capability check run
// once at each service entry point.
package access

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/logger"
)

// Admins is the set of identities allowed to run admin operations.
type Admins struct {
	store domain.Store

	mu  sync.RWMutex
	set map[domain.Identity]struct{}
}

// New creates an empty admin set writing through store.
func New(store domain.Store) *Admins {
	return &Admins{store: store, set: make(map[domain.Identity]struct{})}
}

// Restore loads the committed admin set.
func (a *Admins) Restore(snap *domain.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range snap.Admins {
		a.set[id] = struct{}{}
	}
}

// Bootstrap seeds the admin set from configuration on first start. Once
// any admin exists it does nothing, so removals survive restarts. The last
// admin can never be removed, so a seeded set never empties again.
func (a *Admins) Bootstrap(ctx context.Context, ids ...domain.Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.set) > 0 {
		return nil
	}
	seen := make(map[domain.Identity]struct{}, len(ids))
	var add []domain.Identity
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			add = append(add, id)
		}
	}
	if len(add) == 0 {
		return nil
	}
	if err := domain.Commit(ctx, a.store, "bootstrap admins", &domain.Changeset{AdminsAdded: add}); err != nil {
		return err
	}
	for _, id := range add {
		a.set[id] = struct{}{}
		logger.InfoCtx(ctx, "admin bootstrapped", zap.String("identity", id.String()))
	}
	return nil
}

// IsAdmin reports whether id is in the admin set.
func (a *Admins) IsAdmin(id domain.Identity) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.set[id]
	return ok
}

// RequireAdmin fails with Unauthorized unless caller is an admin.
func (a *Admins) RequireAdmin(caller domain.Identity) error {
	if caller.IsZero() {
		return domain.Errorf(domain.KindUnauthorized, "caller identity required")
	}
	if !a.IsAdmin(caller) {
		return domain.Errorf(domain.KindUnauthorized, "%s is not an admin", caller)
	}
	return nil
}

// Add makes id an admin. Adding an existing admin is a no-op.
func (a *Admins) Add(ctx context.Context, id domain.Identity) error {
	if id.IsZero() || id.IsEscrowAccount() {
		return domain.Errorf(domain.KindInvalidInput, "invalid admin identity %q", id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.set[id]; ok {
		return nil
	}
	if err := domain.Commit(ctx, a.store, "add admin", &domain.Changeset{AdminsAdded: []domain.Identity{id}}); err != nil {
		return err
	}
	a.set[id] = struct{}{}
	return nil
}

// Remove revokes id. The last admin cannot be removed.
func (a *Admins) Remove(ctx context.Context, id domain.Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.set[id]; !ok {
		return domain.Errorf(domain.KindNotFound, "%s is not an admin", id)
	}
	if len(a.set) == 1 {
		return domain.Errorf(domain.KindInvalidState, "cannot remove the last admin")
	}
	if err := domain.Commit(ctx, a.store, "remove admin", &domain.Changeset{AdminsRemoved: []domain.Identity{id}}); err != nil {
		return err
	}
	delete(a.set, id)
	return nil
}

// List returns the admins in identity order.
func (a *Admins) List() []domain.Identity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Identity, 0, len(a.set))
	for id := range a.set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
