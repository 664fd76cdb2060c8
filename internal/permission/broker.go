// Package permission implements the Permission Broker: a request/approval
// state machine scoped per capability and per session identity, that every
// privileged tool invocation traverses.
package permission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/storage"
)

// Broker is the Permission Broker. It is safe for concurrent use by the
// runtime worker, the public API handlers, and an audit-log listener.
type Broker struct {
	store storage.Adapter
	mu    sync.Mutex
	seq   uint64
}

// New constructs a Broker backed by the given Storage Adapter.
func New(store storage.Adapter) *Broker {
	return &Broker{store: store}
}

func (b *Broker) nextID() string {
	n := atomic.AddUint64(&b.seq, 1)
	return "p_" + time.Now().UTC().Format("20060102T150405") + "_" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Request creates a pending grant with a fresh opaque id. scope=session MAY
// carry a duration which is converted to an absolute expires_at.
func (b *Broker) Request(ctx context.Context, tool, detail string, scope models.GrantScope, identity, capability string, durationMin int) (*models.Grant, error) {
	g := &models.Grant{
		ID:         b.nextID(),
		Tool:       tool,
		Capability: capability,
		Detail:     detail,
		Scope:      scope,
		Status:     models.StatusPending,
		Identity:   identity,
		CreatedAt:  time.Now(),
	}
	if scope == models.ScopeSession && durationMin > 0 {
		exp := g.CreatedAt.Add(time.Duration(durationMin) * time.Minute)
		g.ExpiresAt = &exp
	}
	if err := b.store.CreatePermission(ctx, g); err != nil {
		return nil, brainerr.New(brainerr.KindInternal, "create permission: %v", err)
	}
	return g, nil
}

// Approve idempotently transitions pending -> approved. A no-op (and error)
// if the grant is already terminal. Repeated Approve on an approved grant
// is itself a no-op, not an error.
func (b *Broker) Approve(ctx context.Context, id string) (*models.Grant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transition(ctx, id, func(g *models.Grant) error {
		if g.Status == models.StatusApproved {
			return nil
		}
		if g.Status.IsTerminal() {
			return brainerr.New(brainerr.KindBadRequest, "grant %s is already terminal (%s)", id, g.Status)
		}
		g.Status = models.StatusApproved
		return nil
	})
}

// Deny idempotently transitions pending -> denied.
func (b *Broker) Deny(ctx context.Context, id string) (*models.Grant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transition(ctx, id, func(g *models.Grant) error {
		if g.Status == models.StatusDenied {
			return nil
		}
		if g.Status.IsTerminal() {
			return brainerr.New(brainerr.KindBadRequest, "grant %s is already terminal (%s)", id, g.Status)
		}
		g.Status = models.StatusDenied
		return nil
	})
}

func (b *Broker) transition(ctx context.Context, id string, mutate func(*models.Grant) error) (*models.Grant, error) {
	g, err := b.store.GetPermission(ctx, id)
	if err != nil {
		return nil, brainerr.New(brainerr.KindNotFound, "grant %s not found", id)
	}
	g = expireIfDue(g)
	if err := mutate(g); err != nil {
		// Still persist any lazy-expiry side effect applied above.
		_ = b.store.UpdatePermission(ctx, g)
		return nil, err
	}
	if err := b.store.UpdatePermission(ctx, g); err != nil {
		return nil, brainerr.New(brainerr.KindInternal, "update permission: %v", err)
	}
	return g, nil
}

// Get returns a grant, lazily transitioning it to expired first if its
// expires_at has passed.
func (b *Broker) Get(ctx context.Context, id string) (*models.Grant, error) {
	g, err := b.store.GetPermission(ctx, id)
	if err != nil {
		return nil, nil
	}
	before := g.Status
	g = expireIfDue(g)
	if g.Status != before {
		_ = b.store.UpdatePermission(ctx, g)
	}
	return g, nil
}

// expireIfDue applies lazy expiry: an approved grant whose expires_at has
// passed is returned (and persisted) as expired.
func expireIfDue(g *models.Grant) *models.Grant {
	if g.Status == models.StatusApproved && g.ExpiresAt != nil && time.Now().After(*g.ExpiresAt) {
		g.Status = models.StatusExpired
	}
	return g
}

// ConsumeOnce transitions approved -> used after a successful privileged
// use, but only if scope == once.
func (b *Broker) ConsumeOnce(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.transition(ctx, id, func(g *models.Grant) error {
		if g.Scope != models.ScopeOnce {
			return nil
		}
		if g.Status != models.StatusApproved {
			return brainerr.New(brainerr.KindBadRequest, "grant %s is not approved", id)
		}
		g.Status = models.StatusUsed
		return nil
	})
	return err
}

// Validate checks that id names an approved grant for expectedTool,
// returning a typed brainerr.Error on any failure.
func (b *Broker) Validate(ctx context.Context, id, expectedTool string) (*models.Grant, error) {
	if id == "" {
		return nil, brainerr.New(brainerr.KindPermissionRequired, "permission_id is required")
	}
	g, err := b.store.GetPermission(ctx, id)
	if err != nil {
		return nil, brainerr.New(brainerr.KindPermissionRequired, "grant %s not found", id)
	}
	if g.Tool != expectedTool {
		return nil, brainerr.New(brainerr.KindInvalidPermission, "invalid_permission: grant %s is for tool %s, not %s", id, g.Tool, expectedTool)
	}
	g = expireIfDue(g)
	if g.Status == models.StatusExpired {
		_ = b.store.UpdatePermission(ctx, g)
		return g, brainerr.New(brainerr.KindPermissionExpired, "grant %s has expired", id)
	}
	if g.Status != models.StatusApproved {
		return g, brainerr.New(brainerr.KindPermissionNotApproved, "permission_not_approved: grant %s is not approved (status=%s)", id, g.Status)
	}
	return g, nil
}

// ListPending returns all grants currently awaiting a decision.
func (b *Broker) ListPending(ctx context.Context) ([]*models.Grant, error) {
	return b.store.ListPendingPermissions(ctx)
}
