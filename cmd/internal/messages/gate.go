package messages

import (
	"context"
	"time"
)

// Gate is the single write path into the store. It turns deltas into
// idempotent upserts keyed by (platform, channel, message) and never talks
// to the dispatcher; callers decide what counts as a live mutation.
type Gate struct {
	store Store
	now   func() time.Time
}

func NewGate(store Store) *Gate {
	return &Gate{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert writes deltas. Missing UpdatedAt values are stamped with the
// current time; errors from the store are returned unchanged.
func (g *Gate) Upsert(ctx context.Context, deltas ...MessageDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	now := g.now()
	for i := range deltas {
		if deltas[i].UpdatedAt.IsZero() {
			deltas[i].UpdatedAt = now
		}
	}
	return g.store.Upsert(ctx, deltas)
}

// Patch applies a point update. When no row matched and fallback is a
// complete key, a minimal row carrying the patch is created instead, so an
// update or delete that overtakes its create is not lost.
func (g *Gate) Patch(ctx context.Context, f Filter, p Patch, fallback Key) (created bool, err error) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = g.now()
	}
	n, err := g.store.Patch(ctx, f, p)
	if err != nil || n > 0 || !fallback.Valid() {
		return false, err
	}

	d := MessageDelta{Key: fallback, Content: p.Content, UpdatedAt: p.UpdatedAt}
	if p.Deleted {
		d.Deleted = ptr(true)
	}
	if p.Edited {
		d.Edited = ptr(true)
	}
	if err := g.store.Upsert(ctx, []MessageDelta{d}); err != nil {
		return false, err
	}
	return true, nil
}
