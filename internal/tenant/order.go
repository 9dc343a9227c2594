package tenant

import (
	"context"

	"golang.org/x/sync/errgroup"

	"site-scheduler/backend/internal/membership/domain"
)

// maxParallelWrites caps concurrent display_order updates.
const maxParallelWrites = 8

// writeOrder assigns display_order = index+1. Rows are disjoint so writes run in parallel.
func writeOrder(ctx context.Context, store MembershipStore, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWrites)
	for i, id := range ids {
		g.Go(func() error {
			return store.UpdateDisplayOrder(gctx, id, i+1)
		})
	}
	return g.Wait()
}

// reorder returns copies of ms with DisplayOrder set from ids. Memberships not in ids keep their order.
func reorder(ms []*domain.Membership, ids []string) []*domain.Membership {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i + 1
	}
	out := make([]*domain.Membership, len(ms))
	for i, m := range ms {
		cp := *m
		if p, ok := pos[m.ID]; ok {
			cp.DisplayOrder = p
		}
		out[i] = &cp
	}
	return out
}
