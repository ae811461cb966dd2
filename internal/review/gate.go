package review

import (
	"context"
	"fmt"

	"approval/api/internal/metadata"
)

type PendingSource interface {
	PendingFileIDs(ctx context.Context, requestID string) ([]string, error)
}

type ArchiveLookup interface {
	BatchGet(ctx context.Context, ids []string) ([]metadata.Item, error)
}

// Blockers lists the pending files that still exist in the project and so
// prevent a request from completing.
type Blockers struct {
	PendingEntities []string `json:"pending_entities"`
	PendingCount    int      `json:"pending_count"`
}

func (b Blockers) Empty() bool {
	return b.PendingCount == 0
}

// Message is the user-facing reason a completion was refused.
func (b Blockers) Message() string {
	return fmt.Sprintf("%d pending files in request", b.PendingCount)
}

// Gate decides whether a request may be marked complete.
type Gate struct {
	pending PendingSource
	lookup  ArchiveLookup
}

func NewGate(pending PendingSource, lookup ArchiveLookup) *Gate {
	return &Gate{pending: pending, lookup: lookup}
}

// Check returns the pending files that block completion. Files the metadata
// service reports as archived no longer block; files it does not return at all
// are kept as blockers.
func (g *Gate) Check(ctx context.Context, requestID string) (Blockers, error) {
	ids, err := g.pending.PendingFileIDs(ctx, requestID)
	if err != nil {
		return Blockers{}, err
	}
	if len(ids) == 0 {
		return Blockers{PendingEntities: []string{}}, nil
	}

	items, err := g.lookup.BatchGet(ctx, ids)
	if err != nil {
		return Blockers{}, fmt.Errorf("lookup pending files: %w", err)
	}
	archived := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.Archived {
			archived[item.ID] = struct{}{}
		}
	}

	blocking := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, gone := archived[id]; gone {
			continue
		}
		blocking = append(blocking, id)
	}
	return Blockers{PendingEntities: blocking, PendingCount: len(blocking)}, nil
}
