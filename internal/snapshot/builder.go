// Package snapshot captures the entity tree under a set of selected roots at
// submission time.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"approval/api/internal/metadata"
	"approval/api/internal/store"
)

var ErrRootNotFound = errors.New("entity not found")

type Lookup interface {
	BatchGet(ctx context.Context, ids []string) ([]metadata.Item, error)
	Search(ctx context.Context, q metadata.SearchQuery) ([]metadata.Item, error)
}

// Entry is one captured entity. ParentID is empty for selected roots.
type Entry struct {
	Item     metadata.Item
	ParentID string
}

type Builder struct {
	lookup Lookup
}

func NewBuilder(lookup Lookup) *Builder {
	return &Builder{lookup: lookup}
}

// Build resolves the roots and walks every selected folder breadth first,
// recording each descendant against its immediate parent. Every root must
// exist; each entity appears once.
func (b *Builder) Build(ctx context.Context, rootIDs []string) ([]Entry, error) {
	rootIDs = dedupe(rootIDs)
	if len(rootIDs) == 0 {
		return nil, nil
	}
	items, err := b.lookup.BatchGet(ctx, rootIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup roots: %w", err)
	}
	byID := make(map[string]metadata.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	seen := make(map[string]struct{})
	entries := make([]Entry, 0, len(rootIDs))
	var queue []metadata.Item
	for _, id := range rootIDs {
		item, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, id)
		}
		seen[id] = struct{}{}
		entries = append(entries, Entry{Item: item})
		if item.IsFolder() {
			queue = append(queue, item)
		}
	}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		children, err := b.lookup.Search(ctx, metadata.SearchQuery{
			ContainerCode: parent.ContainerCode,
			Zone:          parent.Zone,
			ParentPath:    parent.Path(),
		})
		if err != nil {
			return nil, fmt.Errorf("list children of %s: %w", parent.ID, err)
		}
		for _, child := range children {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			entries = append(entries, Entry{Item: child, ParentID: parent.ID})
			if child.IsFolder() {
				queue = append(queue, child)
			}
		}
	}
	return entries, nil
}

// Entities converts captured entries into rows for storage. Files start with
// pending review and copy status; folders carry neither.
func Entities(entries []Entry) []store.Entity {
	out := make([]store.Entity, 0, len(entries))
	for _, e := range entries {
		entity := store.Entity{
			EntityID:   e.Item.ID,
			EntityType: e.Item.Type,
			Name:       e.Item.Name,
			UploadedBy: optional(e.Item.Owner),
			UploadedAt: parseTime(e.Item.CreatedTime),
			DcmID:      optional(e.Item.DcmID),
			ParentID:   optional(e.ParentID),
		}
		if !e.Item.IsFolder() {
			entity.EntityType = metadata.TypeFile
			entity.ReviewStatus = optional(store.ReviewPending)
			entity.CopyStatus = optional(store.CopyPending)
			size := e.Item.Size
			entity.FileSize = &size
		}
		out = append(out, entity)
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
