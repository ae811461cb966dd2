package snapshot

import (
	"context"
	"errors"
	"testing"

	"approval/api/internal/metadata"
	"approval/api/internal/store"
)

type fakeLookup struct {
	items    map[string]metadata.Item
	children map[string][]metadata.Item
	searches []metadata.SearchQuery
	err      error
}

func (f *fakeLookup) BatchGet(_ context.Context, ids []string) ([]metadata.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []metadata.Item
	for _, id := range ids {
		if item, ok := f.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeLookup) Search(_ context.Context, q metadata.SearchQuery) ([]metadata.Item, error) {
	f.searches = append(f.searches, q)
	return f.children[q.ParentPath], nil
}

func newProject() *fakeLookup {
	fileA := metadata.Item{ID: "fileA", Name: "a.txt", Type: metadata.TypeFile, ParentPath: "admin", ContainerCode: "proj", Size: 10, Owner: "admin", CreatedTime: "2024-03-01T10:00:00.123456"}
	folderB := metadata.Item{ID: "folderB", Name: "raw", Type: metadata.TypeFolder, ParentPath: "admin", ContainerCode: "proj"}
	fileC := metadata.Item{ID: "fileC", Name: "c.txt", Type: metadata.TypeFile, ParentPath: "admin.raw", ContainerCode: "proj", Size: 5}
	folderD := metadata.Item{ID: "folderD", Name: "deep", Type: metadata.TypeFolder, ParentPath: "admin.raw", ContainerCode: "proj"}
	fileE := metadata.Item{ID: "fileE", Name: "e.txt", Type: metadata.TypeFile, ParentPath: "admin.raw.deep", ContainerCode: "proj"}
	return &fakeLookup{
		items: map[string]metadata.Item{"fileA": fileA, "folderB": folderB, "fileC": fileC, "folderD": folderD},
		children: map[string][]metadata.Item{
			"admin.raw":      {fileC, folderD},
			"admin.raw.deep": {fileE},
		},
	}
}

func TestBuildWalksFolders(t *testing.T) {
	lookup := newProject()
	entries, err := NewBuilder(lookup).Build(context.Background(), []string{"fileA", "folderB", "fileA"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	parents := map[string]string{}
	for _, e := range entries {
		parents[e.Item.ID] = e.ParentID
	}
	want := map[string]string{"fileA": "", "folderB": "", "fileC": "folderB", "folderD": "folderB", "fileE": "folderD"}
	if len(parents) != len(want) || len(entries) != len(want) {
		t.Fatalf("unexpected entries %+v", entries)
	}
	for id, parent := range want {
		if parents[id] != parent {
			t.Fatalf("%s: parent %q, want %q", id, parents[id], parent)
		}
	}
	if len(lookup.searches) != 2 || lookup.searches[0].Recursive || lookup.searches[0].ContainerCode != "proj" {
		t.Fatalf("unexpected searches %+v", lookup.searches)
	}
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := NewBuilder(newProject()).Build(context.Background(), []string{"fileA", "ghost"})
	if !errors.Is(err, ErrRootNotFound) {
		t.Fatalf("expected ErrRootNotFound, got %v", err)
	}
}

func TestBuildLookupError(t *testing.T) {
	boom := errors.New("boom")
	lookup := newProject()
	lookup.err = boom
	if _, err := NewBuilder(lookup).Build(context.Background(), []string{"fileA"}); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestEntities(t *testing.T) {
	lookup := newProject()
	entries, err := NewBuilder(lookup).Build(context.Background(), []string{"fileA", "folderB"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rows := Entities(entries)
	files, folders := 0, 0
	for _, row := range rows {
		switch row.EntityType {
		case metadata.TypeFile:
			files++
			if row.ReviewStatus == nil || *row.ReviewStatus != store.ReviewPending || row.CopyStatus == nil || *row.CopyStatus != store.CopyPending {
				t.Fatalf("file %s should start pending, got %+v", row.EntityID, row)
			}
		case metadata.TypeFolder:
			folders++
			if row.ReviewStatus != nil || row.FileSize != nil {
				t.Fatalf("folder %s should carry no review state, got %+v", row.EntityID, row)
			}
		}
	}
	if files != 3 || folders != 2 {
		t.Fatalf("expected 3 files and 2 folders, got %d and %d", files, folders)
	}
	if rows[0].UploadedAt.Year() != 2024 || rows[0].UploadedBy == nil || *rows[0].UploadedBy != "admin" {
		t.Fatalf("unexpected root row %+v", rows[0])
	}
}
