package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/triplescan/triplescan/internal/config"
	"github.com/triplescan/triplescan/internal/store"
	"github.com/triplescan/triplescan/internal/store/memstore"
)

func TestResourceIDUsesDigitBasenameFastPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1234.wav")
	if err := os.WriteFile(path, []byte("anything"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	id, err := ResourceID(path)
	if err != nil {
		t.Fatalf("ResourceID: %v", err)
	}
	if id != 1234 {
		t.Fatalf("expected resource id 1234 from digit basename, got %d", id)
	}
}

func TestResourceIDFallsBackToContentHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "my-song.wav")
	content := make([]byte, 200*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	id, err := ResourceID(path)
	if err != nil {
		t.Fatalf("ResourceID: %v", err)
	}
	if id < resourceIDFloor {
		t.Fatalf("expected content-hashed id to fall in the upper range, got %d", id)
	}
}

func TestResourceIDIsStableForSameContent(t *testing.T) {
	dir := t.TempDir()
	content := []byte("some audio-shaped bytes, repeated enough to matter")
	pathA := filepath.Join(dir, "track-a.wav")
	pathB := filepath.Join(dir, "track-b.wav")
	if err := os.WriteFile(pathA, content, 0o644); err != nil {
		t.Fatalf("writing fixture a: %v", err)
	}
	if err := os.WriteFile(pathB, content, 0o644); err != nil {
		t.Fatalf("writing fixture b: %v", err)
	}

	idA, err := ResourceID(pathA)
	if err != nil {
		t.Fatalf("ResourceID a: %v", err)
	}
	idB, err := ResourceID(pathB)
	if err != nil {
		t.Fatalf("ResourceID b: %v", err)
	}
	if idA != idB {
		t.Fatalf("expected identical content to hash to the same resource id, got %d != %d", idA, idB)
	}
}

func TestOpenStoreMemoryBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"

	s, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	if _, ok := s.(*memstore.Store); !ok {
		t.Fatalf("expected a *memstore.Store, got %T", s)
	}
}

func TestOpenStoreFileBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "file"
	cfg.Storage.FileDataDir = t.TempDir()

	s, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "s3"

	if _, err := OpenStore(cfg); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}

func TestDeleteCascadesToPostings(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	if err := s.PutMetadata(ctx, store.Metadata{ResourceID: 5, Path: "x.wav"}); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}
	s.Add(1000, 5, 0)
	if err := s.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	e := New(config.Default(), s)
	if err := e.Delete(ctx, 5); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.GetMetadata(ctx, 5); err == nil {
		t.Fatal("expected metadata to be gone after Delete")
	}

	postings, err := s.Query(ctx, 1000, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(postings) != 0 {
		t.Fatalf("expected Delete to cascade and remove the resource's postings, got %d", len(postings))
	}
}

func TestDeleteRequiresExistingResource(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := New(config.Default(), s)

	if err := e.Delete(ctx, 999); err == nil {
		t.Fatal("expected an error deleting a resource with no metadata")
	}
}

func TestStatsDelegatesToStore(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	s.Add(1000, 1, 0)
	if err := s.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	e := New(config.Default(), s)
	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DistinctHashes != 1 {
		t.Fatalf("expected stats to reflect the underlying store, got %+v", stats)
	}
}
