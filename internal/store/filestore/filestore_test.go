package filestore

import (
	"context"
	"testing"

	"github.com/triplescan/triplescan/internal/store"
)

func TestAddQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Add(1000, 1, 5)
	s.Add(1000, 2, 7)
	if err := s.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	got, err := s.Query(ctx, 1000, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(got))
	}
}

func TestLogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Add(1000, 1, 5)
	if err := s1.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}
	if err := s1.PutMetadata(ctx, store.Metadata{ResourceID: 1, Path: "song.wav", DurationSeconds: 30, NumFingerprints: 100}); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Query(ctx, 1000, 0)
	if err != nil {
		t.Fatalf("Query after reopen: %v", err)
	}
	if len(got) != 1 || got[0].ResourceID != 1 {
		t.Fatalf("expected replayed posting, got %+v", got)
	}

	meta, err := s2.GetMetadata(ctx, 1)
	if err != nil {
		t.Fatalf("GetMetadata after reopen: %v", err)
	}
	if meta.Path != "song.wav" {
		t.Fatalf("expected replayed metadata, got %+v", meta)
	}
}

func TestDeleteTombstoneSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Add(1000, 1, 5)
	s1.Add(1000, 2, 7)
	if err := s1.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}
	s1.Delete(1000, 1, 5)
	if err := s1.FlushDelete(ctx); err != nil {
		t.Fatalf("FlushDelete: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Query(ctx, 1000, 0)
	if err != nil {
		t.Fatalf("Query after reopen: %v", err)
	}
	if len(got) != 1 || got[0].ResourceID != 2 {
		t.Fatalf("expected only resource 2 to survive the tombstone, got %+v", got)
	}
}

func TestDeleteMetadataCascadesPostings(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Add(1000, 1, 5)
	s.Add(1000, 2, 7)
	if err := s.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}
	if err := s.PutMetadata(ctx, store.Metadata{ResourceID: 1, Path: "a.wav"}); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}

	if err := s.DeleteMetadata(ctx, 1); err != nil {
		t.Fatalf("DeleteMetadata: %v", err)
	}

	got, err := s.Query(ctx, 1000, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ResourceID != 2 {
		t.Fatalf("expected only resource 2's posting to remain, got %+v", got)
	}
}

func TestDeleteMetadataCascadeSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Add(1000, 1, 5)
	s1.Add(1000, 2, 7)
	if err := s1.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}
	if err := s1.PutMetadata(ctx, store.Metadata{ResourceID: 1, Path: "a.wav"}); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}
	if err := s1.DeleteMetadata(ctx, 1); err != nil {
		t.Fatalf("DeleteMetadata: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Query(ctx, 1000, 0)
	if err != nil {
		t.Fatalf("Query after reopen: %v", err)
	}
	if len(got) != 1 || got[0].ResourceID != 2 {
		t.Fatalf("expected the cascade tombstone to survive reopen, got %+v", got)
	}
	if _, err := s2.GetMetadata(ctx, 1); err == nil {
		t.Fatal("expected resource 1's metadata to stay deleted after reopen")
	}
}

func TestClearEmptiesLogAndMetadata(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Add(1000, 1, 5)
	if err := s.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := s.Query(ctx, 1000, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty store after Clear, got %d postings", len(got))
	}
}

func TestStatsReflectsContents(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Add(1000, 1, 5)
	s.Add(2000, 2, 7)
	if err := s.FlushStore(ctx); err != nil {
		t.Fatalf("FlushStore: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DistinctHashes != 2 || stats.TotalPostings != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
