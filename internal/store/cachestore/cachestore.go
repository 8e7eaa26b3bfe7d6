// Package cachestore composes a kvstore of record with a filestore
// acting as a local read cache, for the "cache_to_file" / "use_cached"
// deployment spec §4.4 and §6 describe: slow central storage fronted
// by a fast local mirror, refreshed on writes and consulted first on
// reads. Grounded on the teacher's UseCached config flag and on
// zfogg-sidechain's redis.go wrapper shape (a cache client layered in
// front of a primary store, same method surface as the thing it wraps).
package cachestore

import (
	"context"

	"github.com/triplescan/triplescan/internal/ferrors"
	"github.com/triplescan/triplescan/internal/logging"
	"github.com/triplescan/triplescan/internal/store"
	"go.uber.org/zap"
)

// Store fronts a primary Store with a local cache Store. Writes go to
// both: posting adds, deletes and flushes go to the cache first, while
// PutMetadata, DeleteMetadata and Clear go to the primary first. Reads
// are served from the cache and only fall through to the primary on a
// cache miss, then backfill the cache.
type Store struct {
	primary store.Store
	cache   store.Store
}

// New composes primary (typically kvstore) with cache (typically
// filestore) into one Store.
func New(primary, cache store.Store) *Store {
	return &Store{primary: primary, cache: cache}
}

func (s *Store) Add(hash uint64, resourceID int32, t1 int32) {
	s.cache.Add(hash, resourceID, t1)
	s.primary.Add(hash, resourceID, t1)
}

func (s *Store) FlushStore(ctx context.Context) error {
	if err := s.cache.FlushStore(ctx); err != nil {
		return err
	}
	return s.primary.FlushStore(ctx)
}

func (s *Store) Delete(hash uint64, resourceID int32, t1 int32) {
	s.cache.Delete(hash, resourceID, t1)
	s.primary.Delete(hash, resourceID, t1)
}

func (s *Store) FlushDelete(ctx context.Context) error {
	if err := s.cache.FlushDelete(ctx); err != nil {
		return err
	}
	return s.primary.FlushDelete(ctx)
}

// Query serves from the cache when it holds anything for this range,
// and otherwise queries the primary and backfills the cache so the
// next lookup in this neighbourhood is local.
func (s *Store) Query(ctx context.Context, hash uint64, queryRange uint64) ([]store.Posting, error) {
	cached, err := s.cache.Query(ctx, hash, queryRange)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}

	result, err := s.primary.Query(ctx, hash, queryRange)
	if err != nil {
		return nil, err
	}

	for _, p := range result {
		s.cache.Add(hash, p.ResourceID, p.T1)
	}
	if err := s.cache.FlushStore(ctx); err != nil {
		logging.Log.Warn("cachestore: failed to backfill cache", zap.Error(err))
	}
	return result, nil
}

func (s *Store) PutMetadata(ctx context.Context, m store.Metadata) error {
	if err := s.primary.PutMetadata(ctx, m); err != nil {
		return err
	}
	return s.cache.PutMetadata(ctx, m)
}

func (s *Store) GetMetadata(ctx context.Context, resourceID int32) (store.Metadata, error) {
	m, err := s.cache.GetMetadata(ctx, resourceID)
	if err == nil {
		return m, nil
	}
	m, err = s.primary.GetMetadata(ctx, resourceID)
	if err != nil {
		return store.Metadata{}, err
	}
	if cerr := s.cache.PutMetadata(ctx, m); cerr != nil {
		logging.Log.Warn("cachestore: failed to backfill metadata cache", zap.Error(cerr))
	}
	return m, nil
}

func (s *Store) DeleteMetadata(ctx context.Context, resourceID int32) error {
	if err := s.primary.DeleteMetadata(ctx, resourceID); err != nil {
		return err
	}
	return s.cache.DeleteMetadata(ctx, resourceID)
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.primary.Clear(ctx); err != nil {
		return err
	}
	return s.cache.Clear(ctx)
}

// Stats reports the primary's view: the cache is a partial mirror and
// its counts would understate what's actually stored.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	stats, err := s.primary.Stats(ctx)
	if err != nil {
		return store.Stats{}, ferrors.StorageIO("reading cachestore stats", err)
	}
	return stats, nil
}

func (s *Store) Close() error {
	cacheErr := s.cache.Close()
	primaryErr := s.primary.Close()
	if primaryErr != nil {
		return primaryErr
	}
	return cacheErr
}

var _ store.Store = (*Store)(nil)
