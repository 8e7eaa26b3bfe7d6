// Package memstore is the in-memory Store backend: a hash map plus a
// sorted key slice so [H-Q, H+Q] range scans don't require a full
// table scan. Grounded on the teacher's map-based approach generalised
// with the sorted-secondary-index idea spec §4.4 calls out explicitly
// for hash maps that aren't naturally ordered.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/triplescan/triplescan/internal/ferrors"
	"github.com/triplescan/triplescan/internal/store"
)

type posting struct {
	resourceID int32
	t1         int32
}

// Store is a single-process, in-memory Store. Safe for concurrent use:
// writers (Add/Delete/Flush*) take a write lock; Query takes a read
// lock, implementing spec §5's "single writer OR multiple readers"
// discipline.
type Store struct {
	mu sync.RWMutex

	postings map[uint64][]posting
	keys     []uint64 // sorted, kept in sync with postings' key set
	metadata map[int32]store.Metadata

	pendingAdd    []pendingPosting
	pendingDelete []pendingPosting
}

type pendingPosting struct {
	hash       uint64
	resourceID int32
	t1         int32
}

// New returns an empty memory store.
func New() *Store {
	return &Store{
		postings: make(map[uint64][]posting),
		metadata: make(map[int32]store.Metadata),
	}
}

func (s *Store) Add(hash uint64, resourceID int32, t1 int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAdd = append(s.pendingAdd, pendingPosting{hash, resourceID, t1})
}

func (s *Store) FlushStore(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled("memstore flush: " + err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pendingAdd {
		if _, ok := s.postings[p.hash]; !ok {
			s.insertKey(p.hash)
		}
		s.postings[p.hash] = append(s.postings[p.hash], posting{p.resourceID, p.t1})
	}
	s.pendingAdd = nil
	return nil
}

func (s *Store) Delete(hash uint64, resourceID int32, t1 int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDelete = append(s.pendingDelete, pendingPosting{hash, resourceID, t1})
}

func (s *Store) FlushDelete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ferrors.Cancelled("memstore flush: " + err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pendingDelete {
		list, ok := s.postings[p.hash]
		if !ok {
			continue
		}
		filtered := list[:0]
		for _, existing := range list {
			if existing.resourceID == p.resourceID && existing.t1 == p.t1 {
				continue
			}
			filtered = append(filtered, existing)
		}
		if len(filtered) == 0 {
			delete(s.postings, p.hash)
			s.removeKey(p.hash)
		} else {
			s.postings[p.hash] = filtered
		}
	}
	s.pendingDelete = nil
	return nil
}

func (s *Store) insertKey(k uint64) {
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= k })
	s.keys = append(s.keys, 0)
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = k
}

func (s *Store) removeKey(k uint64) {
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= k })
	if i < len(s.keys) && s.keys[i] == k {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
	}
}

func (s *Store) Query(ctx context.Context, hash uint64, queryRange uint64) ([]store.Posting, error) {
	if err := ctx.Err(); err != nil {
		return nil, ferrors.Cancelled("memstore query: " + err.Error())
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := subClamp(hash, queryRange)
	hi := addClamp(hash, queryRange)

	start := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= lo })

	var out []store.Posting
	for i := start; i < len(s.keys) && s.keys[i] <= hi; i++ {
		for _, p := range s.postings[s.keys[i]] {
			out = append(out, store.Posting{ResourceID: p.resourceID, T1: p.t1})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceID != out[j].ResourceID {
			return out[i].ResourceID < out[j].ResourceID
		}
		return out[i].T1 < out[j].T1
	})
	return out, nil
}

func subClamp(h, q uint64) uint64 {
	if q > h {
		return 0
	}
	return h - q
}

func addClamp(h, q uint64) uint64 {
	if h > ^uint64(0)-q {
		return ^uint64(0)
	}
	return h + q
}

func (s *Store) PutMetadata(ctx context.Context, m store.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[m.ResourceID] = m
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, resourceID int32) (store.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadata[resourceID]
	if !ok {
		return store.Metadata{}, ferrors.NotFound("resource metadata")
	}
	return m, nil
}

// DeleteMetadata removes a resource's metadata and cascades to every
// posting indexed under it, preserving "metadata exists iff >=1
// posting exists" (spec §3).
func (s *Store) DeleteMetadata(ctx context.Context, resourceID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, resourceID)
	s.removePostingsForResource(resourceID)
	return nil
}

func (s *Store) removePostingsForResource(resourceID int32) {
	for hash, list := range s.postings {
		filtered := list[:0]
		for _, p := range list {
			if p.resourceID == resourceID {
				continue
			}
			filtered = append(filtered, p)
		}
		if len(filtered) == 0 {
			delete(s.postings, hash)
			s.removeKey(hash)
		} else {
			s.postings[hash] = filtered
		}
	}
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postings = make(map[uint64][]posting)
	s.keys = nil
	s.metadata = make(map[int32]store.Metadata)
	s.pendingAdd = nil
	s.pendingDelete = nil
	return nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, list := range s.postings {
		total += len(list)
	}
	return store.Stats{
		DistinctHashes: len(s.postings),
		TotalPostings:  total,
		Resources:      len(s.metadata),
	}, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
