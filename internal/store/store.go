// Package store defines the abstract index-store contract of spec
// §4.4: a hash -> posting-list map plus a resource-id -> metadata
// table, satisfied by four backends (memstore, kvstore, filestore,
// cachestore). Grounded on the teacher's internal/database.Database
// interface (one interface, swappable implementations chosen by
// config) and on iamNilotpal-ignite's Bitcask-style directory/segment
// split for the on-disk shape.
package store

import "context"

// Posting is one (resource_id, t1) pair associated with a hash.
type Posting struct {
	ResourceID int32
	T1         int32
}

// Metadata describes a stored resource.
type Metadata struct {
	ResourceID      int32
	Path            string
	DurationSeconds float32
	NumFingerprints int32
}

// PrintsPerSecond implements spec §3's derived metadata field.
func (m Metadata) PrintsPerSecond() float64 {
	if m.DurationSeconds <= 0 {
		return 0
	}
	return float64(m.NumFingerprints) / float64(m.DurationSeconds)
}

// Stats summarises a store's current contents.
type Stats struct {
	DistinctHashes int
	TotalPostings  int
	Resources      int
}

// Store is the capability set every backend implements: add, delete,
// range-query by hash neighbourhood, flush, and metadata management.
type Store interface {
	// Add enqueues a posting for durable write on the next FlushStore.
	Add(hash uint64, resourceID int32, t1 int32)
	// FlushStore commits all postings enqueued since the last flush.
	FlushStore(ctx context.Context) error

	// Delete enqueues a posting for removal on the next FlushDelete.
	Delete(hash uint64, resourceID int32, t1 int32)
	// FlushDelete commits all deletions enqueued since the last flush.
	FlushDelete(ctx context.Context) error

	// Query returns every posting recorded under a hash within
	// queryRange of hash (inclusive), i.e. all H' with |H'-hash| <= queryRange.
	// Unknown hashes return an empty, nil-error result (spec §7).
	Query(ctx context.Context, hash uint64, queryRange uint64) ([]Posting, error)

	PutMetadata(ctx context.Context, m Metadata) error
	GetMetadata(ctx context.Context, resourceID int32) (Metadata, error)
	// DeleteMetadata removes a resource's metadata and cascades to every
	// posting recorded under it, so "metadata exists iff >=1 posting
	// exists" (spec §3) holds across every backend after the call returns.
	DeleteMetadata(ctx context.Context, resourceID int32) error

	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)

	// Close releases file/connection handles. It does not flush: postings
	// enqueued with Add or Delete but not yet flushed are discarded. It
	// must be safe to call on every exit path (spec §5).
	Close() error
}
