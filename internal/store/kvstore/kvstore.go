// Package kvstore is the SQL-backed Store implementation: postings and
// metadata live in two tables reachable over database/sql, driven by
// github.com/lib/pq (Postgres) or github.com/go-sql-driver/mysql as the teacher's
// internal/database layer drives its SQL backend, generalised from a
// single hardcoded schema to the Store interface's hash/posting shape.
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/triplescan/triplescan/internal/ferrors"
	"github.com/triplescan/triplescan/internal/logging"
	"github.com/triplescan/triplescan/internal/store"
	"go.uber.org/zap"
)

// Store is a SQL-backed Store, postgres or mysql, selected by driver
// name at Open time. Writes are batched client-side and committed as a
// single transaction on FlushStore/FlushDelete, matching the teacher's
// InsertFingerprints batching.
type Store struct {
	db     *sql.DB
	driver string // "postgres" | "mysql"

	mu            sync.Mutex
	pendingAdd    []pendingPosting
	pendingDelete []pendingPosting
}

type pendingPosting struct {
	hash       uint64
	resourceID int32
	t1         int32
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS postings (
	hash        BIGINT NOT NULL,
	resource_id INTEGER NOT NULL,
	t1          INTEGER NOT NULL,
	PRIMARY KEY (hash, resource_id, t1)
);
CREATE INDEX IF NOT EXISTS postings_hash_idx ON postings (hash);

CREATE TABLE IF NOT EXISTS resources (
	resource_id      INTEGER PRIMARY KEY,
	path             TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	num_fingerprints INTEGER NOT NULL
);
`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS postings (
	hash        BIGINT NOT NULL,
	resource_id INTEGER NOT NULL,
	t1          INTEGER NOT NULL,
	PRIMARY KEY (hash, resource_id, t1),
	KEY postings_hash_idx (hash)
);

CREATE TABLE IF NOT EXISTS resources (
	resource_id      INTEGER PRIMARY KEY,
	path             TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	num_fingerprints INTEGER NOT NULL
);
`

// Open connects to a postgres or mysql database at dataSource (driver
// must be "postgres" or "mysql") and ensures the schema exists, the way
// the teacher's Database.Setup does at startup.
func Open(driver, dataSource string) (*Store, error) {
	var schema string
	switch driver {
	case "postgres":
		schema = postgresSchema
	case "mysql":
		schema = mysqlSchema
	default:
		return nil, ferrors.Config("kvstore: unsupported driver "+driver, nil)
	}

	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, ferrors.StorageIO("opening kv store connection", err)
	}
	if err := db.Ping(); err != nil {
		return nil, ferrors.StorageIO("connecting to kv store", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, ferrors.StorageIO("creating kv store schema", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// rebind rewrites a query written with postgres-style $1, $2, ...
// placeholders into mysql's positional ? form when needed.
func (s *Store) rebind(query string) string {
	if s.driver != "mysql" {
		return query
	}
	for n := 1; strings.Contains(query, fmt.Sprintf("$%d", n)); n++ {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", n), "?")
	}
	return query
}

func (s *Store) Add(hash uint64, resourceID int32, t1 int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAdd = append(s.pendingAdd, pendingPosting{hash, resourceID, t1})
}

func (s *Store) FlushStore(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pendingAdd
	s.pendingAdd = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.StorageIO("beginning kv store transaction", err)
	}

	insert := `INSERT INTO postings (hash, resource_id, t1) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`
	if s.driver == "mysql" {
		insert = `INSERT IGNORE INTO postings (hash, resource_id, t1) VALUES ($1, $2, $3)`
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(insert))
	if err != nil {
		tx.Rollback()
		return ferrors.StorageIO("preparing kv store insert", err)
	}
	defer stmt.Close()

	for _, p := range batch {
		if _, err := stmt.ExecContext(ctx, int64(p.hash), p.resourceID, p.t1); err != nil {
			tx.Rollback()
			return ferrors.StorageIO("inserting posting", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ferrors.StorageIO("committing kv store transaction", err)
	}
	logging.Log.Debug("kvstore flush", zap.Int("postings", len(batch)))
	return nil
}

func (s *Store) Delete(hash uint64, resourceID int32, t1 int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDelete = append(s.pendingDelete, pendingPosting{hash, resourceID, t1})
}

func (s *Store) FlushDelete(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pendingDelete
	s.pendingDelete = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.StorageIO("beginning kv store transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		s.rebind(`DELETE FROM postings WHERE hash = $1 AND resource_id = $2 AND t1 = $3`))
	if err != nil {
		tx.Rollback()
		return ferrors.StorageIO("preparing kv store delete", err)
	}
	defer stmt.Close()

	for _, p := range batch {
		if _, err := stmt.ExecContext(ctx, int64(p.hash), p.resourceID, p.t1); err != nil {
			tx.Rollback()
			return ferrors.StorageIO("deleting posting", err)
		}
	}

	return tx.Commit()
}

// Query scans postings whose hash falls within [hash-queryRange,
// hash+queryRange], the composite-key range scan spec §4.4 calls for.
func (s *Store) Query(ctx context.Context, hash uint64, queryRange uint64) ([]store.Posting, error) {
	lo := int64(subClamp(hash, queryRange))
	hi := int64(addClamp(hash, queryRange))

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT resource_id, t1 FROM postings WHERE hash BETWEEN $1 AND $2
		 ORDER BY resource_id, t1`), lo, hi)
	if err != nil {
		return nil, ferrors.StorageIO("querying postings", err)
	}
	defer rows.Close()

	var out []store.Posting
	for rows.Next() {
		var p store.Posting
		if err := rows.Scan(&p.ResourceID, &p.T1); err != nil {
			return nil, ferrors.StorageCorrupt("scanning posting row: " + err.Error())
		}
		out = append(out, p)
	}
	return out, rows.Err()
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
	upsert := `INSERT INTO resources (resource_id, path, duration_seconds, num_fingerprints)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (resource_id) DO UPDATE SET
		   path = EXCLUDED.path,
		   duration_seconds = EXCLUDED.duration_seconds,
		   num_fingerprints = EXCLUDED.num_fingerprints`
	if s.driver == "mysql" {
		upsert = `INSERT INTO resources (resource_id, path, duration_seconds, num_fingerprints)
		 VALUES ($1, $2, $3, $4)
		 ON DUPLICATE KEY UPDATE
		   path = VALUES(path),
		   duration_seconds = VALUES(duration_seconds),
		   num_fingerprints = VALUES(num_fingerprints)`
	}
	_, err := s.db.ExecContext(ctx, s.rebind(upsert),
		m.ResourceID, m.Path, m.DurationSeconds, m.NumFingerprints)
	if err != nil {
		return ferrors.StorageIO("writing resource metadata", err)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, resourceID int32) (store.Metadata, error) {
	var m store.Metadata
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT resource_id, path, duration_seconds, num_fingerprints
		 FROM resources WHERE resource_id = $1`), resourceID)
	err := row.Scan(&m.ResourceID, &m.Path, &m.DurationSeconds, &m.NumFingerprints)
	if err == sql.ErrNoRows {
		return store.Metadata{}, ferrors.NotFound("resource metadata")
	}
	if err != nil {
		return store.Metadata{}, ferrors.StorageIO("reading resource metadata", err)
	}
	return m, nil
}

func (s *Store) DeleteMetadata(ctx context.Context, resourceID int32) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM resources WHERE resource_id = $1`), resourceID)
	if err != nil {
		return ferrors.StorageIO("deleting resource metadata", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`DELETE FROM postings WHERE resource_id = $1`), resourceID)
	if err != nil {
		return ferrors.StorageIO("deleting resource postings", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if s.driver == "mysql" {
		if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE postings`); err != nil {
			return ferrors.StorageIO("clearing kv store", err)
		}
		if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE resources`); err != nil {
			return ferrors.StorageIO("clearing kv store", err)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `TRUNCATE postings, resources`); err != nil {
		return ferrors.StorageIO("clearing kv store", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT hash), COUNT(*) FROM postings`)
	if err := row.Scan(&stats.DistinctHashes, &stats.TotalPostings); err != nil {
		return store.Stats{}, ferrors.StorageIO("reading kv store stats", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`)
	if err := row.Scan(&stats.Resources); err != nil {
		return store.Stats{}, ferrors.StorageIO("reading kv store stats", err)
	}
	return stats, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return ferrors.StorageIO("closing kv store connection", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
