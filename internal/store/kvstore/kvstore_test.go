package kvstore

import "testing"

// rebind is exercised directly since it needs no live connection; the
// rest of Store's methods require a reachable postgres/mysql instance
// and are left to integration testing against a real database.

func TestRebindLeavesPostgresPlaceholdersAlone(t *testing.T) {
	s := &Store{driver: "postgres"}
	query := "SELECT * FROM postings WHERE hash = $1 AND resource_id = $2"
	if got := s.rebind(query); got != query {
		t.Fatalf("expected postgres query untouched, got %q", got)
	}
}

func TestRebindRewritesMysqlPlaceholders(t *testing.T) {
	s := &Store{driver: "mysql"}
	query := "SELECT * FROM postings WHERE hash = $1 AND resource_id = $2 AND t1 = $3"
	got := s.rebind(query)
	want := "SELECT * FROM postings WHERE hash = ? AND resource_id = ? AND t1 = ?"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("sqlite", "whatever")
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
