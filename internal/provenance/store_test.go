package provenance

import (
	"context"
	"strings"
	"testing"

	"github.com/atlasbio/provenance-backend/internal/platform/logger"
	"github.com/atlasbio/provenance-backend/internal/platform/neo4jdb"
)

// statement is one query the fake saw, with its bound parameters.
type statement struct {
	query  string
	params map[string]any
}

// fakeStore scripts read results by query substring and records every
// statement a write transaction runs, in order.
type fakeStore struct {
	reads      map[string]map[string]any
	statements []statement
	writeOps   []string
	failOn     string
}

func newFakeStore() *fakeStore {
	return &fakeStore{reads: map[string]map[string]any{}}
}

func (f *fakeStore) stub(querySubstring string, record map[string]any) {
	f.reads[querySubstring] = record
}

func (f *fakeStore) lookup(query string) (map[string]any, bool, error) {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, false, errFake
	}
	// Longest matching stub wins, so overlapping substrings stay
	// deterministic.
	var best string
	found := false
	for sub := range f.reads {
		if strings.Contains(query, sub) && len(sub) > len(best) {
			best = sub
			found = true
		}
	}
	if !found {
		return nil, false, nil
	}
	rec := f.reads[best]
	return rec, rec != nil, nil
}

func (f *fakeStore) ReadSingle(_ context.Context, query string, params map[string]any) (map[string]any, bool, error) {
	f.statements = append(f.statements, statement{query: query, params: params})
	return f.lookup(query)
}

func (f *fakeStore) Write(ctx context.Context, op string, work func(ctx context.Context, tx neo4jdb.Tx) error) error {
	f.writeOps = append(f.writeOps, op)
	if err := work(ctx, &fakeTx{store: f}); err != nil {
		return &neo4jdb.TxError{Op: op, Err: err}
	}
	return nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) Run(_ context.Context, query string, params map[string]any) error {
	t.store.statements = append(t.store.statements, statement{query: query, params: params})
	if t.store.failOn != "" && strings.Contains(query, t.store.failOn) {
		return errFake
	}
	return nil
}

func (t *fakeTx) Single(_ context.Context, query string, params map[string]any) (map[string]any, bool, error) {
	t.store.statements = append(t.store.statements, statement{query: query, params: params})
	return t.store.lookup(query)
}

var errFake = &fakeError{}

type fakeError struct{}

func (*fakeError) Error() string { return "fake store failure" }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func (f *fakeStore) queryContaining(t *testing.T, sub string) statement {
	t.Helper()
	for _, st := range f.statements {
		if strings.Contains(st.query, sub) {
			return st
		}
	}
	t.Fatalf("no recorded statement contains %q; recorded: %d", sub, len(f.statements))
	return statement{}
}

func (f *fakeStore) countContaining(sub string) int {
	n := 0
	for _, st := range f.statements {
		if strings.Contains(st.query, sub) {
			n++
		}
	}
	return n
}
