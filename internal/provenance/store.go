package provenance

import (
	"context"

	"github.com/atlasbio/provenance-backend/internal/platform/neo4jdb"
)

// recordField is the alias every query returns its payload under.
const recordField = "result"

// Reader is the read side of the graph store: one query, at most one
// record, executed in a read-mode transaction.
type Reader interface {
	ReadSingle(ctx context.Context, query string, params map[string]any) (map[string]any, bool, error)
}

// Store adds single-transaction writes. *neo4jdb.Client satisfies it; tests
// substitute a fake.
type Store interface {
	Reader
	Write(ctx context.Context, op string, work func(ctx context.Context, tx neo4jdb.Tx) error) error
}
