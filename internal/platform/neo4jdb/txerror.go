package neo4jdb

import "fmt"

// TxError wraps a failed write transaction with the name of the operation
// that ran it. The underlying transaction has already been rolled back by
// the time a TxError is returned.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction failed in %s: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }
