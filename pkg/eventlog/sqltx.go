package eventlog

import "database/sql"

// SQLTx adapts a *sql.Tx to the Tx interface. It is the concrete handle
// returned by the SQLite-backed Store and accepted by the SQLite-backed
// outbox store, so the two inserts in pkg/writer share one physical
// transaction (spec §4.4).
type SQLTx struct {
	*sql.Tx
}

// Unwrap recovers the underlying *sql.Tx from a Tx handle produced by a
// SQL-backed Store. ok is false if tx did not originate from one.
func Unwrap(tx Tx) (*sql.Tx, bool) {
	s, ok := tx.(*SQLTx)
	if !ok {
		return nil, false
	}
	return s.Tx, true
}
