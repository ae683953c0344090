// Package txrun implements spec.md §4.4's interruptable operation: a
// body that performs many small writes inside one logical unit but
// must periodically yield a real committed transaction so the
// maintenance goroutine cannot starve client latency.
//
// Grounded on the teacher's dedicated-*sql.Conn transaction pattern in
// internal/storage/sqlite/queries.go: each transaction of a run holds
// one dedicated *sql.Conn. A yield commits and releases it, and the next
// transaction checks out a connection afresh from the pool.
package txrun

import (
	"context"
	"time"

	"github.com/duskvault/bxindex/internal/dbkit"
)

// SingleStepPurgeLimit is spec.md §4.4's mandatory yield granularity:
// a yield point is required at least once per this many rows processed.
const SingleStepPurgeLimit = 4096

// Run is one interruptable logical unit. Callers get a *dbkit.Tx via
// Tx(), do work, periodically call Interrupt to yield, and finally call
// End to commit or roll back.
type Run struct {
	db        *dbkit.DB
	isolation dbkit.Isolation
	tx        *dbkit.Tx
	processed int
}

// Begin opens the first transaction of a new interruptable run.
func Begin(ctx context.Context, db *dbkit.DB, isolation dbkit.Isolation) (*Run, error) {
	tx, err := db.BeginTx(ctx, isolation)
	if err != nil {
		return nil, err
	}
	return &Run{db: db, isolation: isolation, tx: tx}, nil
}

// Tx returns the run's current transaction handle. It becomes invalid
// across an Interrupt call — always re-fetch it afterward.
func (r *Run) Tx() *dbkit.Tx { return r.tx }

// Advance records that n more rows were processed in the current
// transaction, for YieldDue's bookkeeping.
func (r *Run) Advance(n int) { r.processed += n }

// YieldDue reports whether SingleStepPurgeLimit rows have been
// processed since the last Interrupt (or since Begin), meaning the
// caller has reached a mandatory yield point per spec.md §4.4.
func (r *Run) YieldDue() bool { return r.processed >= SingleStepPurgeLimit }

// Interrupt commits the current transaction, sleeps for pollInterval
// while other clients may proceed, then reopens a fresh transaction at
// the same isolation level. Step 3 of spec.md §4.4's algorithm.
func (r *Run) Interrupt(ctx context.Context, pollInterval time.Duration) error {
	if err := r.tx.Commit(); err != nil {
		r.tx.End()
		return err
	}
	r.tx.End()
	r.processed = 0

	select {
	case <-time.After(pollInterval):
	case <-ctx.Done():
		return ctx.Err()
	}

	tx, err := r.db.BeginTx(ctx, r.isolation)
	if err != nil {
		return err
	}
	r.tx = tx
	return nil
}

// End commits the final transaction, or rolls it back if err is
// non-nil, per spec.md §4.4 step 4. Returns the original err unless the
// final commit itself fails.
func (r *Run) End(err error) error {
	defer r.tx.End()
	if err != nil {
		return err
	}
	return r.tx.Commit()
}
