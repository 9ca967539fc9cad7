// Package recovery implements the scheduler's startup recovery pass: a
// single-shot, non-blocking attempt at a Postgres advisory lock that, if
// won, releases trigger acquisitions a crashed prior instance left
// dangling. It is grounded on internal/leaderelection's use of
// pg_try_advisory_lock, but deliberately does not hold the lock, heartbeat
// a connection, or re-elect — this is a one-time recovery pass run before
// the firing loop starts, not live failover.
package recovery

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/djlord-it/quartzcore/internal/jobstore"
)

// Result reports what the recovery pass did.
type Result struct {
	// LockAcquired is false when another instance already held the lock;
	// in that case no recovery work was attempted, which is fine, since
	// the instance holding the lock already ran (or is running) it.
	LockAcquired bool
	// Released is the count of stale acquisitions returned to NORMAL.
	Released int
}

// Run attempts lockKey via pg_try_advisory_lock on a dedicated connection.
// On success it calls reg.ReleaseStaleAcquisitions for every acquisition
// older than leaseThreshold, then releases the lock before returning —
// the lock's only job is to stop two instances from running recovery
// concurrently and double-counting releases, not to coordinate ongoing
// leadership.
func Run(ctx context.Context, db *sql.DB, lockKey int64, reg jobstore.Registry, leaseThreshold time.Duration, now time.Time) (Result, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&acquired); err != nil {
		return Result{}, err
	}
	if !acquired {
		log.Printf("recovery: lock %d held by another instance, skipping startup recovery", lockKey)
		return Result{LockAcquired: false}, nil
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey); err != nil {
			log.Printf("recovery: failed to release advisory lock %d: %v", lockKey, err)
		}
	}()

	released, err := reg.ReleaseStaleAcquisitions(now, leaseThreshold)
	if err != nil {
		return Result{LockAcquired: true}, err
	}
	if released > 0 {
		log.Printf("recovery: released %d stale trigger acquisition(s) older than %s", released, leaseThreshold)
	}
	return Result{LockAcquired: true, Released: released}, nil
}
