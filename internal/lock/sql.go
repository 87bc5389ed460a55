package lock

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"taskmgr/internal/queue"
)

// SQL keeps trigger locks in the trigger_locks table of the shared store, so
// every scheduler instance using the same database contends for the same rows.
// A lock carries an expiry; a lock left behind by a crashed holder can be taken
// over once it expires, a live one never.
type SQL struct {
	db    *sql.DB
	d     queue.Dialect
	owner string
	ttl   time.Duration
	clock clock.Clock
}

func NewSQL(db *sql.DB, d queue.Dialect, ttl time.Duration, clk clock.Clock) *SQL {
	if clk == nil {
		clk = clock.New()
	}
	return &SQL{db: db, d: d, owner: "tm_" + uuid.NewString(), ttl: ttl, clock: clk}
}

// Owner is the token this instance writes into the lock rows it holds.
func (s *SQL) Owner() string { return s.owner }

func (s *SQL) Lock(ctx context.Context, ids []int64) ([]int64, error) {
	now := s.clock.Now()
	expires := now.Add(s.ttl).Unix()
	q := s.d.Rebind(`
INSERT INTO trigger_locks (triggerid,owner,locked_at,expires_at) VALUES (?,?,?,?)
ON CONFLICT (triggerid) DO UPDATE
SET owner=excluded.owner, locked_at=excluded.locked_at, expires_at=excluded.expires_at
WHERE trigger_locks.expires_at <= ?`)

	var locked []int64
	for _, id := range dedupe(ids) {
		res, err := s.db.ExecContext(ctx, q, id, s.owner, now.Unix(), expires, now.Unix())
		if err != nil {
			if len(locked) > 0 {
				_ = s.Unlock(context.WithoutCancel(ctx), locked)
			}
			return nil, fmt.Errorf("lock trigger %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			locked = append(locked, id)
		}
	}
	return locked, nil
}

func (s *SQL) Unlock(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{s.owner}
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx, s.d.Rebind(`DELETE FROM trigger_locks WHERE owner=? AND triggerid IN (`+placeholders+`)`), args...)
	if err != nil {
		return fmt.Errorf("unlock triggers: %w", err)
	}
	return nil
}

func (s *SQL) Held(ctx context.Context) ([]Held, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT triggerid,owner,locked_at,expires_at FROM trigger_locks ORDER BY triggerid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Held
	for rows.Next() {
		var h Held
		if err := rows.Scan(&h.TriggerID, &h.Owner, &h.LockedAt, &h.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
