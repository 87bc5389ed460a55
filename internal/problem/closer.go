// Package problem resolves open problems on behalf of the close-problem task.
package problem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"taskmgr/internal/queue"
)

// Closer checks and resolves problems. Close is not idempotent; callers must
// check IsOpen first while holding the trigger lock.
type Closer interface {
	IsOpen(ctx context.Context, eventID int64) (bool, error)
	Close(ctx context.Context, triggerID, eventID, userID int64) error
}

const (
	eventSourceTriggers = 0
	eventObjectTrigger  = 0
	triggerValueOK      = 0
)

// SQLCloser records the resolution in the events and problem tables.
type SQLCloser struct {
	db    *sql.DB
	d     queue.Dialect
	clock clock.Clock
}

func NewSQLCloser(db *sql.DB, d queue.Dialect, clk clock.Clock) *SQLCloser {
	if clk == nil {
		clk = clock.New()
	}
	return &SQLCloser{db: db, d: d, clock: clk}
}

// IsOpen reports whether the problem started by eventID has no recovery yet.
// A problem that no longer exists is reported as not open.
func (c *SQLCloser) IsOpen(ctx context.Context, eventID int64) (bool, error) {
	var recovery sql.NullInt64
	err := c.db.QueryRowContext(ctx, c.d.Rebind(`SELECT r_eventid FROM problem WHERE eventid=?`), eventID).Scan(&recovery)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query problem %d: %w", eventID, err)
	}
	return !recovery.Valid, nil
}

// Close generates an OK event for the trigger and attaches it to the problem as
// its recovery, attributed to userID.
func (c *SQLCloser) Close(ctx context.Context, triggerID, eventID, userID int64) (err error) {
	now := c.clock.Now().Unix()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var recoveryID int64
	err = tx.QueryRowContext(ctx, c.d.Rebind(`
INSERT INTO events (source,object,objectid,clock,value) VALUES (?,?,?,?,?) RETURNING eventid`),
		eventSourceTriggers, eventObjectTrigger, triggerID, now, triggerValueOK).Scan(&recoveryID)
	if err != nil {
		return fmt.Errorf("insert recovery event: %w", err)
	}

	_, err = tx.ExecContext(ctx, c.d.Rebind(`
UPDATE problem SET r_eventid=?, r_clock=?, userid=? WHERE eventid=? AND r_eventid IS NULL`),
		recoveryID, now, userID, eventID)
	if err != nil {
		return fmt.Errorf("resolve problem %d: %w", eventID, err)
	}
	return tx.Commit()
}
