// Package actions runs acknowledgement-driven action evaluation.
package actions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"taskmgr/internal/domain"
	"taskmgr/internal/queue"
)

// Evaluator processes one batch of acknowledgements and returns how many of
// them it processed.
type Evaluator interface {
	ProcessAcknowledgements(ctx context.Context, batch []domain.AckRef) (int, error)
}

// SQLEvaluator flags the acknowledged events. An acknowledgement counts as
// processed when its event row was updated.
type SQLEvaluator struct {
	db *sql.DB
	d  queue.Dialect
}

func NewSQLEvaluator(db *sql.DB, d queue.Dialect) *SQLEvaluator {
	return &SQLEvaluator{db: db, d: d}
}

func (e *SQLEvaluator) ProcessAcknowledgements(ctx context.Context, batch []domain.AckRef) (processed int, err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := e.d.Rebind(`UPDATE events SET acknowledged=1 WHERE eventid=?`)
	for _, ref := range batch {
		res, err := tx.ExecContext(ctx, q, ref.EventID)
		if err != nil {
			return 0, fmt.Errorf("acknowledge event %d: %w", ref.EventID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			processed++
			continue
		}
		zerolog.Ctx(ctx).Debug().Int64("event_id", ref.EventID).Int64("acknowledge_id", ref.AcknowledgeID).Msg("acknowledged event vanished")
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return processed, nil
}
