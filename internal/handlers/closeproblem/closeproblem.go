package closeproblem

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"taskmgr/internal/domain"
	"taskmgr/internal/lock"
	"taskmgr/internal/metrics"
	"taskmgr/internal/problem"
	"taskmgr/internal/queue"
)

type Store interface {
	CloseProblemPayload(ctx context.Context, taskID int64) (domain.CloseProblem, error)
	SetStatus(ctx context.Context, status domain.TaskStatus, ids ...int64) error
}

// Handler closes the problem referenced by a CLOSE_PROBLEM task, at most once
// per problem across all workers sharing the trigger lock manager.
type Handler struct {
	store    Store
	locks    lock.TriggerLockManager
	problems problem.Closer
	metrics  *metrics.Metrics
}

func New(store Store, locks lock.TriggerLockManager, problems problem.Closer, m *metrics.Metrics) *Handler {
	return &Handler{store: store, locks: locks, problems: problems, metrics: m}
}

// Handle reports whether the task reached DONE. On false the task stays NEW and
// is picked up again on the next cycle.
func (h *Handler) Handle(ctx context.Context, taskID int64) bool {
	l := zerolog.Ctx(ctx)
	p, err := h.store.CloseProblemPayload(ctx, taskID)
	if errors.Is(err, queue.ErrNotFound) {
		// acknowledgement or event deleted under us
		l.Debug().Int64("task_id", taskID).Msg("close problem task has no acknowledgement or event")
		return false
	}
	if err != nil {
		l.Error().Err(err).Int64("task_id", taskID).Msg("failed to load close problem task")
		return false
	}

	acquired, err := lock.WithTrigger(ctx, h.locks, p.TriggerID, func() error {
		open, err := h.problems.IsOpen(ctx, p.EventID)
		if err != nil {
			return err
		}
		if !open {
			l.Debug().Int64("task_id", taskID).Int64("event_id", p.EventID).Msg("problem already closed")
			return nil
		}
		return h.problems.Close(ctx, p.TriggerID, p.EventID, p.UserID)
	})
	if err != nil {
		l.Error().Err(err).Int64("task_id", taskID).Int64("trigger_id", p.TriggerID).Msg("failed to close problem")
		return false
	}
	if !acquired {
		h.metrics.LockContention()
		l.Debug().Int64("task_id", taskID).Int64("trigger_id", p.TriggerID).Msg("trigger is locked, postponing")
		return false
	}

	if err := h.store.SetStatus(ctx, domain.StatusDone, taskID); err != nil {
		l.Error().Err(err).Int64("task_id", taskID).Msg("failed to mark close problem task done")
		return false
	}
	return true
}
