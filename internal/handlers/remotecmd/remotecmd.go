package remotecmd

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"taskmgr/internal/domain"
	"taskmgr/internal/metrics"
	"taskmgr/internal/queue"
)

// ExpiredMessage is written to the alert of a command that timed out.
const ExpiredMessage = "Remote command has been expired."

type Store interface {
	InTx(ctx context.Context, fn func(queue.Tx) error) error
}

// errFinished rolls back work on a task that left the pending states after the
// cycle listed it.
var errFinished = errors.New("task already finished")

// finished reports whether the task is DONE or EXPIRED. A missing task counts
// as finished.
func finished(ctx context.Context, tx queue.Tx, taskID int64) (bool, error) {
	status, err := tx.TaskStatus(ctx, taskID)
	if errors.Is(err, queue.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return status.Terminal(), nil
}

// Expirer marks REMOTE_COMMAND tasks whose TTL has elapsed as expired, failing
// the alert that started them.
type Expirer struct {
	store   Store
	metrics *metrics.Metrics
}

func NewExpirer(store Store, m *metrics.Metrics) *Expirer {
	return &Expirer{store: store, metrics: m}
}

// Check expires the command if its TTL elapsed at now (unix seconds). The alert
// and task updates commit together or not at all. A command whose result was
// already applied is left alone.
func (e *Expirer) Check(ctx context.Context, job domain.RemoteCommandJob, now int64) {
	if !job.Expired(now) {
		return
	}
	l := zerolog.Ctx(ctx)
	err := e.store.InTx(ctx, func(tx queue.Tx) error {
		if done, err := finished(ctx, tx, job.ID); err != nil {
			return err
		} else if done {
			return errFinished
		}
		alertID, err := tx.RemoteCommandAlert(ctx, job.ID)
		if err != nil && !errors.Is(err, queue.ErrNotFound) {
			return err
		}
		if alertID != nil {
			if err := tx.UpdateAlert(ctx, *alertID, domain.AlertFailed, ExpiredMessage); err != nil {
				return err
			}
		}
		return tx.SetStatus(ctx, domain.StatusExpired, job.ID)
	})
	switch {
	case errors.Is(err, errFinished):
		l.Debug().Int64("task_id", job.ID).Msg("remote command already finished")
		return
	case err != nil:
		l.Error().Err(err).Int64("task_id", job.ID).Msg("failed to expire remote command")
		return
	}
	e.metrics.Expired()
	l.Debug().Int64("task_id", job.ID).Int64("clock", job.Clock).Int("ttl", job.TTL).Msg("remote command expired")
}

// ResultHandler applies a REMOTE_COMMAND_RESULT to the alert of its parent
// command and closes both tasks.
type ResultHandler struct {
	store Store
}

func NewResultHandler(store Store) *ResultHandler {
	return &ResultHandler{store: store}
}

// Handle reports whether the result was found and applied. A result for a
// command that already expired closes the result task only; the parent and
// its alert keep the expiry outcome.
func (h *ResultHandler) Handle(ctx context.Context, taskID int64) bool {
	l := zerolog.Ctx(ctx)
	err := h.store.InTx(ctx, func(tx queue.Tx) error {
		if done, err := finished(ctx, tx, taskID); err != nil {
			return err
		} else if done {
			return errFinished
		}
		res, alertID, err := tx.RemoteCommandResult(ctx, taskID)
		if err != nil {
			return err
		}
		parentDone, err := finished(ctx, tx, res.ParentTaskID)
		if err != nil {
			return err
		}
		if parentDone {
			l.Debug().Int64("task_id", taskID).Int64("parent_task_id", res.ParentTaskID).Msg("remote command already finished, alert left as is")
			return tx.SetStatus(ctx, domain.StatusDone, taskID)
		}
		if alertID != nil {
			status, msg := domain.AlertSent, ""
			if res.Status != domain.RemoteCommandCompleted {
				status, msg = domain.AlertFailed, res.Info
			}
			if err := tx.UpdateAlert(ctx, *alertID, status, msg); err != nil {
				return err
			}
		}
		return tx.SetStatus(ctx, domain.StatusDone, taskID, res.ParentTaskID)
	})
	switch {
	case errors.Is(err, queue.ErrNotFound):
		l.Debug().Int64("task_id", taskID).Msg("remote command result has no payload")
		return false
	case errors.Is(err, errFinished):
		l.Debug().Int64("task_id", taskID).Msg("remote command result already applied")
		return false
	case err != nil:
		l.Error().Err(err).Int64("task_id", taskID).Msg("failed to process remote command result")
		return false
	}
	return true
}
