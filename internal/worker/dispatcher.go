package worker

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"taskmgr/internal/domain"
	"taskmgr/internal/metrics"
)

type Store interface {
	ListPending(ctx context.Context) ([]domain.Task, error)
}

type CloseProblemHandler interface {
	Handle(ctx context.Context, taskID int64) bool
}

type RemoteCommandExpirer interface {
	Check(ctx context.Context, job domain.RemoteCommandJob, now int64)
}

type RemoteCommandResultHandler interface {
	Handle(ctx context.Context, taskID int64) bool
}

type AcknowledgeProcessor interface {
	Process(ctx context.Context, taskIDs []int64) int
}

type Handlers struct {
	CloseProblem  CloseProblemHandler
	RemoteCommand RemoteCommandExpirer
	CommandResult RemoteCommandResultHandler
	Acknowledge   AcknowledgeProcessor
}

// Dispatcher routes every pending task to the handler for its type, once per
// cycle, in ascending task id order.
type Dispatcher struct {
	store    Store
	handlers Handlers
	metrics  *metrics.Metrics
}

func NewDispatcher(store Store, h Handlers, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: store, handlers: h, metrics: m}
}

// Process runs one dispatch cycle and returns the number of tasks processed.
// The only error it returns wraps domain.ErrUnknownTaskType; it means a
// producer wrote a task this build cannot handle and processing must stop.
// Store failures are logged and the affected tasks are retried next cycle.
func (d *Dispatcher) Process(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()
	tasks, err := d.store.ListPending(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to list pending tasks")
		return 0, nil
	}
	slices.SortStableFunc(tasks, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })

	var (
		processed int
		ackIDs    []int64
	)
	for _, t := range tasks {
		job, err := domain.NewJob(t)
		if err != nil {
			return processed, err
		}

		switch j := job.(type) {
		case domain.CloseProblemJob:
			if d.handlers.CloseProblem.Handle(ctx, j.ID) {
				processed++
				d.metrics.Processed(domain.TaskCloseProblem, 1)
			}
		case domain.RemoteCommandJob:
			d.handlers.RemoteCommand.Check(ctx, j, now.Unix())
			processed++
			d.metrics.Processed(domain.TaskRemoteCommand, 1)
		case domain.RemoteCommandResultJob:
			if d.handlers.CommandResult.Handle(ctx, j.ID) {
				processed++
				d.metrics.Processed(domain.TaskRemoteCommandResult, 1)
			}
		case domain.AcknowledgeJob:
			ackIDs = append(ackIDs, j.ID)
		default:
			panic(fmt.Sprintf("worker: unhandled job %T", job))
		}
	}

	if len(ackIDs) > 0 {
		n := d.handlers.Acknowledge.Process(ctx, ackIDs)
		processed += n
		d.metrics.Processed(domain.TaskAcknowledge, n)
	}

	d.metrics.Cycle(len(tasks), time.Since(started))
	zerolog.Ctx(ctx).Debug().Int("pending", len(tasks)).Int("processed", processed).Msg("dispatch cycle finished")
	return processed, nil
}
