package ack

import (
	"cmp"
	"context"
	"slices"

	"github.com/rs/zerolog"

	"taskmgr/internal/actions"
	"taskmgr/internal/domain"
	"taskmgr/internal/queue"
)

type Store interface {
	AcknowledgeRows(ctx context.Context, taskIDs []int64) ([]queue.AckRow, error)
	SetStatus(ctx context.Context, status domain.TaskStatus, ids ...int64) error
}

// Processor handles all ACKNOWLEDGE tasks of a cycle as one batch.
type Processor struct {
	store     Store
	evaluator actions.Evaluator
}

func NewProcessor(store Store, evaluator actions.Evaluator) *Processor {
	return &Processor{store: store, evaluator: evaluator}
}

// Process submits the acknowledgements behind taskIDs to the evaluator and
// returns the count it reports. Every submitted task is marked DONE, including
// the ones whose event is gone and the ones the evaluator did not count.
func (p *Processor) Process(ctx context.Context, taskIDs []int64) int {
	if len(taskIDs) == 0 {
		return 0
	}
	ids := slices.Clone(taskIDs)
	slices.Sort(ids)

	rows, err := p.store.AcknowledgeRows(ctx, ids)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("tasks", len(ids)).Msg("failed to load acknowledge tasks")
		return 0
	}
	byTask := make(map[int64]queue.AckRow, len(rows))
	for _, r := range rows {
		byTask[r.TaskID] = r
	}

	batch := make([]domain.AckRef, 0, len(ids))
	for _, id := range ids {
		r, ok := byTask[id]
		if !ok || !r.EventFound {
			zerolog.Ctx(ctx).Debug().Int64("task_id", id).Msg("acknowledged event no longer exists, skipping")
			continue
		}
		batch = append(batch, domain.AckRef{EventID: r.EventID, AcknowledgeID: r.AcknowledgeID, TaskID: r.TaskID})
	}
	slices.SortFunc(batch, func(a, b domain.AckRef) int { return cmp.Compare(a.TaskID, b.TaskID) })

	var processed int
	if len(batch) > 0 {
		processed, err = p.evaluator.ProcessAcknowledgements(ctx, batch)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int("batch", len(batch)).Msg("failed to process acknowledgements")
			return 0
		}
	}

	if err := p.store.SetStatus(ctx, domain.StatusDone, ids...); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("tasks", len(ids)).Msg("failed to mark acknowledge tasks done")
	}
	return processed
}
