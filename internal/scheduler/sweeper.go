package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"taskmgr/internal/metrics"
)

type Remover interface {
	RemoveOld(ctx context.Context, before int64) (int64, error)
}

// Sweeper deletes DONE and EXPIRED tasks older than the retention window.
type Sweeper struct {
	store     Remover
	retention time.Duration
	metrics   *metrics.Metrics
}

func NewSweeper(store Remover, retention time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{store: store, retention: retention, metrics: m}
}

func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int64, error) {
	before := now.Add(-s.retention).Unix()
	n, err := s.store.RemoveOld(ctx, before)
	if err != nil {
		return 0, err
	}
	s.metrics.Removed(n)
	zerolog.Ctx(ctx).Debug().Int64("removed", n).Int64("before", before).Msg("removed old tasks")
	return n, nil
}
