package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/domain"
	"taskmgr/internal/queue"
	"taskmgr/internal/queue/queuetest"
)

func TestSweepRetentionBoundary(t *testing.T) {
	r := queuetest.Open(t)
	now := time.Unix(2_000_000, 0)
	retention := 24 * time.Hour
	edge := now.Add(-retention).Unix()

	queuetest.TaskWithID(t, r, 1, domain.TaskCloseProblem, domain.StatusDone, edge-1, 0)
	queuetest.TaskWithID(t, r, 2, domain.TaskCloseProblem, domain.StatusDone, edge+1, 0)
	queuetest.TaskWithID(t, r, 3, domain.TaskCloseProblem, domain.StatusNew, edge-100, 0)

	n, err := NewSweeper(r, retention, nil).Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.Get(context.Background(), 1)
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, 2))
	assert.Equal(t, domain.StatusNew, queuetest.Status(t, r, 3), "pending tasks are never swept")
}
