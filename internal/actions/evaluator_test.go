package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/domain"
	"taskmgr/internal/queue/queuetest"
)

func TestSQLEvaluatorFlagsEvents(t *testing.T) {
	r := queuetest.Open(t)
	queuetest.Event(t, r, 200, 100, 0)
	queuetest.Event(t, r, 201, 100, 0)
	e := NewSQLEvaluator(r.DB(), r.Dialect())

	n, err := e.ProcessAcknowledgements(context.Background(), []domain.AckRef{
		{EventID: 200, AcknowledgeID: 1, TaskID: 3},
		{EventID: 999, AcknowledgeID: 2, TaskID: 5},
		{EventID: 201, AcknowledgeID: 3, TaskID: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var acked int
	require.NoError(t, r.DB().QueryRow(`SELECT COUNT(*) FROM events WHERE acknowledged=1`).Scan(&acked))
	assert.Equal(t, 2, acked)
}
