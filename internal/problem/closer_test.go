package problem

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/queue/queuetest"
)

func TestCloseResolvesProblem(t *testing.T) {
	ctx := context.Background()
	r := queuetest.Open(t)
	queuetest.Problem(t, r, 200, 100, 50)
	clk := clock.NewMock()
	clk.Set(time.Unix(5000, 0))
	c := NewSQLCloser(r.DB(), r.Dialect(), clk)

	open, err := c.IsOpen(ctx, 200)
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, c.Close(ctx, 100, 200, 9))

	open, err = c.IsOpen(ctx, 200)
	require.NoError(t, err)
	assert.False(t, open)

	var rEvent, rClock, user int64
	require.NoError(t, r.DB().QueryRow(`SELECT r_eventid,r_clock,userid FROM problem WHERE eventid=200`).Scan(&rEvent, &rClock, &user))
	assert.Equal(t, int64(5000), rClock)
	assert.Equal(t, int64(9), user)

	var objectID, value int64
	require.NoError(t, r.DB().QueryRow(`SELECT objectid,value FROM events WHERE eventid=?`, rEvent).Scan(&objectID, &value))
	assert.Equal(t, int64(100), objectID)
	assert.Equal(t, int64(0), value)
}

func TestIsOpenMissingProblem(t *testing.T) {
	r := queuetest.Open(t)
	c := NewSQLCloser(r.DB(), r.Dialect(), nil)
	open, err := c.IsOpen(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, open)
}
