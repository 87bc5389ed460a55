package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmgr/internal/actions"
	"taskmgr/internal/domain"
	"taskmgr/internal/handlers/ack"
	"taskmgr/internal/handlers/closeproblem"
	"taskmgr/internal/handlers/remotecmd"
	"taskmgr/internal/lock"
	"taskmgr/internal/problem"
	"taskmgr/internal/queue"
	"taskmgr/internal/queue/queuetest"
	"taskmgr/internal/worker"
)

func dispatcher(r *queue.SQLRepo, locks lock.TriggerLockManager) *worker.Dispatcher {
	return worker.NewDispatcher(r, worker.Handlers{
		CloseProblem:  closeproblem.New(r, locks, problem.NewSQLCloser(r.DB(), r.Dialect(), nil), nil),
		RemoteCommand: remotecmd.NewExpirer(r, nil),
		CommandResult: remotecmd.NewResultHandler(r),
		Acknowledge:   ack.NewProcessor(r, actions.NewSQLEvaluator(r.DB(), r.Dialect())),
	}, nil)
}

func TestCycleClosesProblem(t *testing.T) {
	r := queuetest.Open(t)
	queuetest.Problem(t, r, 200, 100, 50)
	queuetest.Acknowledge(t, r, 300, 9, 200)
	queuetest.CloseProblemTask(t, r, 1, 300)
	locks := lock.NewSQL(r.DB(), r.Dialect(), 30*time.Second, nil)

	n, err := dispatcher(r, locks).Process(context.Background(), time.Unix(1000, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, 1))
	assert.Equal(t, 1, queuetest.Resolutions(t, r, 200))

	var user int64
	require.NoError(t, r.DB().QueryRow(`SELECT userid FROM problem WHERE eventid=200`).Scan(&user))
	assert.Equal(t, int64(9), user)

	held, err := locks.Held(context.Background())
	require.NoError(t, err)
	assert.Empty(t, held, "trigger 100 must be released")
}

func TestCycleMixedTasks(t *testing.T) {
	r := queuetest.Open(t)
	ctx := context.Background()
	alert := int64(40)
	queuetest.Alert(t, r, alert, domain.AlertNotSent)

	expiring := queuetest.Enqueue(t, r, domain.NewTask{Type: domain.TaskRemoteCommand, Clock: 1000, TTL: 60, Command: &domain.RemoteCommand{AlertID: &alert}})
	running := queuetest.Enqueue(t, r, domain.NewTask{Type: domain.TaskRemoteCommand, Clock: 1050, TTL: 60, Command: &domain.RemoteCommand{}})
	res := queuetest.Enqueue(t, r, domain.NewTask{Type: domain.TaskRemoteCommandResult, Clock: 1055,
		Result: &domain.RemoteCommandResult{Status: domain.RemoteCommandCompleted, ParentTaskID: running}})

	queuetest.Event(t, r, 500, 100, 0)
	queuetest.Acknowledge(t, r, 600, 9, 500)
	ackTask := queuetest.Enqueue(t, r, domain.NewTask{Type: domain.TaskAcknowledge, Clock: 1055, Acknowledge: &domain.Acknowledge{AcknowledgeID: 600}})

	n, err := dispatcher(r, lock.NewLocal()).Process(ctx, time.Unix(1060, 0))
	require.NoError(t, err)

	// two remote commands checked, one result, one acknowledgement
	assert.Equal(t, 4, n)
	assert.Equal(t, domain.StatusExpired, queuetest.Status(t, r, expiring))
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, running))
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, res))
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, ackTask))

	status, msg := queuetest.AlertState(t, r, alert)
	assert.Equal(t, domain.AlertFailed, status)
	assert.Equal(t, remotecmd.ExpiredMessage, msg)

	pending, err := r.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCycleResultForExpiredCommand(t *testing.T) {
	r := queuetest.Open(t)
	ctx := context.Background()
	alert := int64(40)
	queuetest.Alert(t, r, alert, domain.AlertNotSent)

	cmd := queuetest.Enqueue(t, r, domain.NewTask{Type: domain.TaskRemoteCommand, Clock: 1000, TTL: 60, Command: &domain.RemoteCommand{AlertID: &alert}})
	res := queuetest.Enqueue(t, r, domain.NewTask{Type: domain.TaskRemoteCommandResult, Clock: 1059,
		Result: &domain.RemoteCommandResult{Status: domain.RemoteCommandCompleted, ParentTaskID: cmd}})

	n, err := dispatcher(r, lock.NewLocal()).Process(ctx, time.Unix(1060, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, domain.StatusExpired, queuetest.Status(t, r, cmd))
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, res))
	status, msg := queuetest.AlertState(t, r, alert)
	assert.Equal(t, domain.AlertFailed, status)
	assert.Equal(t, remotecmd.ExpiredMessage, msg)
}

func TestConcurrentWorkersCloseOnce(t *testing.T) {
	r := queuetest.Open(t)
	queuetest.Problem(t, r, 200, 100, 50)
	queuetest.Acknowledge(t, r, 300, 9, 200)
	queuetest.Acknowledge(t, r, 301, 8, 200)
	queuetest.CloseProblemTask(t, r, 1, 300)
	queuetest.CloseProblemTask(t, r, 2, 301)

	a := dispatcher(r, lock.NewSQL(r.DB(), r.Dialect(), 30*time.Second, nil))
	b := dispatcher(r, lock.NewSQL(r.DB(), r.Dialect(), 30*time.Second, nil))

	_, err := a.Process(context.Background(), time.Unix(1000, 0))
	require.NoError(t, err)
	_, err = b.Process(context.Background(), time.Unix(1000, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, queuetest.Resolutions(t, r, 200))
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, 1))
	assert.Equal(t, domain.StatusDone, queuetest.Status(t, r, 2))
}
