// Package queuetest provides a throwaway SQLite task store and fixture helpers
// for tests.
package queuetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taskmgr/internal/domain"
	"taskmgr/internal/queue"
)

// Open creates a fresh store under t.TempDir with the schema applied.
func Open(t *testing.T) *queue.SQLRepo {
	t.Helper()
	db, d, err := queue.Open("sqlite", filepath.Join(t.TempDir(), "taskmgr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, queue.EnsureSchema(context.Background(), db, d))
	return queue.NewSQLRepo(db, d)
}

func exec(t *testing.T, r *queue.SQLRepo, q string, args ...any) {
	t.Helper()
	_, err := r.DB().Exec(r.Dialect().Rebind(q), args...)
	require.NoError(t, err)
}

// Problem inserts an open problem: its event and the problem row.
func Problem(t *testing.T, r *queue.SQLRepo, eventID, triggerID, clock int64) {
	t.Helper()
	exec(t, r, `INSERT INTO events (eventid,source,object,objectid,clock,value) VALUES (?,0,0,?,?,1)`, eventID, triggerID, clock)
	exec(t, r, `INSERT INTO problem (eventid,objectid,clock) VALUES (?,?,?)`, eventID, triggerID, clock)
}

func Event(t *testing.T, r *queue.SQLRepo, eventID, triggerID, clock int64) {
	t.Helper()
	exec(t, r, `INSERT INTO events (eventid,source,object,objectid,clock,value) VALUES (?,0,0,?,?,1)`, eventID, triggerID, clock)
}

func Acknowledge(t *testing.T, r *queue.SQLRepo, ackID, userID, eventID int64) {
	t.Helper()
	exec(t, r, `INSERT INTO acknowledges (acknowledgeid,userid,eventid,clock,message) VALUES (?,?,?,0,'')`, ackID, userID, eventID)
}

func Alert(t *testing.T, r *queue.SQLRepo, alertID int64, status domain.AlertStatus) {
	t.Helper()
	exec(t, r, `INSERT INTO alerts (alertid,status,error) VALUES (?,?,'')`, alertID, int(status))
}

// AlertState returns the stored status and error text of an alert.
func AlertState(t *testing.T, r *queue.SQLRepo, alertID int64) (domain.AlertStatus, string) {
	t.Helper()
	var status int
	var errText string
	require.NoError(t, r.DB().QueryRow(r.Dialect().Rebind(`SELECT status,error FROM alerts WHERE alertid=?`), alertID).Scan(&status, &errText))
	return domain.AlertStatus(status), errText
}

// Status returns the stored status of a task.
func Status(t *testing.T, r *queue.SQLRepo, taskID int64) domain.TaskStatus {
	t.Helper()
	task, err := r.Get(context.Background(), taskID)
	require.NoError(t, err)
	return task.Status
}

// Resolutions counts recovery events recorded against a problem (0 or 1).
func Resolutions(t *testing.T, r *queue.SQLRepo, eventID int64) int {
	t.Helper()
	var n int
	require.NoError(t, r.DB().QueryRow(r.Dialect().Rebind(`SELECT COUNT(*) FROM problem WHERE eventid=? AND r_eventid IS NOT NULL`), eventID).Scan(&n))
	return n
}

// Enqueue inserts a task and returns its id.
func Enqueue(t *testing.T, r *queue.SQLRepo, n domain.NewTask) int64 {
	t.Helper()
	id, err := r.Enqueue(context.Background(), n)
	require.NoError(t, err)
	return id
}

// TaskWithID inserts a bare task row with an explicit id, for ordering tests.
func TaskWithID(t *testing.T, r *queue.SQLRepo, id int64, typ domain.TaskType, status domain.TaskStatus, clock int64, ttl int) {
	t.Helper()
	exec(t, r, `INSERT INTO task (taskid,type,status,clock,ttl) VALUES (?,?,?,?,?)`, id, int(typ), int(status), clock, ttl)
}

func AckTask(t *testing.T, r *queue.SQLRepo, taskID, ackID int64) {
	t.Helper()
	TaskWithID(t, r, taskID, domain.TaskAcknowledge, domain.StatusNew, 0, 0)
	exec(t, r, `INSERT INTO task_acknowledge (taskid,acknowledgeid) VALUES (?,?)`, taskID, ackID)
}

func CloseProblemTask(t *testing.T, r *queue.SQLRepo, taskID, ackID int64) {
	t.Helper()
	TaskWithID(t, r, taskID, domain.TaskCloseProblem, domain.StatusNew, 0, 0)
	exec(t, r, `INSERT INTO task_close_problem (taskid,acknowledgeid) VALUES (?,?)`, taskID, ackID)
}
