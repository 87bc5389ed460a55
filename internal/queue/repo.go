package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskmgr/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	Enqueue(ctx context.Context, t domain.NewTask) (int64, error)
	Get(ctx context.Context, id int64) (domain.Task, error)
	ListPending(ctx context.Context) ([]domain.Task, error)
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error)
	ListRecentTasks(ctx context.Context, limit int) ([]domain.Task, error)

	CloseProblemPayload(ctx context.Context, taskID int64) (domain.CloseProblem, error)
	AcknowledgeRows(ctx context.Context, taskIDs []int64) ([]AckRow, error)

	SetStatus(ctx context.Context, status domain.TaskStatus, ids ...int64) error
	RemoveOld(ctx context.Context, before int64) (int64, error)

	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the part of the store usable inside a transaction.
type Tx interface {
	TaskStatus(ctx context.Context, taskID int64) (domain.TaskStatus, error)
	RemoteCommandAlert(ctx context.Context, taskID int64) (*int64, error)
	RemoteCommandResult(ctx context.Context, taskID int64) (domain.RemoteCommandResult, *int64, error)
	UpdateAlert(ctx context.Context, alertID int64, status domain.AlertStatus, errText string) error
	SetStatus(ctx context.Context, status domain.TaskStatus, ids ...int64) error
}

// AckRow is an ACKNOWLEDGE task joined with its acknowledgement and event.
// EventFound is false when the acknowledgement or its event no longer exists.
type AckRow struct {
	TaskID        int64
	AcknowledgeID int64
	EventID       int64
	EventFound    bool
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLRepo struct {
	db *sql.DB
	d  Dialect
}

var _ Repository = (*SQLRepo)(nil)

func NewSQLRepo(db *sql.DB, d Dialect) *SQLRepo { return &SQLRepo{db: db, d: d} }

// DB returns the underlying database connection.
func (r *SQLRepo) DB() *sql.DB { return r.db }

func (r *SQLRepo) Dialect() Dialect { return r.d }

func (r *SQLRepo) inTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// InTx runs fn in one transaction. The transaction commits only if fn returns nil.
func (r *SQLRepo) InTx(ctx context.Context, fn func(Tx) error) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqlTx{q: tx, d: r.d})
	})
}

func (r *SQLRepo) Enqueue(ctx context.Context, t domain.NewTask) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, r.d.Rebind(`
INSERT INTO task (type,status,clock,ttl) VALUES (?,?,?,?) RETURNING taskid`),
			int(t.Type), int(domain.StatusNew), t.Clock, t.TTL)
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		var (
			q    string
			args []any
		)
		switch t.Type {
		case domain.TaskCloseProblem:
			q = `INSERT INTO task_close_problem (taskid,acknowledgeid) VALUES (?,?)`
			args = []any{id, t.CloseProblem.AcknowledgeID}
		case domain.TaskRemoteCommand:
			q = `INSERT INTO task_remote_command (taskid,alertid) VALUES (?,?)`
			args = []any{id, nullInt64(t.Command.AlertID)}
		case domain.TaskRemoteCommandResult:
			q = `INSERT INTO task_remote_command_result (taskid,status,parent_taskid,info) VALUES (?,?,?,?)`
			args = []any{id, t.Result.Status, t.Result.ParentTaskID, t.Result.Info}
		case domain.TaskAcknowledge:
			q = `INSERT INTO task_acknowledge (taskid,acknowledgeid) VALUES (?,?)`
			args = []any{id, t.Acknowledge.AcknowledgeID}
		}
		if _, err := tx.ExecContext(ctx, r.d.Rebind(q), args...); err != nil {
			return fmt.Errorf("insert %s payload: %w", t.Type, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

const taskColumns = `taskid,type,status,clock,ttl`

func scanTask(s interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var typ, status int
	if err := s.Scan(&t.ID, &typ, &status, &t.Clock, &t.TTL); err != nil {
		return domain.Task{}, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.TaskStatus(status)
	return t, nil
}

func (r *SQLRepo) Get(ctx context.Context, id int64) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, r.d.Rebind(`SELECT `+taskColumns+` FROM task WHERE taskid=?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (r *SQLRepo) listTasks(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, r.d.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListPending returns NEW and IN_PROGRESS tasks in ascending id order.
func (r *SQLRepo) ListPending(ctx context.Context) ([]domain.Task, error) {
	return r.listTasks(ctx, `SELECT `+taskColumns+` FROM task WHERE status IN (?,?) ORDER BY taskid`,
		int(domain.StatusNew), int(domain.StatusInProgress))
}

func (r *SQLRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	return r.listTasks(ctx, `SELECT `+taskColumns+` FROM task WHERE status=? ORDER BY taskid LIMIT ?`, int(status), limit)
}

func (r *SQLRepo) ListRecentTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	return r.listTasks(ctx, `SELECT `+taskColumns+` FROM task ORDER BY taskid DESC LIMIT ?`, limit)
}

// CloseProblemPayload resolves the trigger, event and user of a close-problem
// task through the acknowledgement that requested it.
func (r *SQLRepo) CloseProblemPayload(ctx context.Context, taskID int64) (domain.CloseProblem, error) {
	row := r.db.QueryRowContext(ctx, r.d.Rebind(`
SELECT e.objectid, a.eventid, a.userid
FROM task_close_problem tcp
JOIN acknowledges a ON a.acknowledgeid = tcp.acknowledgeid
JOIN events e ON e.eventid = a.eventid
WHERE tcp.taskid = ?`), taskID)
	var p domain.CloseProblem
	err := row.Scan(&p.TriggerID, &p.EventID, &p.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CloseProblem{}, ErrNotFound
	}
	return p, err
}

// AcknowledgeRows returns one row per ACKNOWLEDGE task that still has a payload
// row, ordered by task id.
func (r *SQLRepo) AcknowledgeRows(ctx context.Context, taskIDs []int64) ([]AckRow, error) {
	var out []AckRow
	for _, ids := range chunks(taskIDs) {
		rows, err := r.db.QueryContext(ctx, r.d.Rebind(`
SELECT ta.taskid, ta.acknowledgeid, e.eventid
FROM task_acknowledge ta
LEFT JOIN acknowledges a ON a.acknowledgeid = ta.acknowledgeid
LEFT JOIN events e ON e.eventid = a.eventid
WHERE ta.taskid IN (`+in(len(ids))+`)
ORDER BY ta.taskid`), int64Args(ids)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var row AckRow
			var eventID sql.NullInt64
			if err := rows.Scan(&row.TaskID, &row.AcknowledgeID, &eventID); err != nil {
				rows.Close()
				return nil, err
			}
			row.EventID, row.EventFound = eventID.Int64, eventID.Valid
			out = append(out, row)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *SQLRepo) SetStatus(ctx context.Context, status domain.TaskStatus, ids ...int64) error {
	if len(ids) <= batchSize {
		return setStatus(ctx, r.db, r.d, status, ids)
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return setStatus(ctx, tx, r.d, status, ids)
	})
}

// RemoveOld deletes terminal tasks created at or before the given unix time.
func (r *SQLRepo) RemoveOld(ctx context.Context, before int64) (int64, error) {
	var n int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.d.Rebind(`DELETE FROM task WHERE status IN (?,?) AND clock<=?`),
			int(domain.StatusDone), int(domain.StatusExpired), before)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// setStatus moves pending tasks to status. DONE and EXPIRED rows are left as
// they are.
func setStatus(ctx context.Context, q queryer, d Dialect, status domain.TaskStatus, ids []int64) error {
	for _, part := range chunks(ids) {
		args := append([]any{int(status), int(domain.StatusNew), int(domain.StatusInProgress)}, int64Args(part)...)
		stmt := d.Rebind(`UPDATE task SET status=? WHERE status IN (?,?) AND taskid IN (` + in(len(part)) + `)`)
		if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
	}
	return nil
}

type sqlTx struct {
	q queryer
	d Dialect
}

// TaskStatus reads the task status; on Postgres the row stays locked until the
// transaction ends.
func (t *sqlTx) TaskStatus(ctx context.Context, taskID int64) (domain.TaskStatus, error) {
	q := `SELECT status FROM task WHERE taskid=?`
	if t.d == Postgres {
		q += ` FOR UPDATE`
	}
	var status int
	err := t.q.QueryRowContext(ctx, t.d.Rebind(q), taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return domain.TaskStatus(status), nil
}

func (t *sqlTx) RemoteCommandAlert(ctx context.Context, taskID int64) (*int64, error) {
	var alertID sql.NullInt64
	err := t.q.QueryRowContext(ctx, t.d.Rebind(`SELECT alertid FROM task_remote_command WHERE taskid=?`), taskID).Scan(&alertID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ptrInt64(alertID), nil
}

// RemoteCommandResult returns the result payload and the alert of the parent command, if any.
func (t *sqlTx) RemoteCommandResult(ctx context.Context, taskID int64) (domain.RemoteCommandResult, *int64, error) {
	var res domain.RemoteCommandResult
	var alertID sql.NullInt64
	err := t.q.QueryRowContext(ctx, t.d.Rebind(`
SELECT r.status, r.info, r.parent_taskid, c.alertid
FROM task_remote_command_result r
LEFT JOIN task_remote_command c ON c.taskid = r.parent_taskid
WHERE r.taskid = ?`), taskID).Scan(&res.Status, &res.Info, &res.ParentTaskID, &alertID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RemoteCommandResult{}, nil, ErrNotFound
	}
	if err != nil {
		return domain.RemoteCommandResult{}, nil, err
	}
	return res, ptrInt64(alertID), nil
}

// UpdateAlert sets the alert status and error text, cut to the column width.
func (t *sqlTx) UpdateAlert(ctx context.Context, alertID int64, status domain.AlertStatus, errText string) error {
	_, err := t.q.ExecContext(ctx, t.d.Rebind(`UPDATE alerts SET status=?,error=? WHERE alertid=?`),
		int(status), domain.TruncateField(errText, domain.AlertErrorLen), alertID)
	if err != nil {
		return fmt.Errorf("update alert %d: %w", alertID, err)
	}
	return nil
}

func (t *sqlTx) SetStatus(ctx context.Context, status domain.TaskStatus, ids ...int64) error {
	return setStatus(ctx, t.q, t.d, status, ids)
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
