package queue

import (
	"context"
	"database/sql"
	"strings"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	schema := sqliteSchema
	if d == Postgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS task (
  taskid INTEGER PRIMARY KEY AUTOINCREMENT,
  type INTEGER NOT NULL,
  status INTEGER NOT NULL DEFAULT 1,
  clock INTEGER NOT NULL DEFAULT 0,
  ttl INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS task_status ON task(status, taskid);
CREATE TABLE IF NOT EXISTS task_close_problem (
  taskid INTEGER PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  acknowledgeid INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS task_remote_command (
  taskid INTEGER PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  alertid INTEGER
);
CREATE TABLE IF NOT EXISTS task_remote_command_result (
  taskid INTEGER PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  status INTEGER NOT NULL DEFAULT 0,
  parent_taskid INTEGER NOT NULL,
  info TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS task_acknowledge (
  taskid INTEGER PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  acknowledgeid INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
  eventid INTEGER PRIMARY KEY,
  source INTEGER NOT NULL DEFAULT 0,
  object INTEGER NOT NULL DEFAULT 0,
  objectid INTEGER NOT NULL,
  clock INTEGER NOT NULL DEFAULT 0,
  value INTEGER NOT NULL DEFAULT 1,
  acknowledged INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS problem (
  eventid INTEGER PRIMARY KEY,
  objectid INTEGER NOT NULL,
  clock INTEGER NOT NULL DEFAULT 0,
  r_eventid INTEGER,
  r_clock INTEGER NOT NULL DEFAULT 0,
  userid INTEGER
);
CREATE TABLE IF NOT EXISTS acknowledges (
  acknowledgeid INTEGER PRIMARY KEY,
  userid INTEGER NOT NULL,
  eventid INTEGER NOT NULL,
  clock INTEGER NOT NULL DEFAULT 0,
  message TEXT NOT NULL DEFAULT '',
  action INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS alerts (
  alertid INTEGER PRIMARY KEY,
  status INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS trigger_locks (
  triggerid INTEGER PRIMARY KEY,
  owner TEXT NOT NULL,
  locked_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS task (
  taskid BIGSERIAL PRIMARY KEY,
  type INTEGER NOT NULL,
  status INTEGER NOT NULL DEFAULT 1,
  clock BIGINT NOT NULL DEFAULT 0,
  ttl INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS task_status ON task(status, taskid);
CREATE TABLE IF NOT EXISTS task_close_problem (
  taskid BIGINT PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  acknowledgeid BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS task_remote_command (
  taskid BIGINT PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  alertid BIGINT
);
CREATE TABLE IF NOT EXISTS task_remote_command_result (
  taskid BIGINT PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  status INTEGER NOT NULL DEFAULT 0,
  parent_taskid BIGINT NOT NULL,
  info TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS task_acknowledge (
  taskid BIGINT PRIMARY KEY REFERENCES task(taskid) ON DELETE CASCADE,
  acknowledgeid BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
  eventid BIGSERIAL PRIMARY KEY,
  source INTEGER NOT NULL DEFAULT 0,
  object INTEGER NOT NULL DEFAULT 0,
  objectid BIGINT NOT NULL,
  clock BIGINT NOT NULL DEFAULT 0,
  value INTEGER NOT NULL DEFAULT 1,
  acknowledged INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS problem (
  eventid BIGINT PRIMARY KEY,
  objectid BIGINT NOT NULL,
  clock BIGINT NOT NULL DEFAULT 0,
  r_eventid BIGINT,
  r_clock BIGINT NOT NULL DEFAULT 0,
  userid BIGINT
);
CREATE TABLE IF NOT EXISTS acknowledges (
  acknowledgeid BIGSERIAL PRIMARY KEY,
  userid BIGINT NOT NULL,
  eventid BIGINT NOT NULL,
  clock BIGINT NOT NULL DEFAULT 0,
  message TEXT NOT NULL DEFAULT '',
  action INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS alerts (
  alertid BIGSERIAL PRIMARY KEY,
  status INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS trigger_locks (
  triggerid BIGINT PRIMARY KEY,
  owner TEXT NOT NULL,
  locked_at BIGINT NOT NULL,
  expires_at BIGINT NOT NULL
);
`
