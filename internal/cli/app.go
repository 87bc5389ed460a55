package cli

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"taskmgr/internal/actions"
	"taskmgr/internal/api"
	"taskmgr/internal/config"
	"taskmgr/internal/handlers/ack"
	"taskmgr/internal/handlers/closeproblem"
	"taskmgr/internal/handlers/remotecmd"
	"taskmgr/internal/lock"
	"taskmgr/internal/metrics"
	"taskmgr/internal/problem"
	"taskmgr/internal/queue"
	"taskmgr/internal/scheduler"
	"taskmgr/internal/worker"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg      config.Config
	db       *sql.DB
	repo     *queue.SQLRepo
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, d, err := queue.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := queue.EnsureSchema(ctx, db, d); err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	log.Info().Str("driver", d.String()).Msg("store ready")
	return &app{
		cfg:      cfg,
		db:       db,
		repo:     queue.NewSQLRepo(db, d),
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

type heldLocks interface {
	lock.TriggerLockManager
	api.LockLister
}

func (a *app) locks() heldLocks {
	if a.cfg.Locks.Backend == config.LocksLocal {
		return lock.NewLocal()
	}
	l := lock.NewSQL(a.db, a.repo.Dialect(), a.cfg.Locks.TTL, nil)
	log.Info().Str("owner", l.Owner()).Dur("ttl", a.cfg.Locks.TTL).Msg("using shared trigger locks")
	return l
}

func (a *app) sweeper() *scheduler.Sweeper {
	return scheduler.NewSweeper(a.repo, a.cfg.Scheduler.Retention, a.metrics)
}

func (a *app) service(locks lock.TriggerLockManager) (*scheduler.Service, error) {
	d := a.repo.Dialect()
	dispatcher := worker.NewDispatcher(a.repo, worker.Handlers{
		CloseProblem:  closeproblem.New(a.repo, locks, problem.NewSQLCloser(a.db, d, nil), a.metrics),
		RemoteCommand: remotecmd.NewExpirer(a.repo, a.metrics),
		CommandResult: remotecmd.NewResultHandler(a.repo),
		Acknowledge:   ack.NewProcessor(a.repo, actions.NewSQLEvaluator(a.db, d)),
	}, a.metrics)

	return scheduler.NewService(dispatcher, a.sweeper(), scheduler.Options{
		ProcessPeriod:   a.cfg.Scheduler.ProcessPeriod,
		CleanupSchedule: a.cfg.Scheduler.CleanupSchedule,
	})
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("close store")
	}
}
