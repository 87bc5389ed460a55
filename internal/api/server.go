package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"taskmgr/internal/domain"
	"taskmgr/internal/lock"
	"taskmgr/internal/queue"
)

const defaultListLimit = 100

type TaskStore interface {
	Enqueue(ctx context.Context, t domain.NewTask) (int64, error)
	Get(ctx context.Context, id int64) (domain.Task, error)
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error)
	ListRecentTasks(ctx context.Context, limit int) ([]domain.Task, error)
}

type LockLister interface {
	Held(ctx context.Context) ([]lock.Held, error)
}

type Options struct {
	// Locks is optional; without it /api/locks answers 404.
	Locks LockLister
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer    prometheus.Gatherer
	Clock       clock.Clock
	EnableDebug bool
}

type Server struct {
	r     *chi.Mux
	tasks TaskStore
	locks LockLister
	clock clock.Clock
}

func NewServer(tasks TaskStore, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	s := &Server{r: r, tasks: tasks, locks: opts.Locks, clock: opts.Clock}
	if s.clock == nil {
		s.clock = clock.New()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/api/tasks", s.submitTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Get("/api/locks", s.listLocks)

	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// submitReq carries the type-specific fields in payload, e.g.
// {"type":"acknowledge","payload":{"acknowledge_id":3}}.
type submitReq struct {
	Type    string          `json:"type"`
	Clock   int64           `json:"clock"`
	TTL     int             `json:"ttl"`
	Payload json.RawMessage `json:"payload"`
}

type payloadReq struct {
	AcknowledgeID int64  `json:"acknowledge_id"`
	AlertID       *int64 `json:"alert_id"`
	Status        int    `json:"status"`
	Info          string `json:"info"`
	ParentTaskID  int64  `json:"parent_task_id"`
}

type submitResp struct {
	ID int64 `json:"id"`
}

func (req submitReq) task(now int64) (domain.NewTask, error) {
	typ, err := domain.ParseTaskType(req.Type)
	if err != nil {
		return domain.NewTask{}, err
	}
	var p payloadReq
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return domain.NewTask{}, err
		}
	}
	t := domain.NewTask{Type: typ, Clock: req.Clock, TTL: req.TTL}
	if t.Clock == 0 {
		t.Clock = now
	}
	switch typ {
	case domain.TaskCloseProblem:
		t.CloseProblem = &domain.NewCloseProblem{AcknowledgeID: p.AcknowledgeID}
	case domain.TaskRemoteCommand:
		t.Command = &domain.RemoteCommand{AlertID: p.AlertID}
	case domain.TaskRemoteCommandResult:
		t.Result = &domain.RemoteCommandResult{Status: p.Status, Info: p.Info, ParentTaskID: p.ParentTaskID}
	case domain.TaskAcknowledge:
		t.Acknowledge = &domain.Acknowledge{AcknowledgeID: p.AcknowledgeID}
	}
	return t, t.Validate()
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", 400)
		return
	}
	t, err := req.task(s.clock.Now().Unix())
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	id, err := s.tasks.Enqueue(r.Context(), t)
	if err != nil {
		log.Error().Err(err).Str("type", t.Type.String()).Msg("enqueue task")
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResp{ID: id})
}

type taskResp struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Clock  int64  `json:"clock"`
	TTL    int    `json:"ttl"`
}

func newTaskResp(t domain.Task) taskResp {
	return taskResp{ID: t.ID, Type: t.Type.String(), Status: t.Status.String(), Clock: t.Clock, TTL: t.TTL}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", 400)
		return
	}
	t, err := s.tasks.Get(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, newTaskResp(t))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", 400)
			return
		}
		limit = n
	}

	var (
		tasks []domain.Task
		err   error
	)
	if v := r.URL.Query().Get("status"); v != "" {
		status, perr := domain.ParseTaskStatus(v)
		if perr != nil {
			http.Error(w, perr.Error(), 400)
			return
		}
		tasks, err = s.tasks.ListByStatus(r.Context(), status, limit)
	} else {
		tasks, err = s.tasks.ListRecentTasks(r.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	out := make([]taskResp, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newTaskResp(t))
	}
	writeJSON(w, 200, out)
}

func (s *Server) listLocks(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		http.Error(w, "lock inspection not available", 404)
		return
	}
	held, err := s.locks.Held(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if held == nil {
		held = []lock.Held{}
	}
	writeJSON(w, 200, held)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
