// Package sched implements task selection: given a project, a requesting
// actor, and the project's scheduler policy, it computes the next eligible
// task(s). Policies are dispatched through a pure switch — no process-wide
// registry. Mutual-exclusion policies route every candidate through the
// lock manager; all other coordination lives in the relational store.
package sched

import (
	"context"
	"time"

	"github.com/ywrsusan/pybossa/internal/app/lock"
	"github.com/ywrsusan/pybossa/internal/app/quiz"
	"github.com/ywrsusan/pybossa/internal/domain"
	"github.com/ywrsusan/pybossa/internal/infra/metrics"
	"github.com/ywrsusan/pybossa/internal/infra/sqlite"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config bounds scheduling work per request.
type Config struct {
	// MaxLimit caps how many tasks one request may receive (default 100).
	MaxLimit int
	// LockProbeMargin is how many candidates beyond the requested limit a
	// locking-policy request may probe before giving up. Bounds worst-case
	// lock-store round trips under contention.
	LockProbeMargin int
}

// DefaultConfig returns production scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxLimit:        100,
		LockProbeMargin: 20,
	}
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Scheduler computes scheduling decisions. It is safe for concurrent use;
// all cross-request coordination happens through the lock store.
type Scheduler struct {
	db     *sqlite.DB
	locks  *lock.Manager
	gate   *quiz.Gate
	config Config
}

// NewScheduler creates a scheduler over the system of record, the lock
// manager, and the quiz gate.
func NewScheduler(db *sqlite.DB, locks *lock.Manager, gate *quiz.Gate, cfg Config) *Scheduler {
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.LockProbeMargin <= 0 {
		cfg.LockProbeMargin = 20
	}
	return &Scheduler{db: db, locks: locks, gate: gate, config: cfg}
}

// Request carries one "give me a task" invocation.
type Request struct {
	Project     *domain.Project
	Actor       domain.Actor
	Offset      int
	Limit       int
	OrderBy     string
	Desc        bool
	GoldOnly    bool     // explicitly restrict to calibration tasks
	Preferences []string // matched against task tags under user_pref
}

// NextTasks returns the next eligible tasks for the request, or an empty
// slice when no work is available — a normal, non-error outcome.
func (s *Scheduler) NextTasks(ctx context.Context, req Request) ([]domain.Task, error) {
	start := time.Now()
	defer func() {
		metrics.ScheduleLatency.Observe(time.Since(start).Seconds())
	}()

	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	// Quiz gate first: scheduling never overrides a calibration verdict.
	verdict, err := s.gate.Evaluate(req.Actor.UserID, req.Project)
	if err != nil {
		return nil, err
	}
	if verdict == quiz.VerdictBlocked {
		metrics.ScheduleEmpty.WithLabelValues("quiz_blocked").Inc()
		return nil, nil
	}

	calibration := req.GoldOnly || verdict == quiz.VerdictGoldOnly
	policy := req.Project.SchedulerPolicy()

	query := sqlite.TaskQuery{
		ProjectID:   req.Project.ID,
		Exclude:     req.Actor,
		Calibration: &calibration,
		OrderBy:     req.OrderBy,
		Desc:        req.Desc,
		// Randomizing the tiebreak inside the query keeps every task of
		// the top priority tier reachable even at limit=1: the shuffle
		// happens before the LIMIT, not after it.
		RandomTiebreak: req.Project.RandWithinPriority,
		Limit:          limit,
		Offset:         offset,
	}

	switch policy {
	case domain.PolicyDepthFirst:
		query.Order = sqlite.OrderOldestFirst
	case domain.PolicyBreadthFirst:
		query.Order = sqlite.OrderFewestRuns
	default:
		query.Order = sqlite.OrderPriority
	}

	if policy.RequiresLock() {
		// Over-fetch so contended candidates can be skipped without a
		// second query; the probe count stays bounded.
		query.Limit = limit + s.config.LockProbeMargin
	}

	candidates, err := s.db.CandidateTasks(query)
	if err != nil {
		return nil, err
	}

	var tasks []domain.Task
	if policy.RequiresLock() {
		tasks, err = s.lockCandidates(ctx, req, policy, candidates, limit)
		if err != nil {
			return nil, err
		}
	} else {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		tasks = candidates
	}

	if len(tasks) == 0 {
		metrics.ScheduleEmpty.WithLabelValues("no_candidates").Inc()
		return nil, nil
	}
	metrics.TasksScheduled.WithLabelValues(string(policy)).Add(float64(len(tasks)))
	return tasks, nil
}

// lockCandidates walks the ordered candidate list attempting one atomic
// acquire per task. Contended tasks are skipped, never retried; a store
// failure aborts the request rather than risking a double assignment.
func (s *Scheduler) lockCandidates(ctx context.Context, req Request, policy domain.Policy, candidates []domain.Task, limit int) ([]domain.Task, error) {
	ttl := req.Project.Timeout()
	var locked []domain.Task

	for i := range candidates {
		if len(locked) >= limit {
			break
		}
		task := candidates[i]

		if policy == domain.PolicyUserPref && !matchesPreferences(&task, req.Preferences) {
			continue
		}

		ok, err := s.locks.Acquire(ctx, task.ID, req.Actor, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			locked = append(locked, task)
		}
	}
	return locked, nil
}

// matchesPreferences reports whether the task's tags admit the requester.
// Untagged tasks match everyone.
func matchesPreferences(task *domain.Task, prefs []string) bool {
	tags := task.PreferenceTags()
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		for _, p := range prefs {
			if tag == p {
				return true
			}
		}
	}
	return false
}
