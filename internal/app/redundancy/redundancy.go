// Package redundancy maintains each task's completion state as task runs
// accumulate or as redundancy targets change, and materializes consensus
// Results. The completion invariant: a task is completed iff its run count
// reached n_answers at the last recomputation.
package redundancy

import (
	"fmt"
	"math"
	"time"

	"github.com/ywrsusan/pybossa/internal/domain"
	"github.com/ywrsusan/pybossa/internal/infra/metrics"
	"github.com/ywrsusan/pybossa/internal/infra/sqlite"
)

const (
	// Redundancy targets outside [MinNAnswers, MaxNAnswers] are rejected
	// before any mutation.
	MinNAnswers = 1
	MaxNAnswers = 1000
)

// Engine drives the ongoing ⇄ completed state machine.
type Engine struct {
	db *sqlite.DB

	// retention is how long a task with exported artifacts stays eligible
	// for redundancy lowering after creation.
	retention time.Duration
}

// NewEngine creates a redundancy engine. retentionDays bounds redundancy
// lowering on tasks with exported artifacts (default 30).
func NewEngine(db *sqlite.DB, retentionDays int) *Engine {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Engine{db: db, retention: time.Duration(retentionDays) * 24 * time.Hour}
}

// OnTaskRunCreated recomputes the owning task's completion state after a
// new run is persisted. Crossing the redundancy target flips the task to
// completed and materializes its Result in the same transaction.
func (e *Engine) OnTaskRunCreated(run *domain.TaskRun) error {
	task, err := e.db.GetTask(run.TaskID)
	if err != nil {
		return err
	}
	count, err := e.db.CountTaskRuns(task.ID)
	if err != nil {
		return err
	}

	if count >= task.NAnswers && task.State == domain.TaskOngoing {
		if err := e.db.CompleteTask(task.ID, 0); err != nil {
			return fmt.Errorf("complete task %d: %w", task.ID, err)
		}
		metrics.ResultsMaterialized.Inc()
	}
	return nil
}

// UpdateRedundancy sets a new redundancy target on a project's tasks
// (optionally restricted to taskIDs) and recomputes each task's state
// against a single run-count snapshot. Tasks with exported artifacts that
// are completed or past the retention window are exempt from lowering and
// returned as not updated; the batch continues past them.
func (e *Engine) UpdateRedundancy(projectID int64, nAnswers int, taskIDs []int64) (notUpdated []int64, err error) {
	if nAnswers < MinNAnswers || nAnswers > MaxNAnswers {
		return nil, fmt.Errorf("n_answers %d: %w", nAnswers, domain.ErrInvalidRedundancy)
	}

	// One aggregating query; every task below is judged against this
	// snapshot so the batch cannot observe read skew.
	counts, err := e.db.RunCountSnapshot(projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.db.ListTasks(projectID, taskIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range tasks {
		task := &tasks[i]
		if task.NAnswers == nAnswers {
			continue
		}

		runs := counts[task.ID]
		if runs < nAnswers && e.exemptFromLowering(task, now) {
			notUpdated = append(notUpdated, task.ID)
			continue
		}

		// Each task's state flip and Result change is one transaction:
		// interrupting the batch never leaves a task inconsistent with
		// its Result.
		if runs >= nAnswers {
			if err := e.db.CompleteTask(task.ID, nAnswers); err != nil {
				return notUpdated, fmt.Errorf("complete task %d: %w", task.ID, err)
			}
			if task.State == domain.TaskOngoing {
				metrics.ResultsMaterialized.Inc()
			}
		} else {
			if err := e.db.ReopenTask(task.ID, nAnswers); err != nil {
				return notUpdated, fmt.Errorf("reopen task %d: %w", task.ID, err)
			}
			if task.State == domain.TaskCompleted {
				metrics.TasksReopened.Inc()
			}
			// Raising redundancy reopens the export window.
			if task.Exported {
				if err := e.db.SetTaskExported(task.ID, false); err != nil {
					return notUpdated, err
				}
			}
		}
	}
	return notUpdated, nil
}

// exemptFromLowering reports whether the task's externally stored
// artifacts protect it from a redundancy decrease: once files are pushed
// to durable storage, a completed or stale task keeps its target.
func (e *Engine) exemptFromLowering(task *domain.Task, now time.Time) bool {
	if !task.HasUploadArtifact() {
		return false
	}
	return task.State == domain.TaskCompleted || now.Sub(task.Created) > e.retention
}

// UpdatePriority sets priority on a project's tasks (optionally restricted
// to taskIDs). Pure data update, no state-machine effect; finite values
// are clamped to [0, 1].
func (e *Engine) UpdatePriority(projectID int64, priority float64, taskIDs []int64) error {
	if math.IsNaN(priority) || math.IsInf(priority, 0) {
		return fmt.Errorf("priority %v: %w", priority, domain.ErrInvalidPriority)
	}
	priority = math.Min(1, math.Max(0, priority))
	return e.db.UpdatePriority(projectID, priority, taskIDs)
}
