// Package quiz implements the per-user-per-project calibration gate.
//
// State machine:
//
//	not_started --(enabled & first eligible request)--> in_progress
//	in_progress --(right >= pass)--------------------> passed   (terminal)
//	in_progress --(all answered & right < pass)------> failed   (terminal)
//
// A terminal quiz is immutable; any further answer is rejected with
// ErrQuizFinalized. Gating happens before task selection: the scheduler
// asks the gate for a verdict, never the other way around.
package quiz

import (
	"fmt"

	"github.com/ywrsusan/pybossa/internal/domain"
	"github.com/ywrsusan/pybossa/internal/infra/metrics"
	"github.com/ywrsusan/pybossa/internal/infra/sqlite"
)

// Verdict is the gate's answer to "what may this user be served?".
type Verdict int

const (
	// VerdictNormal — quiz disabled or passed; serve normal tasks.
	VerdictNormal Verdict = iota
	// VerdictGoldOnly — quiz pending; serve only calibration tasks.
	VerdictGoldOnly
	// VerdictBlocked — quiz failed; serve nothing.
	VerdictBlocked
)

// String returns a human-readable verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictNormal:
		return "NORMAL"
	case VerdictGoldOnly:
		return "GOLD_ONLY"
	case VerdictBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Gate evaluates and mutates quiz state.
type Gate struct {
	db *sqlite.DB
}

// NewGate creates a quiz gate over the system of record.
func NewGate(db *sqlite.DB) *Gate {
	return &Gate{db: db}
}

// QuizFor returns the user's quiz for the project, synthesizing a
// not_started quiz from the project's config when no row exists yet.
// Anonymous actors never have quizzes.
func (g *Gate) QuizFor(userID int64, project *domain.Project) (*domain.Quiz, error) {
	if userID <= 0 {
		return &domain.Quiz{ProjectID: project.ID, Status: domain.QuizNotStarted}, nil
	}
	q, err := g.db.GetQuiz(userID, project.ID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		q = &domain.Quiz{
			UserID:    userID,
			ProjectID: project.ID,
			Status:    domain.QuizNotStarted,
			Config:    project.Quiz,
		}
	}
	return q, nil
}

// Evaluate returns the gate's verdict for (user, project).
func (g *Gate) Evaluate(userID int64, project *domain.Project) (Verdict, error) {
	q, err := g.QuizFor(userID, project)
	if err != nil {
		return VerdictNormal, err
	}
	switch {
	case q.Status == domain.QuizFailed:
		return VerdictBlocked, nil
	case q.Config.Enabled && !q.Status.Terminal():
		return VerdictGoldOnly, nil
	default:
		return VerdictNormal, nil
	}
}

// BeginIfEligible flips a not_started quiz to in_progress on the user's
// first eligible request: quiz enabled and the user has not contributed to
// the project before. Idempotent for any other state.
func (g *Gate) BeginIfEligible(userID int64, project *domain.Project) error {
	if userID <= 0 {
		return nil
	}
	q, err := g.QuizFor(userID, project)
	if err != nil {
		return err
	}
	if !q.Config.Enabled || q.Status != domain.QuizNotStarted {
		return nil
	}
	contributed, err := g.db.ActorHasRuns(project.ID, domain.Actor{UserID: userID})
	if err != nil {
		return err
	}
	if contributed {
		return nil
	}

	q.Status = domain.QuizInProgress
	if err := g.db.UpsertQuiz(q); err != nil {
		return err
	}
	metrics.QuizTransitions.WithLabelValues(string(domain.QuizInProgress)).Inc()
	return nil
}

// RecordAnswer grades one calibration answer and applies the transition
// rules, persisting the new state. Mutating a terminal quiz fails with
// ErrQuizFinalized and leaves the stored result untouched.
func (g *Gate) RecordAnswer(userID int64, project *domain.Project, correct bool) (*domain.Quiz, error) {
	q, err := g.QuizFor(userID, project)
	if err != nil {
		return nil, err
	}
	if q.Status.Terminal() {
		return nil, fmt.Errorf("quiz for user %d project %d: %w",
			userID, project.ID, domain.ErrQuizFinalized)
	}

	if correct {
		q.Result.Right++
	} else {
		q.Result.Wrong++
	}
	q.Status = domain.QuizInProgress

	switch {
	case q.Result.Right >= q.Config.Pass:
		q.Status = domain.QuizPassed
	case q.Answered() >= q.Config.Questions:
		q.Status = domain.QuizFailed
	}

	if err := g.db.UpsertQuiz(q); err != nil {
		return nil, err
	}
	if q.Status.Terminal() {
		metrics.QuizTransitions.WithLabelValues(string(q.Status)).Inc()
	}
	return q, nil
}

// Reset returns the quiz to not_started with zeroed counters, keeping the
// existing config snapshot. Idempotent when no quiz exists.
func (g *Gate) Reset(userID int64, project *domain.Project) error {
	q, err := g.db.GetQuiz(userID, project.ID)
	if err != nil {
		return err
	}
	if q == nil {
		return nil
	}
	q.Status = domain.QuizNotStarted
	q.Result = domain.QuizResult{}
	return g.db.UpsertQuiz(q)
}

// SetStatus force-sets a quiz status for administrative flows. The config
// snapshot is taken from the project when no quiz row exists yet.
func (g *Gate) SetStatus(userID int64, project *domain.Project, status domain.QuizStatus) error {
	q, err := g.QuizFor(userID, project)
	if err != nil {
		return err
	}
	q.Status = status
	return g.db.UpsertQuiz(q)
}
