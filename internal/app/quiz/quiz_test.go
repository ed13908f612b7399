package quiz

import (
	"errors"
	"testing"

	"github.com/ywrsusan/pybossa/internal/domain"
	"github.com/ywrsusan/pybossa/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quizProject(t *testing.T, db *sqlite.DB, questions, pass int) *domain.Project {
	t.Helper()
	p := &domain.Project{
		ShortName: "quizzed",
		OwnerID:   1,
		Quiz:      domain.QuizConfig{Enabled: true, Questions: questions, Pass: pass},
	}
	if err := db.CreateProject(p); err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	return p
}

// ─── Verdicts ───────────────────────────────────────────────────────────────

func TestGate_DisabledQuizIsNormal(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)

	p := &domain.Project{ShortName: "plain", OwnerID: 1}
	if err := db.CreateProject(p); err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}

	v, err := g.Evaluate(5, p)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if v != VerdictNormal {
		t.Errorf("verdict = %v, want NORMAL", v)
	}
}

func TestGate_PendingQuizIsGoldOnly(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 5, 3)

	v, err := g.Evaluate(5, p)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if v != VerdictGoldOnly {
		t.Errorf("verdict = %v, want GOLD_ONLY", v)
	}
}

func TestGate_AnonymousActorIsNormal(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 5, 3)

	// Anonymous contributors carry no quiz state and are never gated.
	v, err := g.Evaluate(0, p)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if v != VerdictNormal {
		t.Errorf("verdict = %v, want NORMAL for anonymous", v)
	}
}

// ─── Transitions ────────────────────────────────────────────────────────────

func TestGate_BeginIfEligible(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 5, 3)

	if err := g.BeginIfEligible(5, p); err != nil {
		t.Fatalf("BeginIfEligible() error: %v", err)
	}

	q, err := g.QuizFor(5, p)
	if err != nil {
		t.Fatalf("QuizFor() error: %v", err)
	}
	if q.Status != domain.QuizInProgress {
		t.Errorf("status = %s, want in_progress", q.Status)
	}
	if q.Config != p.Quiz {
		t.Errorf("config snapshot = %+v, want %+v", q.Config, p.Quiz)
	}
}

func TestGate_BeginSkipsPriorContributors(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 5, 3)

	task := &domain.Task{ProjectID: p.ID}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	run := &domain.TaskRun{TaskID: task.ID, ProjectID: p.ID, UserID: 5}
	if err := db.CreateTaskRun(run); err != nil {
		t.Fatalf("CreateTaskRun() error: %v", err)
	}

	if err := g.BeginIfEligible(5, p); err != nil {
		t.Fatalf("BeginIfEligible() error: %v", err)
	}

	q, _ := g.QuizFor(5, p)
	if q.Status != domain.QuizNotStarted {
		t.Errorf("status = %s, want not_started for a prior contributor", q.Status)
	}
}

func TestGate_PassTransition(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 5, 2)

	g.BeginIfEligible(5, p)

	q, err := g.RecordAnswer(5, p, true)
	if err != nil {
		t.Fatalf("RecordAnswer() error: %v", err)
	}
	if q.Status != domain.QuizInProgress {
		t.Errorf("status after 1 right = %s, want in_progress", q.Status)
	}

	q, err = g.RecordAnswer(5, p, true)
	if err != nil {
		t.Fatalf("RecordAnswer() error: %v", err)
	}
	if q.Status != domain.QuizPassed {
		t.Errorf("status after reaching pass = %s, want passed", q.Status)
	}

	v, _ := g.Evaluate(5, p)
	if v != VerdictNormal {
		t.Errorf("verdict after pass = %v, want NORMAL", v)
	}
}

func TestGate_FailTransition(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 3, 2)

	g.BeginIfEligible(5, p)

	g.RecordAnswer(5, p, false)
	g.RecordAnswer(5, p, false)
	q, err := g.RecordAnswer(5, p, true)
	if err != nil {
		t.Fatalf("RecordAnswer() error: %v", err)
	}
	if q.Status != domain.QuizFailed {
		t.Errorf("status = %s, want failed (1 right of 3 answered, pass 2)", q.Status)
	}

	v, _ := g.Evaluate(5, p)
	if v != VerdictBlocked {
		t.Errorf("verdict after fail = %v, want BLOCKED", v)
	}
}

func TestGate_TerminalQuizIsImmutable(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 5, 1)

	g.BeginIfEligible(5, p)
	g.RecordAnswer(5, p, true) // passed

	_, err := g.RecordAnswer(5, p, true)
	if !errors.Is(err, domain.ErrQuizFinalized) {
		t.Fatalf("RecordAnswer() on terminal quiz error = %v, want ErrQuizFinalized", err)
	}

	q, _ := g.QuizFor(5, p)
	if q.Status != domain.QuizPassed || q.Result.Right != 1 {
		t.Errorf("terminal quiz mutated: status=%s right=%d", q.Status, q.Result.Right)
	}
}

func TestGate_Reset(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 3, 3)

	g.BeginIfEligible(5, p)
	g.RecordAnswer(5, p, false)
	g.RecordAnswer(5, p, false)
	g.RecordAnswer(5, p, false) // failed

	if err := g.Reset(5, p); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}

	q, _ := g.QuizFor(5, p)
	if q.Status != domain.QuizNotStarted {
		t.Errorf("status after reset = %s, want not_started", q.Status)
	}
	if q.Answered() != 0 {
		t.Errorf("answered after reset = %d, want 0", q.Answered())
	}
	if q.Config != p.Quiz {
		t.Errorf("reset dropped the config snapshot: %+v", q.Config)
	}
}

func TestGate_ResetWithoutQuizIsNoop(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 3, 2)

	if err := g.Reset(5, p); err != nil {
		t.Errorf("Reset() without a quiz errored: %v", err)
	}
}

func TestGate_SetStatus(t *testing.T) {
	db := newTestDB(t)
	g := NewGate(db)
	p := quizProject(t, db, 3, 2)

	if err := g.SetStatus(5, p, domain.QuizPassed); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}

	v, _ := g.Evaluate(5, p)
	if v != VerdictNormal {
		t.Errorf("verdict after forced pass = %v, want NORMAL", v)
	}
}
