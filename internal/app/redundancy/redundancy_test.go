package redundancy

import (
	"errors"
	"math"
	"testing"
	"time"

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

func newProject(t *testing.T, db *sqlite.DB) *domain.Project {
	t.Helper()
	p := &domain.Project{ShortName: "proj", OwnerID: 1}
	if err := db.CreateProject(p); err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	return p
}

func newTask(t *testing.T, db *sqlite.DB, p *domain.Project, nAnswers int) *domain.Task {
	t.Helper()
	task := &domain.Task{ProjectID: p.ID, NAnswers: nAnswers}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	return task
}

func addRun(t *testing.T, db *sqlite.DB, e *Engine, task *domain.Task, userID int64) *domain.TaskRun {
	t.Helper()
	r := &domain.TaskRun{TaskID: task.ID, ProjectID: task.ProjectID, UserID: userID}
	if err := db.CreateTaskRun(r); err != nil {
		t.Fatalf("CreateTaskRun() error: %v", err)
	}
	if err := e.OnTaskRunCreated(r); err != nil {
		t.Fatalf("OnTaskRunCreated() error: %v", err)
	}
	return r
}

// ─── Completion on Run Creation ─────────────────────────────────────────────

func TestEngine_TaskCompletesAtRedundancy(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	task := newTask(t, db, p, 2)

	addRun(t, db, e, task, 100)

	got, _ := db.GetTask(task.ID)
	if got.State != domain.TaskOngoing {
		t.Fatalf("state after 1/2 runs = %s, want ongoing", got.State)
	}
	if res, _ := db.LatestResult(task.ID); res != nil {
		t.Fatal("result materialized before redundancy reached")
	}

	addRun(t, db, e, task, 101)

	got, _ = db.GetTask(task.ID)
	if got.State != domain.TaskCompleted {
		t.Fatalf("state after 2/2 runs = %s, want completed", got.State)
	}

	res, err := db.LatestResult(task.ID)
	if err != nil {
		t.Fatalf("LatestResult() error: %v", err)
	}
	if res == nil {
		t.Fatal("no result materialized at completion")
	}
	if !res.LastVersion {
		t.Error("materialized result is not last_version")
	}
	if len(res.TaskRunIDs) != 2 {
		t.Errorf("result run ids = %v, want both runs", res.TaskRunIDs)
	}
}

func TestEngine_ExtraRunDoesNotRecomplete(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	task := newTask(t, db, p, 1)

	addRun(t, db, e, task, 100)
	results, _ := db.ListResults(task.ID)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}

	// A straggler run against an already-completed task leaves the
	// materialized result alone.
	r := &domain.TaskRun{TaskID: task.ID, ProjectID: p.ID, UserID: 101}
	if err := db.CreateTaskRun(r); err != nil {
		t.Fatalf("CreateTaskRun() error: %v", err)
	}
	if err := e.OnTaskRunCreated(r); err != nil {
		t.Fatalf("OnTaskRunCreated() error: %v", err)
	}

	results, _ = db.ListResults(task.ID)
	if len(results) != 1 {
		t.Errorf("results after straggler = %d, want still 1", len(results))
	}
}

// ─── Redundancy Updates ─────────────────────────────────────────────────────

func TestEngine_UpdateRedundancyValidation(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)

	for _, n := range []int{0, -1, 1001} {
		if _, err := e.UpdateRedundancy(p.ID, n, nil); !errors.Is(err, domain.ErrInvalidRedundancy) {
			t.Errorf("UpdateRedundancy(%d) error = %v, want ErrInvalidRedundancy", n, err)
		}
	}
}

func TestEngine_RaiseRedundancyReopens(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	task := newTask(t, db, p, 1)

	addRun(t, db, e, task, 100)
	got, _ := db.GetTask(task.ID)
	if got.State != domain.TaskCompleted {
		t.Fatalf("precondition: task should be completed, is %s", got.State)
	}

	notUpdated, err := e.UpdateRedundancy(p.ID, 2, nil)
	if err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}
	if len(notUpdated) != 0 {
		t.Errorf("notUpdated = %v, want none", notUpdated)
	}

	got, _ = db.GetTask(task.ID)
	if got.State != domain.TaskOngoing || got.NAnswers != 2 {
		t.Errorf("task = (%s, %d), want (ongoing, 2)", got.State, got.NAnswers)
	}

	// Raising invalidates the stale consensus entirely
	results, _ := db.ListResults(task.ID)
	if len(results) != 0 {
		t.Errorf("results after reopen = %d, want 0", len(results))
	}
}

func TestEngine_LowerRedundancyCompletes(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	task := newTask(t, db, p, 3)

	addRun(t, db, e, task, 100)
	addRun(t, db, e, task, 101)

	if _, err := e.UpdateRedundancy(p.ID, 2, nil); err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != domain.TaskCompleted || got.NAnswers != 2 {
		t.Errorf("task = (%s, %d), want (completed, 2)", got.State, got.NAnswers)
	}

	res, _ := db.LatestResult(task.ID)
	if res == nil || len(res.TaskRunIDs) != 2 {
		t.Errorf("result = %+v, want one covering both runs", res)
	}
}

func TestEngine_UpdateRedundancyIdempotent(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	task := newTask(t, db, p, 2)

	addRun(t, db, e, task, 100)
	addRun(t, db, e, task, 101)

	if _, err := e.UpdateRedundancy(p.ID, 2, nil); err != nil {
		t.Fatalf("UpdateRedundancy() #1 error: %v", err)
	}
	if _, err := e.UpdateRedundancy(p.ID, 2, nil); err != nil {
		t.Fatalf("UpdateRedundancy() #2 error: %v", err)
	}

	results, _ := db.ListResults(task.ID)
	var lastVersions int
	for _, r := range results {
		if r.LastVersion {
			lastVersions++
		}
	}
	if lastVersions != 1 {
		t.Errorf("last_version results = %d, want exactly 1", lastVersions)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want no duplicates from a repeated update", len(results))
	}
}

func TestEngine_ScopedUpdateLeavesOthersAlone(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	touched := newTask(t, db, p, 1)
	untouched := newTask(t, db, p, 1)

	if _, err := e.UpdateRedundancy(p.ID, 5, []int64{touched.ID}); err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}

	got, _ := db.GetTask(touched.ID)
	if got.NAnswers != 5 {
		t.Errorf("touched task n_answers = %d, want 5", got.NAnswers)
	}
	got, _ = db.GetTask(untouched.ID)
	if got.NAnswers != 1 {
		t.Errorf("untouched task n_answers = %d, want 1", got.NAnswers)
	}
}

// ─── Lowering Exemption ─────────────────────────────────────────────────────

func TestEngine_CompletedUploadTaskExemptFromLowering(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)

	task := &domain.Task{
		ProjectID: p.ID, NAnswers: 3,
		Info: map[string]any{"photo__upload_url": "https://bucket/x.jpg"},
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if err := db.CompleteTask(task.ID, 0); err != nil {
		t.Fatalf("CompleteTask() error: %v", err)
	}

	notUpdated, err := e.UpdateRedundancy(p.ID, 1, nil)
	if err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}
	if len(notUpdated) != 1 || notUpdated[0] != task.ID {
		t.Errorf("notUpdated = %v, want [%d]", notUpdated, task.ID)
	}

	got, _ := db.GetTask(task.ID)
	if got.NAnswers != 3 {
		t.Errorf("exempt task n_answers = %d, want unchanged 3", got.NAnswers)
	}
}

func TestEngine_StaleUploadTaskExemptFromLowering(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)

	task := &domain.Task{
		ProjectID: p.ID, NAnswers: 3,
		Info:    map[string]any{"doc__upload_url": "https://bucket/d.pdf"},
		Created: time.Now().Add(-31 * 24 * time.Hour),
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	notUpdated, err := e.UpdateRedundancy(p.ID, 1, nil)
	if err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}
	if len(notUpdated) != 1 || notUpdated[0] != task.ID {
		t.Errorf("notUpdated = %v, want [%d]", notUpdated, task.ID)
	}
}

func TestEngine_FreshUploadTaskNotExempt(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)

	task := &domain.Task{
		ProjectID: p.ID, NAnswers: 3,
		Info: map[string]any{"doc__upload_url": "https://bucket/d.pdf"},
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	notUpdated, err := e.UpdateRedundancy(p.ID, 1, nil)
	if err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}
	if len(notUpdated) != 0 {
		t.Errorf("notUpdated = %v, want none for a fresh ongoing task", notUpdated)
	}

	got, _ := db.GetTask(task.ID)
	if got.NAnswers != 1 {
		t.Errorf("n_answers = %d, want lowered to 1", got.NAnswers)
	}
}

func TestEngine_RaisingIgnoresExemption(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)

	task := &domain.Task{
		ProjectID: p.ID, NAnswers: 1,
		Info: map[string]any{"photo__upload_url": "https://bucket/x.jpg"},
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if err := db.CompleteTask(task.ID, 0); err != nil {
		t.Fatalf("CompleteTask() error: %v", err)
	}

	notUpdated, err := e.UpdateRedundancy(p.ID, 4, nil)
	if err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}
	if len(notUpdated) != 0 {
		t.Errorf("notUpdated = %v, raising should never be exempt", notUpdated)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != domain.TaskOngoing || got.NAnswers != 4 {
		t.Errorf("task = (%s, %d), want (ongoing, 4)", got.State, got.NAnswers)
	}
}

func TestEngine_ReopeningClearsExportedFlag(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	task := newTask(t, db, p, 1)

	addRun(t, db, e, task, 100)
	if err := db.SetTaskExported(task.ID, true); err != nil {
		t.Fatalf("SetTaskExported() error: %v", err)
	}

	if _, err := e.UpdateRedundancy(p.ID, 2, nil); err != nil {
		t.Fatalf("UpdateRedundancy() error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.Exported {
		t.Error("exported flag survived a reopen")
	}
}

// ─── Priority Updates ───────────────────────────────────────────────────────

func TestEngine_UpdatePriorityClamps(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)
	task := newTask(t, db, p, 1)

	cases := []struct {
		in   float64
		want float64
	}{
		{0.5, 0.5},
		{-3, 0},
		{7, 1},
	}
	for _, c := range cases {
		if err := e.UpdatePriority(p.ID, c.in, nil); err != nil {
			t.Fatalf("UpdatePriority(%v) error: %v", c.in, err)
		}
		got, _ := db.GetTask(task.ID)
		if got.Priority != c.want {
			t.Errorf("priority after UpdatePriority(%v) = %v, want %v", c.in, got.Priority, c.want)
		}
	}
}

func TestEngine_UpdatePriorityRejectsNonFinite(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, 30)
	p := newProject(t, db)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := e.UpdatePriority(p.ID, bad, nil); !errors.Is(err, domain.ErrInvalidPriority) {
			t.Errorf("UpdatePriority(%v) error = %v, want ErrInvalidPriority", bad, err)
		}
	}
}
