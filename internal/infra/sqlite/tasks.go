package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ywrsusan/pybossa/internal/domain"
)

const taskCols = `id, project_id, state, n_answers, priority_0, calibration,
	gold_answers, info, created, exported`

// TaskOrder selects the candidate ordering used by a scheduling policy.
type TaskOrder int

const (
	// OrderPriority orders by priority descending, tie-broken by the
	// query's OrderBy/Desc column (default ascending id).
	OrderPriority TaskOrder = iota
	// OrderOldestFirst orders by priority descending, then oldest created.
	OrderOldestFirst
	// OrderFewestRuns orders by accumulated run count ascending, then
	// priority descending. Round-robins contributors across under-answered
	// tasks.
	OrderFewestRuns
)

// TaskQuery describes a candidate-set query for the scheduler: ongoing
// tasks in a project, not yet answered by the excluded actor, optionally
// restricted by calibration flag.
type TaskQuery struct {
	ProjectID   int64
	Exclude     domain.Actor
	Calibration *bool
	Order       TaskOrder
	OrderBy     string
	Desc        bool
	// RandomTiebreak replaces the OrderBy tiebreak under OrderPriority
	// with RANDOM(). Randomizing inside the query matters: it must happen
	// before LIMIT/OFFSET so every task in the top priority tier is a
	// candidate for the first page, not just the lowest ids.
	RandomTiebreak bool
	Limit          int
	Offset         int
}

// CreateTask inserts a task and fills in its assigned ID.
func (d *DB) CreateTask(t *domain.Task) error {
	if t.State == "" {
		t.State = domain.TaskOngoing
	}
	if t.NAnswers < 1 {
		t.NAnswers = 1
	}
	if math.IsNaN(t.Priority) || t.Priority < 0 {
		t.Priority = 0
	} else if t.Priority > 1 {
		t.Priority = 1
	}
	if t.Created.IsZero() {
		t.Created = time.Now()
	}

	info, err := encodeInfo(t.Info)
	if err != nil {
		return err
	}
	gold := sql.NullString{}
	if t.GoldAnswers != nil {
		g, err := encodeInfo(t.GoldAnswers)
		if err != nil {
			return err
		}
		gold = sql.NullString{String: g, Valid: true}
	}

	res, err := d.db.Exec(
		`INSERT INTO tasks (project_id, state, n_answers, priority_0, calibration,
			gold_answers, info, created, exported)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, string(t.State), t.NAnswers, t.Priority, t.Calibration,
		gold, info, t.Created.Unix(), t.Exported,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// GetTask retrieves a single task by id.
func (d *DB) GetTask(id int64) (*domain.Task, error) {
	row := d.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns tasks of a project, optionally restricted to ids,
// ordered by id.
func (d *DB) ListTasks(projectID int64, ids []int64) ([]domain.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if len(ids) > 0 {
		query += ` AND id IN (` + inPlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// CountTasks returns the number of tasks in a project.
func (d *DB) CountTasks(projectID int64) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(id) FROM tasks WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

// CountOngoingTasks returns the number of ongoing tasks in a project.
func (d *DB) CountOngoingTasks(projectID int64) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(id) FROM tasks WHERE project_id = ? AND state = 'ongoing'`,
		projectID).Scan(&n)
	return n, err
}

// CountAvailableTasks returns how many ongoing tasks the actor could still
// be served (tasks they have not answered yet).
func (d *DB) CountAvailableTasks(projectID int64, actor domain.Actor) (int, error) {
	query := `SELECT COUNT(id) FROM tasks WHERE project_id = ? AND state = 'ongoing'`
	args := []any{projectID}
	switch {
	case actor.UserID > 0:
		query += ` AND id NOT IN (SELECT task_id FROM task_runs WHERE project_id = ? AND user_id = ?)`
		args = append(args, projectID, actor.UserID)
	case actor.ExternalUID != "":
		query += ` AND id NOT IN (SELECT task_id FROM task_runs WHERE project_id = ? AND external_uid = ?)`
		args = append(args, projectID, actor.ExternalUID)
	case actor.IP != "":
		query += ` AND id NOT IN (SELECT task_id FROM task_runs WHERE project_id = ? AND user_ip = ?)`
		args = append(args, projectID, actor.IP)
	}
	var n int
	err := d.db.QueryRow(query, args...).Scan(&n)
	return n, err
}

// SetTaskGold marks a task as a calibration task with the given expected
// answers.
func (d *DB) SetTaskGold(taskID int64, goldAnswers map[string]any) error {
	gold, err := encodeInfo(goldAnswers)
	if err != nil {
		return err
	}
	res, err := d.db.Exec(
		`UPDATE tasks SET calibration = 1, gold_answers = ? WHERE id = ?`,
		gold, taskID,
	)
	if err != nil {
		return fmt.Errorf("set task gold: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// SetTaskExported flips a task's exported flag.
func (d *DB) SetTaskExported(taskID int64, exported bool) error {
	_, err := d.db.Exec(`UPDATE tasks SET exported = ? WHERE id = ?`, exported, taskID)
	return err
}

// UpdatePriority sets priority_0 for a project's tasks, optionally
// restricted to ids. The caller clamps the value; this is a pure data
// update with no state-machine effect.
func (d *DB) UpdatePriority(projectID int64, priority float64, ids []int64) error {
	query := `UPDATE tasks SET priority_0 = ? WHERE project_id = ?`
	args := []any{priority, projectID}
	if len(ids) > 0 {
		query += ` AND id IN (` + inPlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	_, err := d.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update priority: %w", err)
	}
	return nil
}

// orderColumn whitelists user-supplied tiebreak columns.
func orderColumn(orderBy string) string {
	switch orderBy {
	case "created":
		return "t.created"
	case "priority_0":
		return "t.priority_0"
	default:
		return "t.id"
	}
}

// CandidateTasks returns the scheduler's candidate set: ongoing tasks the
// excluded actor has not answered, in the requested order.
func (d *DB) CandidateTasks(q TaskQuery) ([]domain.Task, error) {
	query := `SELECT t.id, t.project_id, t.state, t.n_answers, t.priority_0,
		t.calibration, t.gold_answers, t.info, t.created, t.exported
		FROM tasks t`
	args := []any{}

	if q.Order == OrderFewestRuns {
		query += ` LEFT OUTER JOIN (
			SELECT task_id, COUNT(id) AS ct FROM task_runs
			WHERE project_id = ? GROUP BY task_id
		) rc ON rc.task_id = t.id`
		args = append(args, q.ProjectID)
	}

	query += ` WHERE t.project_id = ? AND t.state = 'ongoing'`
	args = append(args, q.ProjectID)

	if q.Calibration != nil {
		query += ` AND t.calibration = ?`
		args = append(args, *q.Calibration)
	}

	switch {
	case q.Exclude.UserID > 0:
		query += ` AND t.id NOT IN (
			SELECT task_id FROM task_runs WHERE project_id = ? AND user_id = ?)`
		args = append(args, q.ProjectID, q.Exclude.UserID)
	case q.Exclude.ExternalUID != "":
		query += ` AND t.id NOT IN (
			SELECT task_id FROM task_runs WHERE project_id = ? AND external_uid = ?)`
		args = append(args, q.ProjectID, q.Exclude.ExternalUID)
	case q.Exclude.IP != "":
		query += ` AND t.id NOT IN (
			SELECT task_id FROM task_runs WHERE project_id = ? AND user_ip = ?)`
		args = append(args, q.ProjectID, q.Exclude.IP)
	}

	switch {
	case q.Order == OrderOldestFirst:
		query += ` ORDER BY t.priority_0 DESC, t.created ASC, t.id ASC`
	case q.Order == OrderFewestRuns:
		query += ` ORDER BY COALESCE(rc.ct, 0) ASC, t.priority_0 DESC, t.id ASC`
	case q.RandomTiebreak:
		query += ` ORDER BY t.priority_0 DESC, RANDOM()`
	default:
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		query += fmt.Sprintf(` ORDER BY t.priority_0 DESC, %s %s, t.id ASC`,
			orderColumn(q.OrderBy), dir)
	}

	query += ` LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("candidate tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(s scanner) (*domain.Task, error) {
	var t domain.Task
	var state, info string
	var gold sql.NullString
	var created int64

	err := s.Scan(&t.ID, &t.ProjectID, &state, &t.NAnswers, &t.Priority,
		&t.Calibration, &gold, &info, &created, &t.Exported)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	t.State = domain.TaskState(state)
	t.Created = time.Unix(created, 0)
	if t.Info, err = decodeInfo(info); err != nil {
		return nil, err
	}
	if gold.Valid {
		if t.GoldAnswers, err = decodeInfo(gold.String); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
