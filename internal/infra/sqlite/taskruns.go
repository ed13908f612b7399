package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ywrsusan/pybossa/internal/domain"
)

// CreateTaskRun inserts a task run and fills in its assigned ID.
// Exactly one of UserID / UserIP / ExternalUID must identify the contributor.
func (d *DB) CreateTaskRun(r *domain.TaskRun) error {
	identities := 0
	if r.UserID > 0 {
		identities++
	}
	if r.UserIP != "" {
		identities++
	}
	if r.ExternalUID != "" {
		identities++
	}
	if identities != 1 {
		return fmt.Errorf("task run must carry exactly one of user_id, user_ip, external_uid")
	}
	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	if r.FinishTime.IsZero() {
		r.FinishTime = r.Created
	}

	info, err := encodeInfo(r.Info)
	if err != nil {
		return err
	}
	userID := sql.NullInt64{Int64: r.UserID, Valid: r.UserID > 0}
	userIP := sql.NullString{String: r.UserIP, Valid: r.UserIP != ""}
	externalUID := sql.NullString{String: r.ExternalUID, Valid: r.ExternalUID != ""}

	res, err := d.db.Exec(
		`INSERT INTO task_runs (task_id, project_id, user_id, user_ip, external_uid, info, created, finish_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.ProjectID, userID, userIP, externalUID, info, r.Created.Unix(), r.FinishTime.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// GetTaskRun retrieves a single task run by id.
func (d *DB) GetTaskRun(id int64) (*domain.TaskRun, error) {
	row := d.db.QueryRow(
		`SELECT id, task_id, project_id, user_id, user_ip, external_uid, info, created, finish_time
		 FROM task_runs WHERE id = ?`, id)
	return scanTaskRun(row)
}

// CountTaskRuns returns the number of runs accumulated by a task.
func (d *DB) CountTaskRuns(taskID int64) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(id) FROM task_runs WHERE task_id = ?`, taskID).Scan(&n)
	return n, err
}

// CountTaskRunsBy returns how many runs an actor has submitted in a project.
func (d *DB) CountTaskRunsBy(projectID int64, actor domain.Actor) (int, error) {
	var n int
	var err error
	switch {
	case actor.UserID > 0:
		err = d.db.QueryRow(
			`SELECT COUNT(id) FROM task_runs WHERE project_id = ? AND user_id = ?`,
			projectID, actor.UserID).Scan(&n)
	case actor.ExternalUID != "":
		err = d.db.QueryRow(
			`SELECT COUNT(id) FROM task_runs WHERE project_id = ? AND external_uid = ?`,
			projectID, actor.ExternalUID).Scan(&n)
	default:
		err = d.db.QueryRow(
			`SELECT COUNT(id) FROM task_runs WHERE project_id = ? AND user_ip = ?`,
			projectID, actor.IP).Scan(&n)
	}
	return n, err
}

// ActorHasRuns reports whether an actor has contributed to a project at all.
func (d *DB) ActorHasRuns(projectID int64, actor domain.Actor) (bool, error) {
	n, err := d.CountTaskRunsBy(projectID, actor)
	return n > 0, err
}

// TaskRunIDs returns the ordered ids of all runs contributing to a task.
func (d *DB) TaskRunIDs(taskID int64) ([]int64, error) {
	rows, err := d.db.Query(
		`SELECT id FROM task_runs WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task run ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RunCountSnapshot returns run counts per task for a whole project in a
// single aggregating query. The redundancy batch path evaluates every task
// against this one snapshot to avoid read skew across the batch.
func (d *DB) RunCountSnapshot(projectID int64) (map[int64]int, error) {
	rows, err := d.db.Query(
		`SELECT task_id, COUNT(id) FROM task_runs WHERE project_id = ? GROUP BY task_id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("run count snapshot: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var taskID int64
		var n int
		if err := rows.Scan(&taskID, &n); err != nil {
			return nil, err
		}
		counts[taskID] = n
	}
	return counts, rows.Err()
}

func scanTaskRun(s scanner) (*domain.TaskRun, error) {
	var r domain.TaskRun
	var userID sql.NullInt64
	var userIP, externalUID sql.NullString
	var info string
	var created, finish int64

	err := s.Scan(&r.ID, &r.TaskID, &r.ProjectID, &userID, &userIP, &externalUID, &info, &created, &finish)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskRunNotFound
	}
	if err != nil {
		return nil, err
	}

	r.UserID = userID.Int64
	r.UserIP = userIP.String
	r.ExternalUID = externalUID.String
	r.Created = time.Unix(created, 0)
	r.FinishTime = time.Unix(finish, 0)
	if r.Info, err = decodeInfo(info); err != nil {
		return nil, err
	}
	return &r, nil
}
