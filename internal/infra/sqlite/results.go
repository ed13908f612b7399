package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ywrsusan/pybossa/internal/domain"
)

// CompleteTask flips a task to completed and materializes its consensus
// Result in one transaction: the prior last_version row (if any) is
// invalidated and a fresh Result referencing the full ordered run-id list
// is inserted. If nAnswers > 0 the task's redundancy target is updated in
// the same transaction, so the task's state and its Result can never be
// observed inconsistent with each other.
//
// Re-completing a task whose current Result already references the same
// run ids is a no-op on the results table, which keeps redundancy updates
// idempotent.
func (d *DB) CompleteTask(taskID int64, nAnswers int) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin complete task: %w", err)
	}
	defer tx.Rollback()

	var projectID int64
	err = tx.QueryRow(`SELECT project_id FROM tasks WHERE id = ?`, taskID).Scan(&projectID)
	if err == sql.ErrNoRows {
		return domain.ErrTaskNotFound
	}
	if err != nil {
		return err
	}

	rows, err := tx.Query(`SELECT id FROM task_runs WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return err
	}
	var runIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		runIDs = append(runIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if nAnswers > 0 {
		if _, err := tx.Exec(`UPDATE tasks SET n_answers = ? WHERE id = ?`, nAnswers, taskID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE tasks SET state = 'completed' WHERE id = ?`, taskID); err != nil {
		return err
	}

	encoded, err := encodeIDs(runIDs)
	if err != nil {
		return err
	}

	// Skip re-materialization when the current Result already covers the
	// same run set.
	var currentIDs string
	err = tx.QueryRow(
		`SELECT task_run_ids FROM results WHERE task_id = ? AND last_version = 1`,
		taskID).Scan(&currentIDs)
	switch {
	case err == nil && currentIDs == encoded:
		return tx.Commit()
	case err != nil && err != sql.ErrNoRows:
		return err
	}

	if _, err := tx.Exec(`UPDATE results SET last_version = 0 WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO results (project_id, task_id, task_run_ids, last_version, created)
		 VALUES (?, ?, ?, 1, ?)`,
		projectID, taskID, encoded, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return tx.Commit()
}

// ReopenTask flips a task back to ongoing (redundancy was raised above its
// run count) and deletes any Results for it, in one transaction. If
// nAnswers > 0 the redundancy target is updated as well.
func (d *DB) ReopenTask(taskID int64, nAnswers int) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reopen task: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE tasks SET state = 'ongoing' WHERE id = ?`
	args := []any{taskID}
	if nAnswers > 0 {
		query = `UPDATE tasks SET state = 'ongoing', n_answers = ? WHERE id = ?`
		args = []any{nAnswers, taskID}
	}
	res, err := tx.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTaskNotFound
	}

	if _, err := tx.Exec(`DELETE FROM results WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestResult returns the task's last_version Result, or ErrTaskNotFound
// if none exists.
func (d *DB) LatestResult(taskID int64) (*domain.Result, error) {
	row := d.db.QueryRow(
		`SELECT id, project_id, task_id, task_run_ids, last_version, created, info
		 FROM results WHERE task_id = ? AND last_version = 1`, taskID)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListResults returns all Results recorded for a task, ordered by id.
func (d *DB) ListResults(taskID int64) ([]domain.Result, error) {
	rows, err := d.db.Query(
		`SELECT id, project_id, task_id, task_run_ids, last_version, created, info
		 FROM results WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []domain.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

func scanResult(s scanner) (*domain.Result, error) {
	var r domain.Result
	var ids string
	var info sql.NullString
	var created int64

	err := s.Scan(&r.ID, &r.ProjectID, &r.TaskID, &ids, &r.LastVersion, &created, &info)
	if err != nil {
		return nil, err
	}

	r.Created = time.Unix(created, 0)
	if r.TaskRunIDs, err = decodeIDs(ids); err != nil {
		return nil, err
	}
	if info.Valid {
		if r.Info, err = decodeInfo(info.String); err != nil {
			return nil, err
		}
	}
	return &r, nil
}
