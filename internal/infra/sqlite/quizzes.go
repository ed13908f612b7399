package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ywrsusan/pybossa/internal/domain"
)

// GetQuiz retrieves one user's quiz state for a project. Returns (nil, nil)
// when no quiz row exists yet.
func (d *DB) GetQuiz(userID, projectID int64) (*domain.Quiz, error) {
	var q domain.Quiz
	var status string

	err := d.db.QueryRow(
		`SELECT status, right_answers, wrong_answers, enabled, questions, pass
		 FROM quizzes WHERE user_id = ? AND project_id = ?`,
		userID, projectID,
	).Scan(&status, &q.Result.Right, &q.Result.Wrong,
		&q.Config.Enabled, &q.Config.Questions, &q.Config.Pass)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	q.UserID = userID
	q.ProjectID = projectID
	q.Status = domain.QuizStatus(status)
	return &q, nil
}

// UpsertQuiz writes a user's quiz state for a project.
func (d *DB) UpsertQuiz(q *domain.Quiz) error {
	_, err := d.db.Exec(
		`INSERT INTO quizzes (user_id, project_id, status, right_answers, wrong_answers, enabled, questions, pass)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, project_id) DO UPDATE SET
			status=excluded.status,
			right_answers=excluded.right_answers,
			wrong_answers=excluded.wrong_answers,
			enabled=excluded.enabled,
			questions=excluded.questions,
			pass=excluded.pass`,
		q.UserID, q.ProjectID, string(q.Status), q.Result.Right, q.Result.Wrong,
		q.Config.Enabled, q.Config.Questions, q.Config.Pass,
	)
	if err != nil {
		return fmt.Errorf("upsert quiz: %w", err)
	}
	return nil
}
