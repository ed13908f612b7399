package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ywrsusan/pybossa/internal/domain"
)

const projectCols = `id, short_name, name, owner_id, published, scheduler,
	timeout_seconds, rand_within_priority, default_n_answers, allow_anonymous,
	quiz_enabled, quiz_questions, quiz_pass, created`

// CreateProject inserts a project and fills in its assigned ID.
func (d *DB) CreateProject(p *domain.Project) error {
	if p.Scheduler == "" {
		p.Scheduler = domain.PolicyDefault
	}
	if !p.Scheduler.Valid() {
		return domain.ErrInvalidPolicy
	}
	if p.DefaultNAnswers < 1 {
		p.DefaultNAnswers = 1
	}
	if p.Created.IsZero() {
		p.Created = time.Now()
	}

	res, err := d.db.Exec(
		`INSERT INTO projects (short_name, name, owner_id, published, scheduler,
			timeout_seconds, rand_within_priority, default_n_answers, allow_anonymous,
			quiz_enabled, quiz_questions, quiz_pass, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ShortName, p.Name, p.OwnerID, p.Published, string(p.Scheduler),
		p.TimeoutSeconds, p.RandWithinPriority, p.DefaultNAnswers, p.AllowAnonymous,
		p.Quiz.Enabled, p.Quiz.Questions, p.Quiz.Pass, p.Created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetProject retrieves a project by id.
func (d *DB) GetProject(id int64) (*domain.Project, error) {
	row := d.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// GetProjectByShortName retrieves a project by its unique short name.
func (d *DB) GetProjectByShortName(shortName string) (*domain.Project, error) {
	row := d.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE short_name = ?`, shortName)
	return scanProject(row)
}

// UpdateProject persists the mutable scheduling surface of a project.
func (d *DB) UpdateProject(p *domain.Project) error {
	if !p.Scheduler.Valid() {
		return domain.ErrInvalidPolicy
	}
	res, err := d.db.Exec(
		`UPDATE projects SET name=?, published=?, scheduler=?, timeout_seconds=?,
			rand_within_priority=?, default_n_answers=?, allow_anonymous=?,
			quiz_enabled=?, quiz_questions=?, quiz_pass=?
		 WHERE id=?`,
		p.Name, p.Published, string(p.Scheduler), p.TimeoutSeconds,
		p.RandWithinPriority, p.DefaultNAnswers, p.AllowAnonymous,
		p.Quiz.Enabled, p.Quiz.Questions, p.Quiz.Pass, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func scanProject(s scanner) (*domain.Project, error) {
	var p domain.Project
	var scheduler string
	var created int64

	err := s.Scan(&p.ID, &p.ShortName, &p.Name, &p.OwnerID, &p.Published,
		&scheduler, &p.TimeoutSeconds, &p.RandWithinPriority,
		&p.DefaultNAnswers, &p.AllowAnonymous,
		&p.Quiz.Enabled, &p.Quiz.Questions, &p.Quiz.Pass, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Scheduler = domain.Policy(scheduler)
	p.Created = time.Unix(created, 0)
	return &p, nil
}
