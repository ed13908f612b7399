// Package domain holds the pure types of the task distribution engine:
// tasks, task runs, results, projects, quizzes. A Task is a unit of work
// offered to contributors; each contributor's answer is a TaskRun; once a
// task has collected n_answers independent runs it is completed and a
// consensus Result is materialized.
package domain

import (
	"strings"
	"time"
)

// TaskState tracks task lifecycle.
type TaskState string

const (
	TaskOngoing   TaskState = "ongoing"
	TaskCompleted TaskState = "completed"
)

// Task is a unit of work offered to contributors.
type Task struct {
	ID          int64          `json:"id"`
	ProjectID   int64          `json:"project_id"`
	State       TaskState      `json:"state"`
	NAnswers    int            `json:"n_answers"`
	Priority    float64        `json:"priority_0"`
	Calibration bool           `json:"calibration"`
	GoldAnswers map[string]any `json:"gold_answers,omitempty"`
	Info        map[string]any `json:"info"`
	Created     time.Time      `json:"created"`
	Exported    bool           `json:"exported"`
}

// HasUploadArtifact reports whether the task's payload references files
// already pushed to durable storage. Such tasks are exempt from redundancy
// lowering once completed or past the retention window.
func (t *Task) HasUploadArtifact() bool {
	for k := range t.Info {
		if strings.HasSuffix(k, "__upload_url") {
			return true
		}
	}
	return false
}

// PreferenceTags returns the task's preference tags from its payload.
// A task with no tags is eligible for any contributor under the
// user_pref policy.
func (t *Task) PreferenceTags() []string {
	raw, ok := t.Info["preferences"]
	if !ok {
		return nil
	}
	var tags []string
	switch v := raw.(type) {
	case []string:
		tags = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	return tags
}

// TaskRun is one contributor's submitted answer for a task.
// Exactly one of UserID / UserIP / ExternalUID identifies the contributor.
type TaskRun struct {
	ID          int64          `json:"id"`
	TaskID      int64          `json:"task_id"`
	ProjectID   int64          `json:"project_id"`
	UserID      int64          `json:"user_id,omitempty"`
	UserIP      string         `json:"user_ip,omitempty"`
	ExternalUID string         `json:"external_uid,omitempty"`
	Info        map[string]any `json:"info"`
	Created     time.Time      `json:"created"`
	FinishTime  time.Time      `json:"finish_time"`
}

// Contributor returns the actor identity behind this run.
func (r *TaskRun) Contributor() Actor {
	return Actor{UserID: r.UserID, IP: r.UserIP, ExternalUID: r.ExternalUID}
}

// Result is the materialized consensus record for a completed task.
// Exactly one Result per task carries LastVersion=true at a time.
type Result struct {
	ID          int64          `json:"id"`
	ProjectID   int64          `json:"project_id"`
	TaskID      int64          `json:"task_id"`
	TaskRunIDs  []int64        `json:"task_run_ids"`
	LastVersion bool           `json:"last_version"`
	Created     time.Time      `json:"created"`
	Info        map[string]any `json:"info,omitempty"`
}
