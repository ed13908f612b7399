package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/ywrsusan/pybossa/internal/domain"
)

// handleCreateProject serves POST /api/project: thin write path for the
// surrounding application.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var p domain.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.ShortName == "" {
		writeError(w, http.StatusBadRequest, "short_name is required")
		return
	}
	if err := s.db.CreateProject(&p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCreateTask serves POST /api/task: thin write path for task import.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t domain.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.db.GetProject(t.ProjectID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.db.CreateTask(&t); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// manageableProject loads the project and enforces the capability check
// shared by the administrative endpoints.
func (s *Server) manageableProject(w http.ResponseWriter, r *http.Request) *domain.Project {
	projectID, err := urlID(r, "projectID")
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid project id")
		return nil
	}
	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeDomainError(w, err)
		return nil
	}
	actor := s.requester(w, r)
	if !s.auth.CanManageProject(actor.UserID, project) {
		writeDomainError(w, domain.ErrForbidden)
		return nil
	}
	return project
}

// handleTaskGold serves POST /api/project/{projectID}/taskgold: marks a
// task as a calibration task with the given expected answers.
func (s *Server) handleTaskGold(w http.ResponseWriter, r *http.Request) {
	project := s.manageableProject(w, r)
	if project == nil {
		return
	}

	var body struct {
		TaskID int64          `json:"task_id"`
		Info   map[string]any `json:"info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.db.GetTask(body.TaskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if task.ProjectID != project.ID {
		writeDomainError(w, domain.ErrTaskProjectMismatch)
		return
	}

	if err := s.db.SetTaskGold(task.ID, body.Info); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleQuizReset serves POST /api/project/{projectID}/quiz/reset: returns
// a user's quiz to not_started so they can take it again.
func (s *Server) handleQuizReset(w http.ResponseWriter, r *http.Request) {
	project := s.manageableProject(w, r)
	if project == nil {
		return
	}

	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := s.gate.Reset(body.UserID, project); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleRedundancyUpdate serves
// POST /api/project/{projectID}/tasks/redundancyupdate: the redundancy
// engine's batch path. The response reports which tasks could not be
// updated (exported artifacts protect them from lowering).
func (s *Server) handleRedundancyUpdate(w http.ResponseWriter, r *http.Request) {
	project := s.manageableProject(w, r)
	if project == nil {
		return
	}

	var body struct {
		NAnswers int     `json:"n_answers"`
		TaskIDs  []int64 `json:"taskIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	notUpdated, err := s.eng.UpdateRedundancy(project.ID, body.NAnswers, body.TaskIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(notUpdated) > 0 {
		log.Printf("[api] project %d - redundancy not updated for %d task(s)",
			project.ID, len(notUpdated))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"n_answers":   body.NAnswers,
		"not_updated": notUpdated,
	})
}

// handlePriorityUpdate serves
// POST /api/project/{projectID}/tasks/priorityupdate.
func (s *Server) handlePriorityUpdate(w http.ResponseWriter, r *http.Request) {
	project := s.manageableProject(w, r)
	if project == nil {
		return
	}

	var body struct {
		Priority float64 `json:"priority_0"`
		TaskIDs  []int64 `json:"taskIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.eng.UpdatePriority(project.ID, body.Priority, body.TaskIDs); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"priority_0": body.Priority,
	})
}
