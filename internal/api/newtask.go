package api

import (
	"encoding/json"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ywrsusan/pybossa/internal/app/guard"
	"github.com/ywrsusan/pybossa/internal/app/sched"
	"github.com/ywrsusan/pybossa/internal/domain"
	"github.com/ywrsusan/pybossa/internal/infra/metrics"
)

// handleNewTask serves GET /api/project/{projectID}/newtask.
//
// Flow: quiz gate → scheduler → contributions guard. The response is an
// empty JSON object when no work is available, a single task object when
// limit=1 (the default), and an array otherwise.
func (s *Server) handleNewTask(w http.ResponseWriter, r *http.Request) {
	projectID, err := urlID(r, "projectID")
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid project id")
		return
	}
	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	actor := s.requester(w, r)
	// Externally authenticated contributors identify through an opaque uid
	// vouched for by the surrounding application.
	if uid := r.URL.Query().Get("external_uid"); uid != "" && actor.UserID == 0 {
		actor = domain.Actor{ExternalUID: uid}
	}
	if actor.Anonymous() && !project.AllowAnonymous {
		writeDomainError(w, domain.ErrAnonymousBlocked)
		return
	}

	// First eligible request flips not_started → in_progress.
	if err := s.gate.BeginIfEligible(actor.UserID, project); err != nil {
		writeDomainError(w, err)
		return
	}

	req := sched.Request{
		Project: project,
		Actor:   actor,
		OrderBy: r.URL.Query().Get("orderby"),
		Desc:    parseBool(r.URL.Query().Get("desc")),
		Limit:   parseInt(r.URL.Query().Get("limit"), 1),
		Offset:  parseInt(r.URL.Query().Get("offset"), 0),
	}
	if prefs := r.URL.Query().Get("prefs"); prefs != "" {
		req.Preferences = strings.Split(prefs, ",")
	}

	tasks, err := s.sched.NextTasks(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	g := guard.NewGuard(s.store, project.Timeout())
	for i := range tasks {
		task := &tasks[i]
		if err := g.Stamp(r.Context(), task, actor); err != nil {
			log.Printf("[api] stamp task %d: %v", task.ID, err)
			continue
		}
		presented, err := g.CheckPresentedTimestamp(r.Context(), task, actor)
		if err != nil {
			log.Printf("[api] check presented task %d: %v", task.ID, err)
			continue
		}
		if !presented {
			err = g.StampPresentedTime(r.Context(), task, actor)
		} else {
			// Same actor returning for a still-valid task: the original
			// presented time has not expired, so only the expiry slides.
			err = g.ExtendPresentedTime(r.Context(), task, actor)
		}
		if err != nil {
			log.Printf("[api] presented time task %d: %v", task.ID, err)
		}
	}

	switch len(tasks) {
	case 0:
		writeJSON(w, http.StatusOK, map[string]any{})
	case 1:
		writeJSON(w, http.StatusOK, tasks[0])
	default:
		writeJSON(w, http.StatusOK, tasks)
	}
}

// handleFetchLock serves GET /api/task/{taskID}/lock: seconds until the
// requester's lock on the task expires, or 404 when unlocked.
func (s *Server) handleFetchLock(w http.ResponseWriter, r *http.Request) {
	taskID, err := urlID(r, "taskID")
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid task id")
		return
	}
	task, err := s.db.GetTask(taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	project, err := s.db.GetProject(task.ProjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	actor := s.requester(w, r)
	if !project.SchedulerPolicy().RequiresLock() {
		writeError(w, http.StatusNotFound, "task is not locked")
		return
	}

	remaining, ok, err := s.locks.ExpiresIn(r.Context(), task.ID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task is not locked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"expires": remaining.Seconds(),
	})
}

// handleCancelTask serves POST /api/task/{taskID}/canceltask: releases the
// requester's lock, if held, so the task can be presented again.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := urlID(r, "taskID")
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid task id")
		return
	}
	actor := s.requester(w, r)
	if actor.Anonymous() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		ProjectName string `json:"projectname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "projectname is required")
		return
	}
	project, err := s.db.GetProjectByShortName(body.ProjectName)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if project.SchedulerPolicy().RequiresLock() {
		held, err := s.locks.HasLock(r.Context(), taskID, actor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if held {
			if err := s.locks.Release(r.Context(), taskID, actor); err != nil {
				writeDomainError(w, err)
				return
			}
			log.Printf("[api] project %d - %s cancelled task %d", project.ID, actor.Key(), taskID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleCreateTaskRun serves POST /api/taskrun: persists a contributor's
// answer, feeds the redundancy engine, grades gold answers against an
// in-progress quiz, and releases the submitter's lock.
func (s *Server) handleCreateTaskRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID   int64          `json:"project_id"`
		TaskID      int64          `json:"task_id"`
		ExternalUID string         `json:"external_uid"`
		Info        map[string]any `json:"info"`
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
	if task.ProjectID != body.ProjectID {
		writeDomainError(w, domain.ErrTaskProjectMismatch)
		return
	}
	if task.State == domain.TaskCompleted {
		writeDomainError(w, domain.ErrTaskCompleted)
		return
	}
	project, err := s.db.GetProject(task.ProjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	actor := s.requester(w, r)
	if body.ExternalUID != "" && actor.UserID == 0 {
		actor = domain.Actor{ExternalUID: body.ExternalUID}
	}
	g := guard.NewGuard(s.store, project.Timeout())
	presented, err := g.CheckStamp(r.Context(), task, actor)
	if err != nil {
		log.Printf("[api] check stamp task %d: %v", task.ID, err)
	}
	if !presented {
		writeDomainError(w, domain.ErrTaskNotPresented)
		return
	}

	run := &domain.TaskRun{
		TaskID:      task.ID,
		ProjectID:   task.ProjectID,
		UserID:      actor.UserID,
		UserIP:      actor.IP,
		ExternalUID: actor.ExternalUID,
		Info:        body.Info,
		FinishTime:  time.Now(),
	}
	if err := s.db.CreateTaskRun(run); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.TaskRunsRecorded.Inc()

	// Grade calibration answers while the quiz is running. Quizzes exist
	// for registered users only.
	if task.Calibration && actor.UserID > 0 {
		if err := s.gradeQuizAnswer(actor.UserID, project, task, body.Info); err != nil {
			log.Printf("[api] grade quiz answer task %d: %v", task.ID, err)
		}
	}

	if project.SchedulerPolicy().RequiresLock() {
		if err := s.locks.Release(r.Context(), task.ID, actor); err != nil {
			log.Printf("[api] release lock task %d: %v", task.ID, err)
		}
	}

	if err := s.eng.OnTaskRunCreated(run); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// gradeQuizAnswer records a right/wrong quiz answer when the user's quiz
// is in progress. Calibration tasks submitted outside a running quiz are
// not graded.
func (s *Server) gradeQuizAnswer(userID int64, project *domain.Project, task *domain.Task, answer map[string]any) error {
	q, err := s.gate.QuizFor(userID, project)
	if err != nil {
		return err
	}
	if !q.Config.Enabled || q.Status != domain.QuizInProgress {
		return nil
	}
	correct := reflect.DeepEqual(task.GoldAnswers, answer)
	_, err = s.gate.RecordAnswer(userID, project, correct)
	return err
}

// handleUserProgress serves GET /api/project/{projectID}/userprogress.
func (s *Server) handleUserProgress(w http.ResponseWriter, r *http.Request) {
	projectID, err := urlID(r, "projectID")
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid project id")
		return
	}
	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	actor := s.requester(w, r)
	if actor.Anonymous() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	done, err := s.db.CountTaskRunsBy(project.ID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total, err := s.db.CountTasks(project.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	remaining, err := s.db.CountOngoingTasks(project.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	remainingForUser, err := s.db.CountAvailableTasks(project.ID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	q, err := s.gate.QuizFor(actor.UserID, project)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"done":               done,
		"total":              total,
		"remaining":          remaining,
		"remaining_for_user": remainingForUser,
		"quiz":               q,
	})
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}
