package api

import (
	"context"
	"net/http"
	"time"

	"voicebot-qa/logger"
	"voicebot-qa/runner"
	"voicebot-qa/session"
	"voicebot-qa/transcript"
)

type sessionSummary struct {
	ID           string       `json:"id"`
	AnalysisID   string       `json:"analysisId,omitempty"`
	AnalysisName string       `json:"analysisName,omitempty"`
	Step         session.Step `json:"step"`
	Running      bool         `json:"running"`
	Progress     int          `json:"progress"`
	Calls        int          `json:"calls"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Lookup(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// respond writes the session view, or the mapped error.
func (s *Server) respond(w http.ResponseWriter, sess *session.Session, err error) {
	if err != nil {
		s.fail(w, "api.session_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.sessions.Create().View())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all := s.sessions.All()
	out := make([]sessionSummary, len(all))
	for i, sess := range all {
		v := sess.View()
		out[i] = sessionSummary{
			ID:           v.ID,
			AnalysisID:   v.AnalysisID,
			AnalysisName: v.AnalysisName,
			Step:         v.Step,
			Running:      v.Running,
			Progress:     v.Progress,
			Calls:        len(v.State.Transcripts),
			CreatedAt:    v.CreatedAt,
			UpdatedAt:    v.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		writeJSON(w, http.StatusOK, sess.View())
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupSession(w, r); !ok {
		return
	}
	s.sessions.Delete(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type sessionPatch struct {
	Transcripts          *[]transcript.Transcript `json:"transcripts"`
	ReferenceScript      *string                  `json:"referenceScript"`
	ReferenceEnabled     *bool                    `json:"referenceEnabled"`
	KnowledgeBase        *string                  `json:"knowledgeBase"`
	KnowledgeBaseEnabled *bool                    `json:"knowledgeBaseEnabled"`
	Model                *string                  `json:"model" validate:"omitempty,min=1,max=100"`
	SelectedCallID       *string                  `json:"selectedCallId"`
}

// handlePatchSession applies the present fields in a fixed order and stops
// at the first error.
func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var p sessionPatch
	if !s.bind(w, r, &p, "") {
		return
	}

	steps := []func() error{}
	if p.Transcripts != nil {
		steps = append(steps, func() error { return sess.SetTranscripts(*p.Transcripts) })
	}
	if p.ReferenceScript != nil {
		steps = append(steps, func() error { return sess.SetReferenceScript(*p.ReferenceScript) })
	}
	if p.ReferenceEnabled != nil {
		steps = append(steps, func() error { return sess.SetReferenceEnabled(*p.ReferenceEnabled) })
	}
	if p.KnowledgeBase != nil {
		steps = append(steps, func() error { return sess.SetKnowledgeBase(*p.KnowledgeBase) })
	}
	if p.KnowledgeBaseEnabled != nil {
		steps = append(steps, func() error { return sess.SetKnowledgeBaseEnabled(*p.KnowledgeBaseEnabled) })
	}
	if p.Model != nil {
		steps = append(steps, func() error { return sess.SetModel(*p.Model) })
	}
	if p.SelectedCallID != nil {
		steps = append(steps, func() error { return sess.SelectCall(*p.SelectedCallID) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			s.fail(w, "api.patch_session_failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// ---------- Checks ----------

type addCheckRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description"`
	Instructions string `json:"instructions" validate:"required"`
}

func (s *Server) handleAddCheck(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req addCheckRequest
	if !s.bind(w, r, &req, "") {
		return
	}
	c, err := sess.AddCustomCheck(req.Name, req.Description, req.Instructions)
	if err != nil {
		s.fail(w, "api.add_check_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type patchCheckRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=200"`
	Instructions *string `json:"instructions"`
}

func (s *Server) handlePatchCheck(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req patchCheckRequest
	if !s.bind(w, r, &req, "") {
		return
	}
	id := r.PathValue("checkId")
	if req.Name != nil {
		if err := sess.UpdateCheckName(id, *req.Name); err != nil {
			s.fail(w, "api.patch_check_failed", err)
			return
		}
	}
	var err error
	if req.Instructions != nil {
		err = sess.UpdateCheckInstructions(id, *req.Instructions)
	}
	s.respond(w, sess, err)
}

func (s *Server) handleDeleteCheck(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		s.respond(w, sess, sess.DeleteCustomCheck(r.PathValue("checkId")))
	}
}

func (s *Server) handleToggleCheck(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		s.respond(w, sess, sess.ToggleCheck(r.PathValue("checkId")))
	}
}

func (s *Server) handleResetCheck(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		s.respond(w, sess, sess.ResetCheckInstructions(r.PathValue("checkId")))
	}
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		s.respond(w, sess, sess.ResetAll())
	}
}

// ---------- Model-backed operations ----------

func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind runner.Kind) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "job runner not configured")
		return
	}
	if sess.View().Running {
		writeError(w, http.StatusConflict, session.ErrBusy.Error())
		return
	}
	job, err := s.runner.Submit(kind, sess.ID(), 0)
	if err != nil {
		s.fail(w, "api.submit_failed", err)
		return
	}
	s.log.Info("api.job_submitted",
		logger.String("job_id", job.ID),
		logger.String("session_id", sess.ID()),
	)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleRunSession(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, runner.KindAnalyze)
}

func (s *Server) handleSessionFixes(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, runner.KindFixes)
}

type scriptRequest struct {
	FixIDs []string `json:"fixIds"`
}

// handleSessionScript plans and assembles the updated reference script
// synchronously; it is a single model call.
func (s *Server) handleSessionScript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req scriptRequest
	if r.ContentLength != 0 && !s.bind(w, r, &req, "") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ModelTimeout)
	defer cancel()

	plan, err := sess.PlanScript(ctx, s.engine, req.FixIDs)
	if err != nil {
		s.fail(w, "api.script_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "job runner not configured")
		return
	}
	job, ok := s.runner.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ---------- Persistence ----------

type saveSessionRequest struct {
	Name string `json:"name" validate:"max=255"`
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Database not configured")
		return
	}
	var req saveSessionRequest
	if r.ContentLength != 0 && !s.bind(w, r, &req, "") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	a, err := sess.Save(ctx, s.store, s.cfg.StorageKey, req.Name)
	if err != nil {
		s.fail(w, "api.save_session_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        a.ID,
		"name":      a.Name,
		"createdAt": a.CreatedAt,
		"updatedAt": a.UpdatedAt,
	})
}

type loadSessionRequest struct {
	ID string `json:"id" validate:"required"`
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Database not configured")
		return
	}
	var req loadSessionRequest
	if !s.bind(w, r, &req, "id is required") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sess, err := s.sessions.Load(ctx, s.store, s.cfg.StorageKey, req.ID)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		s.fail(w, "api.load_session_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}
