package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"voicebot-qa/logger"
	"voicebot-qa/store"
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Database not configured")
		return false
	}
	return true
}

// ---------- Analyses ----------

// handleGetAnalyses returns one analysis when id is given, otherwise the
// list for storageKey with derived stats.
func (s *Server) handleGetAnalyses(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := r.URL.Query()
	storageKey := q.Get("storageKey")
	if storageKey == "" {
		writeError(w, http.StatusBadRequest, "storageKey is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if id := q.Get("id"); id != "" {
		a, err := s.store.GetAnalysis(ctx, storageKey, id)
		if err != nil {
			s.log.Error("api.get_analysis_failed", logger.String("id", id), logger.Err(err))
			writeError(w, http.StatusInternalServerError, "Database error")
			return
		}
		if a == nil {
			writeError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		writeJSON(w, http.StatusOK, a)
		return
	}

	list, err := s.store.ListAnalyses(ctx, storageKey)
	if err != nil {
		s.log.Error("api.list_analyses_failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type saveAnalysisRequest struct {
	ID         string          `json:"id" validate:"required"`
	StorageKey string          `json:"storageKey" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	State      json.RawMessage `json:"state" validate:"required"`
}

func (s *Server) handleSaveAnalysis(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req saveAnalysisRequest
	if !s.bind(w, r, &req, "id, storageKey, name, and state are required") {
		return
	}
	if string(req.State) == "null" || !json.Valid(req.State) {
		writeError(w, http.StatusBadRequest, "id, storageKey, name, and state are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	a := &store.Analysis{ID: req.ID, StorageKey: req.StorageKey, Name: req.Name, State: req.State}
	if err := s.store.SaveAnalysis(ctx, a); err != nil {
		s.log.Error("api.save_analysis_failed", logger.String("id", req.ID), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to save analysis")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        a.ID,
		"name":      a.Name,
		"createdAt": a.CreatedAt,
		"updatedAt": a.UpdatedAt,
	})
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.store.DeleteAnalysis(ctx, id); err != nil {
		s.log.Error("api.delete_analysis_failed", logger.String("id", id), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete analysis")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ---------- Templates ----------

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	storageKey := r.URL.Query().Get("storageKey")
	if storageKey == "" {
		writeError(w, http.StatusBadRequest, "storageKey is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	list, err := s.store.ListTemplates(ctx, storageKey)
	if err != nil {
		s.log.Error("api.list_templates_failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type templateRequest struct {
	ID         string `json:"id" validate:"required"`
	StorageKey string `json:"storageKey" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Content    string `json:"content" validate:"required"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req templateRequest
	if !s.bind(w, r, &req, "id, storageKey, name, and content are required") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	t := &store.Template{ID: req.ID, StorageKey: req.StorageKey, Name: req.Name, Content: req.Content}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		s.log.Error("api.create_template_failed", logger.String("id", req.ID), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req templateRequest
	if !s.bind(w, r, &req, "id, storageKey, name, and content are required") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	t := &store.Template{ID: req.ID, StorageKey: req.StorageKey, Name: req.Name, Content: req.Content}
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}
		s.log.Error("api.update_template_failed", logger.String("id", req.ID), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to update template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		s.log.Error("api.delete_template_failed", logger.String("id", id), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type setDefaultRequest struct {
	ID         string `json:"id" validate:"required"`
	StorageKey string `json:"storageKey" validate:"required"`
}

func (s *Server) handleSetDefaultTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req setDefaultRequest
	if !s.bind(w, r, &req, "id and storageKey are required") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.store.SetDefaultTemplate(ctx, req.StorageKey, req.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}
		s.log.Error("api.set_default_template_failed", logger.String("id", req.ID), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to set default template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
