package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"voicebot-qa/qa"
	"voicebot-qa/transcript"
)

type parseRequest struct {
	Filename string `json:"filename"`
	Format   string `json:"format" validate:"omitempty,oneof=text csv json"`
	Content  string `json:"content" validate:"required"`
	// CallID names a pasted text transcript.
	CallID string `json:"callId"`
}

// handleParseTranscripts accepts a multipart "file" upload or a JSON body
// and returns the transcripts it contains. XLSX workbooks are binary and
// must be uploaded as multipart.
func (s *Server) handleParseTranscripts(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
			return
		}
		s.writeParsed(w, header.Filename, data)
		return
	}

	var req parseRequest
	if !s.bind(w, r, &req, "") {
		return
	}
	if req.Format == "text" || (req.Format == "" && req.Filename == "") {
		id := req.CallID
		if id == "" {
			id = "user-input"
		}
		t := transcript.ParseText(id, req.Content)
		if err := t.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, []transcript.Transcript{*t})
		return
	}
	name := req.Filename
	if req.Format != "" {
		name = "upload." + req.Format
	}
	s.writeParsed(w, name, []byte(req.Content))
}

func (s *Server) writeParsed(w http.ResponseWriter, filename string, data []byte) {
	ts, err := transcript.Parse(filename, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

type analyzeRequest struct {
	Transcripts          []transcript.Transcript `json:"transcripts" validate:"required,min=1"`
	Checks               []qa.Check              `json:"checks"`
	ReferenceScript      string                  `json:"referenceScript"`
	ReferenceEnabled     bool                    `json:"referenceEnabled"`
	KnowledgeBase        string                  `json:"knowledgeBase"`
	KnowledgeBaseEnabled bool                    `json:"knowledgeBaseEnabled"`
	Model                string                  `json:"model"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.bind(w, r, &req, "") {
		return
	}
	for i := range req.Transcripts {
		if err := req.Transcripts[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Checks == nil {
		req.Checks = qa.DefaultChecks()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ModelTimeout)
	defer cancel()

	report, err := s.engine.Analyze(ctx, qa.AnalyzeInput{
		Transcripts:          req.Transcripts,
		Checks:               req.Checks,
		ReferenceScript:      req.ReferenceScript,
		ReferenceEnabled:     req.ReferenceEnabled,
		KnowledgeBase:        req.KnowledgeBase,
		KnowledgeBaseEnabled: req.KnowledgeBaseEnabled,
		Model:                req.Model,
	}, nil)
	if err != nil {
		s.fail(w, "api.analyze_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type fixesRequest struct {
	Issues          []qa.DetectedIssue `json:"issues" validate:"required"`
	ReferenceScript string             `json:"referenceScript"`
	KnowledgeBase   string             `json:"knowledgeBase"`
	Model           string             `json:"model"`
}

func (s *Server) handleFixes(w http.ResponseWriter, r *http.Request) {
	var req fixesRequest
	if !s.bind(w, r, &req, "") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ModelTimeout)
	defer cancel()

	fixes, err := s.engine.GenerateFixes(ctx, qa.FixInput{
		Issues:          req.Issues,
		ReferenceScript: req.ReferenceScript,
		KnowledgeBase:   req.KnowledgeBase,
		Model:           req.Model,
	})
	if err != nil {
		s.fail(w, "api.fixes_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, fixes)
}

type placementsRequest struct {
	Script string   `json:"script"`
	Fixes  []qa.Fix `json:"fixes" validate:"required,min=1"`
	Model  string   `json:"model"`
}

type placementsResponse struct {
	Placements []qa.FixPlacement  `json:"placements"`
	Sections   []qa.ScriptSection `json:"sections"`
	Degraded   bool               `json:"degraded"`
	Diagnostic string             `json:"diagnostic,omitempty"`
}

// handlePlacements plans fix placements and returns the assembled script
// alongside them.
func (s *Server) handlePlacements(w http.ResponseWriter, r *http.Request) {
	var req placementsRequest
	if !s.bind(w, r, &req, "") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ModelTimeout)
	defer cancel()

	out, err := s.engine.PlanPlacements(ctx, qa.PlacementInput{
		Script: req.Script,
		Fixes:  req.Fixes,
		Model:  req.Model,
	})
	if err != nil {
		s.fail(w, "api.placements_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, placementsResponse{
		Placements: out.Value,
		Sections:   qa.Assemble(req.Script, req.Fixes, out.Value),
		Degraded:   out.Degraded,
		Diagnostic: out.Diagnostic,
	})
}

type assembleRequest struct {
	Script     string            `json:"script"`
	Fixes      []qa.Fix          `json:"fixes"`
	Placements []qa.FixPlacement `json:"placements"`
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if !s.bind(w, r, &req, "") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sections": qa.Assemble(req.Script, req.Fixes, req.Placements),
	})
}
