package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/pipeline"
	"github.com/fbellamy/anonymiseur/internal/rewrite"
	"github.com/fbellamy/anonymiseur/internal/stats"
	"github.com/fbellamy/anonymiseur/internal/websocket"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ProcessRequest is the document-processing request body.
type ProcessRequest struct {
	Content      string               `json:"content"`
	Filename     string               `json:"filename"`
	Mode         string               `json:"mode"`
	OllamaConfig *OllamaConfigRequest `json:"ollama_config,omitempty"`
}

// OllamaConfigRequest carries per-request Ollama overrides. The timeout
// is in seconds, matching the wire format of the upload client.
type OllamaConfigRequest struct {
	URL          string `json:"url,omitempty"`
	Model        string `json:"model,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
	Timeout      int    `json:"timeout,omitempty"`
}

// ProcessResponse is the document-processing response body.
type ProcessResponse struct {
	SessionID        string          `json:"session_id"`
	Entities         []entity.Entity `json:"entities"`
	TotalOccurrences int             `json:"total_occurrences"`
	ProcessingTime   float64         `json:"processing_time"`
	ModeUsed         string          `json:"mode_used"`
	Degraded         bool            `json:"degraded"`
	SpacyAvailable   bool            `json:"spacy_available"`
	OllamaAvailable  bool            `json:"ollama_available"`
}

// EntityUpdateRequest mutates replacement and/or selection. Nil fields
// are left untouched.
type EntityUpdateRequest struct {
	Replacement *string `json:"replacement,omitempty"`
	Selected    *bool   `json:"selected,omitempty"`
}

// GroupRequest sets one shared replacement on several entities.
type GroupRequest struct {
	EntityIDs        []string `json:"entity_ids"`
	GroupReplacement string   `json:"group_replacement"`
}

// ManualEntityRequest inserts an operator-created entity.
type ManualEntityRequest struct {
	Text        string `json:"text"`
	Type        string `json:"type"`
	Replacement string `json:"replacement"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}

// GenerateDocumentRequest produces the anonymized document from a frozen
// entity snapshot.
type GenerateDocumentRequest struct {
	Entities        []entity.Entity `json:"entities"`
	OriginalContent string          `json:"original_content"`
	Filename        string          `json:"filename"`
}

// handleHealth reports service status and detector capability flags so
// the upload client can disable unavailable modes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	caps := s.pipeline.Capabilities(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"spacy_available":  caps.NERAvailable,
		"ollama_available": caps.OllamaAvailable,
	})
}

// handleProcess runs the detection pipeline on a document and opens a
// session for curation.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}

	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "content must not be empty")
		return
	}
	if max := s.config.Detection.MaxDocumentBytes; max > 0 && len(req.Content) > max {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_argument",
			fmt.Sprintf("document exceeds %d bytes", max))
		return
	}

	mode := pipeline.Mode(req.Mode)
	if !pipeline.KnownMode(mode) {
		writeError(w, http.StatusBadRequest, "invalid_argument",
			fmt.Sprintf("unknown mode %q (must be standard, advanced, or ollama)", req.Mode))
		return
	}

	var override *pipeline.OllamaOverride
	if req.OllamaConfig != nil {
		override = &pipeline.OllamaOverride{
			URL:     req.OllamaConfig.URL,
			Model:   req.OllamaConfig.Model,
			Prompt:  req.OllamaConfig.CustomPrompt,
			Timeout: time.Duration(req.OllamaConfig.Timeout) * time.Second,
		}
	}

	result, err := s.pipeline.Process(r.Context(), req.Content, mode, override)
	if err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return
	}

	session := s.sessions.Create(req.Content, req.Filename, result.Entities)
	report := stats.Compute(result.Entities)

	if s.audit != nil {
		s.audit.RecordRun(r.Context(), req.Filename, string(mode), string(result.ModeUsed),
			result.Degraded, report, result.Duration)
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeDetection,
		Timestamp: time.Now(),
		RequestID: getRequestID(r.Context()),
		Data: websocket.DetectionEvent{
			RequestID:    getRequestID(r.Context()),
			Mode:         string(mode),
			ModeUsed:     string(result.ModeUsed),
			Degraded:     result.Degraded,
			Entities:     report.TotalEntities,
			Occurrences:  report.TotalOccurrences,
			ByType:       report.ByType,
			BySource:     report.BySource,
			ProcessingMS: float64(result.Duration.Microseconds()) / 1000.0,
		},
	})

	caps := s.pipeline.Capabilities(r.Context())
	writeJSON(w, http.StatusOK, ProcessResponse{
		SessionID:        session.ID,
		Entities:         result.Entities,
		TotalOccurrences: report.TotalOccurrences,
		ProcessingTime:   result.Duration.Seconds(),
		ModeUsed:         string(result.ModeUsed),
		Degraded:         result.Degraded,
		SpacyAvailable:   caps.NERAvailable,
		OllamaAvailable:  caps.OllamaAvailable,
	})
}

// handleListEntities returns the current entity set of a session.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"entities":   session.Store.Entities(),
	})
}

// handleUpdateEntity updates replacement and/or selection of one entity.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	entityID := mux.Vars(r)["entity_id"]

	var req EntityUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}

	if req.Replacement != nil {
		if err := session.Store.UpdateReplacement(entityID, *req.Replacement); err != nil {
			status, reason := errorStatus(err)
			writeError(w, status, reason, err.Error())
			return
		}
	}
	if req.Selected != nil {
		if err := session.Store.SetSelected(entityID, *req.Selected); err != nil {
			status, reason := errorStatus(err)
			writeError(w, status, reason, err.Error())
			return
		}
	}

	updated, err := session.Store.Get(entityID)
	if err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteEntity removes an entity from the session.
func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	entityID := mux.Vars(r)["entity_id"]

	if err := session.Store.Delete(entityID); err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGroupEntities applies one shared replacement to several entities.
func (s *Server) handleGroupEntities(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}

	if err := session.Store.Group(req.EntityIDs, req.GroupReplacement); err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"grouped":     len(req.EntityIDs),
		"replacement": req.GroupReplacement,
	})
}

// handleAddManual inserts an operator-created entity.
func (s *Server) handleAddManual(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req ManualEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}

	created, err := session.Store.AddManual(req.Text, entity.Type(req.Type), req.Replacement, req.Start, req.End)
	if err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleSessionStats reports counts by source and type for the operator.
func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stats.Compute(session.Store.Entities()))
}

// handleGenerateDocument rewrites the original text with the selected
// entities' replacements and streams the result as an attachment. An
// overlap at this stage is an internal invariant violation: generation
// aborts rather than producing a silently corrupted document.
func (s *Server) handleGenerateDocument(w http.ResponseWriter, r *http.Request) {
	var req GenerateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}
	if req.OriginalContent == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "original_content must not be empty")
		return
	}

	result, err := rewrite.Rewrite(req.OriginalContent, req.Entities)
	if err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = "document_anonymise.txt"
	}

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Anonymized document generated",
		zap.String("filename", filename),
		zap.Int("changes", len(result.Changes)),
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(result.Text))
}

// handleTestOllama probes an Ollama host and lists its models.
func (s *Server) handleTestOllama(w http.ResponseWriter, r *http.Request) {
	var req OllamaConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}

	detector := s.pipeline.Ollama().Override(req.URL, req.Model, "", time.Duration(req.Timeout)*time.Second)
	connected := detector.Available(r.Context())

	var models []string
	if connected {
		if listed, err := detector.Models(r.Context()); err == nil {
			models = listed
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": connected,
		"models":    models,
	})
}

// handleOllamaModels lists models on the configured (or given) host.
func (s *Server) handleOllamaModels(w http.ResponseWriter, r *http.Request) {
	detector := s.pipeline.Ollama()
	if url := r.URL.Query().Get("url"); url != "" {
		detector = detector.Override(url, "", "", 0)
	}

	models, err := detector.Models(r.Context())
	if err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// session resolves the session named in the URL, writing the error
// response on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	session, err := s.sessions.Get(mux.Vars(r)["session_id"])
	if err != nil {
		status, reason := errorStatus(err)
		writeError(w, status, reason, err.Error())
		return nil, false
	}
	return session, true
}

// errorStatus maps the error taxonomy to HTTP status codes and machine
// readable reasons. Callers distinguish "nothing detected" (valid empty
// result) from detector degradation from rejected edits.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, entity.ErrSpanConflict):
		return http.StatusConflict, "span_conflict"
	case errors.Is(err, entity.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, entity.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, entity.ErrOverlap):
		return http.StatusInternalServerError, "overlap"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]string{
		"error":  message,
		"reason": reason,
	})
}
