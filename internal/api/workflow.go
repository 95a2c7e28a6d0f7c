package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

func decodeGraph(r *http.Request) (*tradeflow.Graph, error) {
	var g tradeflow.Graph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	g, err := decodeGraph(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	saved, err := s.workflowSvc.Create(r.Context(), g)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved.Redacted())
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.workflowSvc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*tradeflow.Graph, len(list))
	for i, g := range list {
		out[i] = g.Redacted()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	g, err := s.workflowSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Redacted())
}

func (s *Server) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	g, err := decodeGraph(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	prev, err := s.workflowSvc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	g.RestoreSecrets(prev)
	saved, err := s.workflowSvc.Update(r.Context(), id, g)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved.Redacted())
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.workflowSvc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validationResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func validationResult(err error) validationResponse {
	if err != nil {
		return validationResponse{Error: err.Error()}
	}
	return validationResponse{Valid: true}
}

// validateGraph checks an unsaved graph.
// POST /api/workflows/validate
func (s *Server) validateGraph(w http.ResponseWriter, r *http.Request) {
	g, err := decodeGraph(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, validationResult(s.workflowSvc.Validate(g)))
}

// validateWorkflow re-checks a stored graph.
// POST /api/workflows/{id}/validate
func (s *Server) validateWorkflow(w http.ResponseWriter, r *http.Request) {
	g, err := s.workflowSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validationResult(s.workflowSvc.Validate(g)))
}
