package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var conn tradeflow.Credential
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if conn.Name == "" || conn.Type == "" {
		http.Error(w, "name and type are required", http.StatusBadRequest)
		return
	}
	if err := s.credentialSvc.Create(r.Context(), &conn); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn.Safe())
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.credentialSvc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if conns == nil {
		conns = []tradeflow.CredentialSafe{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.credentialSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) updateConnection(w http.ResponseWriter, r *http.Request) {
	var conn tradeflow.Credential
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	conn.ID = chi.URLParam(r, "id")
	if err := s.credentialSvc.Update(r.Context(), &conn); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn.Safe())
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.credentialSvc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
