package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/tradeflow/internal/backtest"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// runBacktest replays a stored or inline graph and returns the report.
// POST /api/backtests
func (s *Server) runBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.backtestSvc.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type batchRequest struct {
	Requests []backtest.Request `json:"requests"`
}

// runBacktestBatch replays several requests concurrently. Per-request
// failures are reported in place and do not fail the batch.
// POST /api/backtests/batch
func (s *Server) runBacktestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Requests) == 0 {
		http.Error(w, "requests must not be empty", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.backtestSvc.RunBatch(r.Context(), req.Requests)})
}

func (s *Server) getBacktest(w http.ResponseWriter, r *http.Request) {
	res, err := s.backtestSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/backtests?workflow_id=&limit=20
func (s *Server) listBacktests(w http.ResponseWriter, r *http.Request) {
	s.writeBacktests(w, r, r.URL.Query().Get("workflow_id"))
}

// GET /api/workflows/{id}/backtests
func (s *Server) listWorkflowBacktests(w http.ResponseWriter, r *http.Request) {
	if s.backtestSvc == nil {
		writeJSON(w, http.StatusOK, []*tradeflow.BacktestResult{})
		return
	}
	s.writeBacktests(w, r, chi.URLParam(r, "id"))
}

func (s *Server) writeBacktests(w http.ResponseWriter, r *http.Request, workflowID string) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	list, err := s.backtestSvc.List(r.Context(), workflowID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*tradeflow.BacktestResult{}
	}
	writeJSON(w, http.StatusOK, list)
}
