package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

type runList struct {
	Runs  []*tradeflow.RunRecord `json:"runs"`
	Total int                    `json:"total"`
}

// listRuns returns runs newest first with pagination.
// GET /api/runs?workflow_id=&status=&limit=20&offset=0
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	s.writeRuns(w, r, r.URL.Query().Get("workflow_id"))
}

// listWorkflowRuns returns runs for a specific workflow.
// GET /api/workflows/{id}/runs?status=&limit=20&offset=0
func (s *Server) listWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	s.writeRuns(w, r, chi.URLParam(r, "id"))
}

func (s *Server) writeRuns(w http.ResponseWriter, r *http.Request, workflowID string) {
	limit, offset := parsePagination(r)
	runs, total, err := s.runHistorySvc.ListRuns(r.Context(), workflowID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*tradeflow.RunRecord, len(runs))
	for i, run := range runs {
		out[i] = redactRun(run)
	}
	writeJSON(w, http.StatusOK, runList{Runs: out, Total: total})
}

// redactRun masks webhook secrets in the run's graph snapshot.
func redactRun(run *tradeflow.RunRecord) *tradeflow.RunRecord {
	cp := *run
	cp.Graph = run.Graph.Redacted()
	return &cp
}

// getRun returns a single run record with node-level detail and its
// transition log.
// GET /api/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runHistorySvc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactRun(run))
}

// getSchedulerStats returns current concurrency and scheduler status.
// GET /api/scheduler/stats
func (s *Server) getSchedulerStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if s.limiter != nil {
		resp["concurrency"] = s.limiter.Stats()
	}
	if s.schedulerSvc != nil {
		resp["schedules"] = s.schedulerSvc.Entries()
	}
	if s.executionReg != nil {
		resp["active_runs"] = s.executionReg.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}

// parsePagination extracts limit and offset query parameters with defaults.
func parsePagination(r *http.Request) (int, int) {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
