package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/tradeflow/internal/services"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// RunRequest is the JSON body for workflow execution. Trigger becomes the
// TRIGGER node's payload.
type RunRequest struct {
	Trigger map[string]any `json:"trigger,omitempty"`
}

// runWorkflow starts a run in the background and returns its id
// immediately. Clients follow it on GET /api/runs/{id}/events (SSE) or
// /api/runs/{id}/ws. With ?wait=true the run executes on the request and
// the full result is returned instead.
func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if r.URL.Query().Get("wait") == "true" {
		res, err := s.runSvc.Execute(r.Context(), id, req.Trigger)
		if err != nil && res == nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	rec, err := s.runSvc.Start(r.Context(), id, req.Trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": rec.ID, "status": string(rec.Status)})
}

// cancelRun asks an executing run to stop before its next node.
// POST /api/runs/{id}/cancel
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runSvc.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

// resumeRun re-executes an interrupted run under its original id.
// POST /api/runs/{id}/resume
func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runSvc.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": rec.ID, "status": "resuming"})
}

// streamRunEvents streams status events for a run via SSE.
// Supports initial connection (replays all buffered events) and reconnection
// (replays from Last-Event-ID onward). The run continues in the background
// regardless of client connection state.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	startSeq := 0
	if idStr := r.Header.Get("Last-Event-ID"); idStr != "" {
		if n, err := strconv.Atoi(idStr); err == nil {
			startSeq = n + 1
		}
	}

	if s.runManager == nil {
		http.Error(w, "run streaming not available", http.StatusServiceUnavailable)
		return
	}

	events, notify, done, found := s.runManager.Subscribe(runID, startSeq)
	if !found {
		// Buffer already collected: answer from history.
		record, err := s.runHistorySvc.GetRun(r.Context(), runID)
		if err != nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.sendSyntheticDone(w, record)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	for {
		for _, ev := range events {
			writeSSEEvent(w, ev)
			startSeq = ev.Seq + 1
		}
		flusher.Flush()

		if done {
			s.writeRunDone(w, r, runID)
			flusher.Flush()
			return
		}

		select {
		case <-r.Context().Done():
			// Client disconnected; the run continues in the background.
			return
		case <-notify:
		}
		events, notify, done, found = s.runManager.Subscribe(runID, startSeq)
		if !found {
			return
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent writes a single event as an SSE frame with the seq as the id.
func writeSSEEvent(w http.ResponseWriter, ev services.EventRecord) {
	data, _ := json.Marshal(ev.Event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Event.Type, data)
}

// writeDoneEvent writes the final "done" SSE event.
func writeDoneEvent(w http.ResponseWriter, payload map[string]any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
}

func donePayload(record *tradeflow.RunRecord) map[string]any {
	payload := map[string]any{
		"run_id":    record.ID,
		"status":    string(record.Status),
		"node_runs": record.NodeRuns,
	}
	if record.Error != nil {
		payload["error"] = *record.Error
	}
	return payload
}

func (s *Server) writeRunDone(w http.ResponseWriter, r *http.Request, runID string) {
	record, err := s.runHistorySvc.GetRun(r.Context(), runID)
	if err != nil {
		writeDoneEvent(w, map[string]any{"run_id": runID})
		return
	}
	writeDoneEvent(w, donePayload(record))
}

// sendSyntheticDone sends a minimal SSE stream with a synthetic done event
// from a run record whose buffer has already been collected.
func (s *Server) sendSyntheticDone(w http.ResponseWriter, record *tradeflow.RunRecord) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)
	writeDoneEvent(w, donePayload(record))
	flusher.Flush()
}
