package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/tradeflow/internal/services"
)

const maxWebhookBody = 1 << 20

// handleWebhook receives an external HTTP POST and starts a run from the
// addressed webhook TRIGGER node.
// POST /api/hooks/{workflowId}/{nodeId}
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowId")
	nodeID := chi.URLParam(r, "nodeId")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	rec, err := s.webhookSvc.Fire(r.Context(), workflowID, nodeID, body, r.Header.Get(services.SignatureHeader))
	if err != nil {
		slog.Warn("webhook: rejected", "workflow", workflowID, "node", nodeID, "err", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": rec.ID,
	})
}
