package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/soochol/tradeflow/internal/services"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10
)

// socketFrame is one websocket message. Done frames carry the final run
// record fields instead of an event.
type socketFrame struct {
	Seq   int            `json:"seq"`
	Type  string         `json:"type"`
	Event any            `json:"event,omitempty"`
	Done  map[string]any `json:"done,omitempty"`
}

// streamRunSocket streams a run's status events over a websocket. ?since=N
// replays from sequence N. The connection closes after the done frame.
// GET /api/runs/{id}/ws
func (s *Server) streamRunSocket(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if s.runManager == nil {
		http.Error(w, "run streaming not available", http.StatusServiceUnavailable)
		return
	}
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			since = n
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stream, found := s.runManager.Follow(ctx, runID, since)
	if !found {
		if _, err := s.runHistorySvc.GetRun(r.Context(), runID); err != nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "run_id", runID, "err", err)
		return
	}
	defer conn.Close()

	go readUntilClosed(conn, cancel)

	if found {
		if !pumpEvents(ctx, conn, stream) {
			return
		}
	}

	done := socketFrame{Seq: -1, Type: "done", Done: map[string]any{"run_id": runID}}
	if record, err := s.runHistorySvc.GetRun(ctx, runID); err == nil {
		done.Done = donePayload(record)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(done); err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// pumpEvents writes events until the stream ends. It returns false when the
// peer went away or a write failed.
func pumpEvents(ctx context.Context, conn *websocket.Conn, stream <-chan services.EventRecord) bool {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return ctx.Err() == nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(socketFrame{Seq: ev.Seq, Type: string(ev.Event.Type), Event: ev.Event}); err != nil {
				return false
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed, and cancels the stream when the peer goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("api: websocket read error", "err", err)
			}
			return
		}
	}
}
