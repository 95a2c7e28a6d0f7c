package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soochol/tradeflow/internal/services"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

func TestAPI_WorkflowCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-1", nil))

	w := env.do(t, "GET", "/api/workflows/wf-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	if g := decode[tradeflow.Graph](t, w); g.Version != 1 || len(g.Nodes) != 5 {
		t.Fatalf("unexpected graph: %+v", g)
	}

	w = env.do(t, "PUT", "/api/workflows/wf-1", pipeline("ignored", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("update: got %d: %s", w.Code, w.Body.String())
	}
	if g := decode[tradeflow.Graph](t, w); g.ID != "wf-1" || g.Version != 2 {
		t.Fatalf("unexpected update: id=%s version=%d", g.ID, g.Version)
	}

	w = env.do(t, "GET", "/api/workflows", nil)
	if list := decode[[]tradeflow.Graph](t, w); len(list) != 1 {
		t.Fatalf("list: got %d workflows", len(list))
	}

	if w := env.do(t, "DELETE", "/api/workflows/wf-1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/workflows/wf-1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", w.Code)
	}
}

func TestAPI_CreateWorkflowErrors(t *testing.T) {
	env := newTestEnv(t)

	cyclic := pipeline("wf-cycle", nil)
	cyclic.Connections = append(cyclic.Connections, tradeflow.Connection{Source: "cond", Target: "cond"})
	if w := env.do(t, "POST", "/api/workflows", cyclic); w.Code != http.StatusBadRequest {
		t.Fatalf("cyclic graph: got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/workflows", "{not json"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: got %d", w.Code)
	}

	env.createWorkflow(t, pipeline("wf-1", nil))
	if w := env.do(t, "POST", "/api/workflows", pipeline("wf-1", nil)); w.Code != http.StatusConflict {
		t.Fatalf("duplicate: got %d", w.Code)
	}
}

func TestAPI_Validate(t *testing.T) {
	env := newTestEnv(t)

	bad := pipeline("draft", nil)
	bad.Connections = append(bad.Connections, tradeflow.Connection{Source: "order", Target: "ghost"})
	w := env.do(t, "POST", "/api/workflows/validate", bad)
	res := decode[validationResponse](t, w)
	if res.Valid || !strings.Contains(res.Error, "ghost") {
		t.Fatalf("unexpected validation: %+v", res)
	}

	env.createWorkflow(t, pipeline("wf-1", nil))
	w = env.do(t, "POST", "/api/workflows/wf-1/validate", nil)
	if res := decode[validationResponse](t, w); !res.Valid {
		t.Fatalf("stored graph should be valid: %+v", res)
	}
}

func TestAPI_RunWorkflowWait(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-1", nil))

	w := env.do(t, "POST", "/api/workflows/wf-1/run?wait=true", map[string]any{"trigger": map[string]any{"mode": "manual"}})
	if w.Code != http.StatusOK {
		t.Fatalf("run: got %d: %s", w.Code, w.Body.String())
	}
	res := decode[map[string]any](t, w)
	if res["status"] != string(tradeflow.RunCompleted) {
		t.Fatalf("status = %v", res["status"])
	}
	if order, _ := res["order"].([]any); len(order) != 5 {
		t.Fatalf("order = %v", res["order"])
	}
}

func TestAPI_RunWorkflowNotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, "POST", "/api/workflows/missing/run", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPI_RunAndStreamEvents(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-1", nil))

	w := env.do(t, "POST", "/api/workflows/wf-1/run", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("run: got %d", w.Code)
	}
	runID := decode[map[string]string](t, w)["run_id"]
	env.runs.Wait()

	w = env.do(t, "GET", "/api/runs/"+runID+"/events", nil)
	body := w.Body.String()
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	for _, want := range []string{"id: 0\n", "event: run.status", "event: node.status", "event: done", `"status":"COMPLETED"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}

	// Reconnecting past the end of the buffer only yields the done event.
	req := httptest.NewRequest("GET", "/api/runs/"+runID+"/events", nil)
	req.Header.Set("Last-Event-ID", "1000")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if strings.Contains(rec.Body.String(), "event: run.status") {
		t.Fatalf("reconnect replayed old events:\n%s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "event: done") {
		t.Fatal("reconnect missing done event")
	}
}

func TestAPI_RunLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-1", nil))

	w := env.do(t, "POST", "/api/workflows/wf-1/run", nil)
	runID := decode[map[string]string](t, w)["run_id"]
	env.runs.Wait()

	w = env.do(t, "GET", "/api/runs/"+runID, nil)
	run := decode[tradeflow.RunRecord](t, w)
	if run.Status != tradeflow.RunCompleted || len(run.NodeRuns) != 5 || len(run.Transitions) == 0 {
		t.Fatalf("unexpected run: status=%s nodes=%d transitions=%d", run.Status, len(run.NodeRuns), len(run.Transitions))
	}

	w = env.do(t, "GET", "/api/runs?workflow_id=wf-1", nil)
	if list := decode[runList](t, w); list.Total != 1 {
		t.Fatalf("runs total = %d", list.Total)
	}
	w = env.do(t, "GET", "/api/workflows/wf-1/runs?status=FAILED", nil)
	if list := decode[runList](t, w); list.Total != 0 || list.Runs == nil {
		t.Fatalf("failed runs = %+v", list)
	}

	if w := env.do(t, "POST", "/api/runs/"+runID+"/cancel", nil); w.Code != http.StatusConflict {
		t.Fatalf("cancel finished run: got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/runs/"+runID+"/resume", nil); w.Code != http.StatusConflict {
		t.Fatalf("resume completed run: got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/runs/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing run: got %d", w.Code)
	}
}

func TestAPI_RunSocket(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-1", nil))
	w := env.do(t, "POST", "/api/workflows/wf-1/run", nil)
	runID := decode[map[string]string](t, w)["run_id"]
	env.runs.Wait()

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/runs/" + runID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frames []socketFrame
	for {
		var f socketFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		frames = append(frames, f)
		if f.Type == "done" {
			break
		}
	}
	if len(frames) < 2 || frames[0].Seq != 0 || frames[0].Type != string(tradeflow.EventRunStatus) {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if got := frames[len(frames)-1].Done["status"]; got != string(tradeflow.RunCompleted) {
		t.Fatalf("done status = %v", got)
	}
}

func TestAPI_Webhook(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-hook", map[string]any{"mode": "webhook", "secret": "s3cret"}))
	body := `{"signal":"buy"}`

	if w := env.do(t, "POST", "/api/hooks/wf-hook/trigger", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/hooks/wf-hook/trigger", strings.NewReader(body))
	req.Header.Set(services.SignatureHeader, services.Sign([]byte(body), "s3cret"))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("signed: got %d: %s", w.Code, w.Body.String())
	}
	if decode[map[string]string](t, w)["run_id"] == "" {
		t.Fatal("expected run id")
	}

	if w := env.do(t, "POST", "/api/hooks/wf-hook/data", body); w.Code != http.StatusNotFound {
		t.Fatalf("non-trigger node: got %d", w.Code)
	}
}

func TestAPI_WebhookSecretNotReturned(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-hook", map[string]any{"mode": "webhook", "secret": "s3cret"}))

	w := env.do(t, "GET", "/api/workflows/wf-hook", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Fatal("secret leaked in workflow response")
	}
	got := decode[tradeflow.Graph](t, w)
	trigger, _ := got.Node("trigger")
	if trigger.Config["secret"] != tradeflow.RedactedSecret {
		t.Fatalf("secret = %v, want mask", trigger.Config["secret"])
	}
	if w := env.do(t, "GET", "/api/workflows", nil); strings.Contains(w.Body.String(), "s3cret") {
		t.Fatal("secret leaked in workflow list")
	}

	// Saving the masked graph back keeps the stored secret.
	got.Name = "renamed"
	if w := env.do(t, "PUT", "/api/workflows/wf-hook", got); w.Code != http.StatusOK || strings.Contains(w.Body.String(), "s3cret") {
		t.Fatalf("update: got %d: %s", w.Code, w.Body.String())
	}
	body := `{"signal":"buy"}`
	req := httptest.NewRequest("POST", "/api/hooks/wf-hook/trigger", strings.NewReader(body))
	req.Header.Set(services.SignatureHeader, services.Sign([]byte(body), "s3cret"))
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("signed after update: got %d: %s", w.Code, w.Body.String())
	}
	runID := decode[map[string]string](t, w)["run_id"]
	env.runs.Wait()

	if w := env.do(t, "GET", "/api/runs/"+runID, nil); w.Code != http.StatusOK || strings.Contains(w.Body.String(), "s3cret") {
		t.Fatalf("run: got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, "GET", "/api/runs", nil); strings.Contains(w.Body.String(), "s3cret") {
		t.Fatal("secret leaked in run list")
	}
}

func TestAPI_Connections(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/connections", map[string]any{"name": "alerts", "type": "slack", "token": "xoxb-secret"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "xoxb-secret") {
		t.Fatal("secret leaked in create response")
	}
	id := decode[tradeflow.CredentialSafe](t, w).ID

	if w := env.do(t, "POST", "/api/connections", map[string]any{"name": "x", "type": "smtp"}); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/connections", map[string]any{"type": "slack"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing name: got %d", w.Code)
	}

	w = env.do(t, "PUT", "/api/connections/"+id, map[string]any{"name": "alerts-2", "type": "slack"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: got %d", w.Code)
	}
	w = env.do(t, "GET", "/api/connections", nil)
	list := decode[[]tradeflow.CredentialSafe](t, w)
	if len(list) != 1 || list[0].Name != "alerts-2" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if w := env.do(t, "DELETE", "/api/connections/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/connections/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", w.Code)
	}
}

func TestAPI_Backtests(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-sma", nil))

	req := map[string]any{
		"workflow_id":     "wf-sma",
		"symbol":          "BTCUSDT",
		"interval":        "1h",
		"from":            t0,
		"to":              t0.Add(7 * time.Hour),
		"initial_capital": "1000",
	}
	w := env.do(t, "POST", "/api/backtests", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("run: got %d: %s", w.Code, w.Body.String())
	}
	res := decode[tradeflow.BacktestResult](t, w)
	if res.ID == "" || len(res.Trades) != 1 || len(res.EquityCurve) != 8 {
		t.Fatalf("unexpected result: id=%q trades=%d curve=%d", res.ID, len(res.Trades), len(res.EquityCurve))
	}

	if w := env.do(t, "GET", "/api/backtests/"+res.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	w = env.do(t, "GET", "/api/workflows/wf-sma/backtests", nil)
	if list := decode[[]tradeflow.BacktestResult](t, w); len(list) != 1 {
		t.Fatalf("reports = %d", len(list))
	}

	req["to"] = t0
	if w := env.do(t, "POST", "/api/backtests", req); w.Code != http.StatusBadRequest {
		t.Fatalf("empty window: got %d", w.Code)
	}
	req["to"] = t0.Add(7 * time.Hour)
	req["workflow_id"] = "missing"
	if w := env.do(t, "POST", "/api/backtests", req); w.Code != http.StatusNotFound {
		t.Fatalf("unknown workflow: got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/backtests/bt-missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown report: got %d", w.Code)
	}
}

func TestAPI_SchedulerStats(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, pipeline("wf-cron", map[string]any{"mode": "cron", "schedule": "0 9 * * *"}))

	w := env.do(t, "GET", "/api/scheduler/stats", nil)
	stats := decode[map[string]any](t, w)
	schedules, _ := stats["schedules"].([]any)
	if len(schedules) != 1 {
		t.Fatalf("schedules = %v", stats["schedules"])
	}
	if _, ok := stats["concurrency"]; !ok {
		t.Fatal("missing concurrency stats")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&tradeflow.InsufficientDataError{Required: 20, Got: 3}, http.StatusUnprocessableEntity},
		{&tradeflow.ValidationError{Field: "symbol", Msg: "is required"}, http.StatusBadRequest},
		{&tradeflow.CycleDetectedError{CyclePath: []string{"a", "a"}}, http.StatusBadRequest},
		{services.ErrRunActive, http.StatusConflict},
		{services.ErrInvalidSignature, http.StatusUnauthorized},
		{http.ErrHandlerTimeout, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
