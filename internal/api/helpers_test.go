package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/backtest"
	"github.com/soochol/tradeflow/internal/engine"
	"github.com/soochol/tradeflow/internal/marketdata"
	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/services"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	srv     *Server
	handler http.Handler
	runs    *services.RunService
}

func echo(_ context.Context, call *nodes.Call) (any, error) {
	return map[string]any{"node": call.Node.ID}, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	echoExec := nodes.ExecutorFunc(echo)
	history := services.NewRunHistoryService(repository.NewMemoryRunRepository())
	events := services.NewRunManager(time.Minute)
	t.Cleanup(events.Stop)

	eng := engine.New(nodes.NewRegistry(echoExec, echoExec, echoExec, echoExec, echoExec, echoExec),
		engine.WithRecorder(history),
		engine.WithPublisher(events),
	)
	workflowSvc := services.NewWorkflowService(repository.NewMemoryWorkflowRepository())
	executions := services.NewExecutionRegistry()
	limiter := services.NewConcurrencyLimiter(services.ConcurrencyLimits{GlobalMax: 4, PerWorkflow: 2})
	runSvc := services.NewRunService(eng, workflowSvc, history, executions, limiter, events)

	source := marketdata.NewStaticSource()
	source.Add("BTCUSDT", "1h", ascending(8))
	replay := backtest.New(source, nodes.NewRegistry(nodes.TriggerExecutor{}, nil, nodes.IndicatorExecutor{}, nodes.ConditionExecutor{}, nil, nil))
	scheduler := services.NewSchedulerService(runSvc)
	workflowSvc.AddHook(scheduler)

	srv := NewServer(workflowSvc, runSvc, history)
	srv.SetRunManager(events)
	srv.SetCredentialService(services.NewCredentialService(repository.NewMemoryCredentialRepository()))
	srv.SetBacktestService(services.NewBacktestService(replay, workflowSvc, repository.NewMemoryBacktestRepository(), limiter, 2))
	srv.SetWebhookService(services.NewWebhookService(workflowSvc, runSvc))
	srv.SetSchedulerService(scheduler)
	srv.SetConcurrencyLimiter(limiter)
	srv.SetExecutionRegistry(executions)
	t.Cleanup(runSvc.Wait)

	return &testEnv{srv: srv, handler: srv.Handler(), runs: runSvc}
}

func ascending(n int) []tradeflow.Bar {
	out := make([]tradeflow.Bar, n)
	for i := range out {
		c := decimal.NewFromInt(int64(100 + i))
		out[i] = tradeflow.Bar{Timestamp: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}
	}
	return out
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func pipeline(id string, trigger map[string]any) *tradeflow.Graph {
	if trigger == nil {
		trigger = map[string]any{"mode": "manual"}
	}
	return &tradeflow.Graph{
		ID:   id,
		Name: "pipeline " + id,
		Nodes: []tradeflow.Node{
			{ID: "trigger", Kind: tradeflow.KindTrigger, Config: trigger},
			{ID: "data", Kind: tradeflow.KindDataSource, Config: map[string]any{"symbol": "BTCUSDT", "interval": "1h"}},
			{ID: "sma", Kind: tradeflow.KindIndicator, Config: map[string]any{"type": "sma", "period": 3}},
			{ID: "cond", Kind: tradeflow.KindCondition, Config: map[string]any{"expression": "close > sma"}},
			{ID: "order", Kind: tradeflow.KindOrder, Config: map[string]any{"side": "BUY", "quantity": 1, "max_position": 1}},
		},
		Connections: []tradeflow.Connection{
			{Source: "trigger", Target: "data"},
			{Source: "data", Target: "sma"},
			{Source: "sma", Target: "cond"},
			{Source: "cond", Target: "order"},
		},
	}
}

func (e *testEnv) createWorkflow(t *testing.T, g *tradeflow.Graph) {
	t.Helper()
	if w := e.do(t, "POST", "/api/workflows", g); w.Code != http.StatusCreated {
		t.Fatalf("create workflow: %d %s", w.Code, w.Body.String())
	}
}
