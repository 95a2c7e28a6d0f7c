package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

type startCall struct {
	workflowID string
	trigger    map[string]any
}

type fakeStarter struct {
	mu    sync.Mutex
	calls []startCall
}

func (f *fakeStarter) Start(_ context.Context, workflowID string, trigger map[string]any) (*tradeflow.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startCall{workflowID, trigger})
	return &tradeflow.RunRecord{ID: "run-" + workflowID, WorkflowID: workflowID}, nil
}

func (f *fakeStarter) started() []startCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]startCall(nil), f.calls...)
}

func cronGraph(id, schedule string) *tradeflow.Graph {
	return chain(id, map[string]map[string]any{"trigger": {"mode": "cron", "schedule": schedule}})
}

func TestParseCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		tz      string
		wantErr bool
	}{
		{"*/5 * * * *", "", false},
		{"0 */5 * * * *", "", false},
		{"0 9 * * 1-5", "Asia/Seoul", false},
		{"@every 1m", "UTC", false},
		{"not a cron", "", true},
		{"0 9 * * *", "Mars/Olympus", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := parseCronExpr(tt.expr, tt.tz)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCronExpr(%q, %q) err = %v, wantErr %v", tt.expr, tt.tz, err, tt.wantErr)
			}
		})
	}
}

func TestSchedulerService_TracksSavedWorkflows(t *testing.T) {
	s := NewSchedulerService(&fakeStarter{})

	s.WorkflowSaved(cronGraph("wf-1", "0 * * * *"))
	s.WorkflowSaved(chain("wf-manual", nil))
	s.WorkflowSaved(cronGraph("wf-bad", "every tuesday"))

	entries := s.Entries()
	if len(entries) != 1 || entries[0].WorkflowID != "wf-1" || entries[0].NodeID != "trigger" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	// Saving again replaces rather than duplicates.
	s.WorkflowSaved(cronGraph("wf-1", "30 * * * *"))
	if got := len(s.Entries()); got != 1 {
		t.Fatalf("entries after re-save = %d, want 1", got)
	}

	// A save that drops the cron trigger removes its entry.
	s.WorkflowSaved(chain("wf-1", nil))
	if got := len(s.Entries()); got != 0 {
		t.Fatalf("entries after trigger removed = %d, want 0", got)
	}
}

func TestSchedulerService_DeleteOnlyRemovesThatWorkflow(t *testing.T) {
	s := NewSchedulerService(&fakeStarter{})
	s.WorkflowSaved(cronGraph("wf-1", "0 * * * *"))
	s.WorkflowSaved(cronGraph("wf-10", "0 * * * *"))

	s.WorkflowDeleted("wf-1")
	entries := s.Entries()
	if len(entries) != 1 || entries[0].WorkflowID != "wf-10" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestSchedulerService_FiresRuns(t *testing.T) {
	starter := &fakeStarter{}
	s := NewSchedulerService(starter)
	s.Start([]*tradeflow.Graph{cronGraph("wf-1", "* * * * * *")})
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for len(starter.started()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("cron trigger never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
	call := starter.started()[0]
	if call.workflowID != "wf-1" || call.trigger["mode"] != "cron" || call.trigger["node_id"] != "trigger" {
		t.Fatalf("unexpected start call: %+v", call)
	}
}
