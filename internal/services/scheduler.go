package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// RunStarter starts a stored workflow in the background.
type RunStarter interface {
	Start(ctx context.Context, workflowID string, trigger map[string]any) (*tradeflow.RunRecord, error)
}

// SchedulerService fires cron-mode TRIGGER nodes. Every saved workflow is
// scanned for such triggers; each gets one cron entry keyed by
// workflowID/nodeID.
type SchedulerService struct {
	cron     *cron.Cron
	runs     RunStarter
	entryMap map[string]cron.EntryID
	mu       sync.RWMutex
}

func NewSchedulerService(runs RunStarter) *SchedulerService {
	return &SchedulerService{
		cron:     cron.New(cron.WithSeconds()),
		runs:     runs,
		entryMap: make(map[string]cron.EntryID),
	}
}

// Start registers the cron triggers of existing workflows and starts the
// cron loop.
func (s *SchedulerService) Start(graphs []*tradeflow.Graph) {
	for _, g := range graphs {
		s.WorkflowSaved(g)
	}
	s.cron.Start()
	slog.Info("scheduler: started", "entries", len(s.Entries()))
}

// Stop gracefully stops the cron scheduler.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler: stopped")
}

// parseCronExpr tries 6-field (with seconds) then 5-field (standard) parsing.
// Descriptors such as @hourly and @every 1m are accepted.
// A non-UTC timezone is applied via the CRON_TZ= prefix.
func parseCronExpr(expr, timezone string) (cron.Schedule, error) {
	if timezone != "" && timezone != "UTC" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser5.Parse(expr)
}

func entryKey(workflowID, nodeID string) string {
	return workflowID + "/" + nodeID
}

// WorkflowSaved replaces the cron entries of g with its current cron
// triggers. Triggers with an invalid schedule are logged and skipped.
func (s *SchedulerService) WorkflowSaved(g *tradeflow.Graph) {
	s.WorkflowDeleted(g.ID)

	for _, n := range g.Nodes {
		if n.Kind != tradeflow.KindTrigger {
			continue
		}
		cfg, err := tradeflow.DecodeConfig[nodes.TriggerConfig](&n)
		if err != nil || cfg.Mode != nodes.TriggerCron {
			continue
		}
		if err := s.register(g.ID, n.ID, cfg); err != nil {
			slog.Warn("scheduler: failed to register trigger", "workflow", g.ID, "node", n.ID, "err", err)
		}
	}
}

// WorkflowDeleted removes every cron entry of a workflow.
func (s *SchedulerService) WorkflowDeleted(workflowID string) {
	prefix := workflowID + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, id := range s.entryMap {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			s.cron.Remove(id)
			delete(s.entryMap, key)
		}
	}
}

func (s *SchedulerService) register(workflowID, nodeID string, cfg nodes.TriggerConfig) error {
	sched, err := parseCronExpr(cfg.Schedule, cfg.Timezone)
	if err != nil {
		return err
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(workflowID, nodeID)
	}))

	s.mu.Lock()
	s.entryMap[entryKey(workflowID, nodeID)] = entryID
	s.mu.Unlock()

	slog.Info("scheduler: registered cron trigger", "workflow", workflowID, "node", nodeID, "cron", cfg.Schedule)
	return nil
}

func (s *SchedulerService) fire(workflowID, nodeID string) {
	trigger := map[string]any{
		"mode":         nodes.TriggerCron,
		"node_id":      nodeID,
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	}
	rec, err := s.runs.Start(context.Background(), workflowID, trigger)
	if err != nil {
		slog.Warn("scheduler: failed to start run", "workflow", workflowID, "node", nodeID, "err", err)
		return
	}
	slog.Info("scheduler: started run", "workflow", workflowID, "node", nodeID, "run_id", rec.ID)
}

// ScheduleEntry describes one registered cron trigger.
type ScheduleEntry struct {
	WorkflowID string    `json:"workflow_id"`
	NodeID     string    `json:"node_id"`
	Next       time.Time `json:"next"`
	Prev       time.Time `json:"prev,omitempty"`
}

// Entries lists registered triggers ordered by key.
func (s *SchedulerService) Entries() []ScheduleEntry {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entryMap))
	for k := range s.entryMap {
		keys = append(keys, k)
	}
	ids := make(map[string]cron.EntryID, len(s.entryMap))
	for k, v := range s.entryMap {
		ids[k] = v
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	out := make([]ScheduleEntry, 0, len(keys))
	for _, k := range keys {
		e := s.cron.Entry(ids[k])
		wf, node := splitKey(k)
		out = append(out, ScheduleEntry{WorkflowID: wf, NodeID: node, Next: e.Next, Prev: e.Prev})
	}
	return out
}

func splitKey(k string) (string, string) {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '/' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
