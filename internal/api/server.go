// Package api exposes workflows, runs, backtests and credentials over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/services"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

type Server struct {
	workflowSvc   *services.WorkflowService
	runSvc        *services.RunService
	runHistorySvc *services.RunHistoryService
	runManager    *services.RunManager
	credentialSvc *services.CredentialService
	backtestSvc   *services.BacktestService
	webhookSvc    *services.WebhookService
	schedulerSvc  *services.SchedulerService
	limiter       *services.ConcurrencyLimiter
	executionReg  *services.ExecutionRegistry

	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewServer(workflowSvc *services.WorkflowService, runSvc *services.RunService, runHistorySvc *services.RunHistoryService) *Server {
	return &Server{
		workflowSvc:    workflowSvc,
		runSvc:         runSvc,
		runHistorySvc:  runHistorySvc,
		allowedOrigins: []string{"*"},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Last-Event-ID", services.SignatureHeader},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.createWorkflow)
			r.Get("/", s.listWorkflows)
			r.Post("/validate", s.validateGraph)
			r.Get("/{id}", s.getWorkflow)
			r.Put("/{id}", s.updateWorkflow)
			r.Delete("/{id}", s.deleteWorkflow)
			r.Post("/{id}/run", s.runWorkflow)
			r.Post("/{id}/validate", s.validateWorkflow)
			r.Get("/{id}/runs", s.listWorkflowRuns)
			r.Get("/{id}/backtests", s.listWorkflowBacktests)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{id}", s.getRun)
			r.Get("/{id}/events", s.streamRunEvents)
			r.Get("/{id}/ws", s.streamRunSocket)
			r.Post("/{id}/cancel", s.cancelRun)
			r.Post("/{id}/resume", s.resumeRun)
		})
		if s.backtestSvc != nil {
			r.Route("/backtests", func(r chi.Router) {
				r.Post("/", s.runBacktest)
				r.Post("/batch", s.runBacktestBatch)
				r.Get("/", s.listBacktests)
				r.Get("/{id}", s.getBacktest)
			})
		}
		if s.webhookSvc != nil {
			r.Post("/hooks/{workflowId}/{nodeId}", s.handleWebhook)
		}
		r.Get("/scheduler/stats", s.getSchedulerStats)
		if s.credentialSvc != nil {
			r.Route("/connections", func(r chi.Router) {
				r.Post("/", s.createConnection)
				r.Get("/", s.listConnections)
				r.Get("/{id}", s.getConnection)
				r.Put("/{id}", s.updateConnection)
				r.Delete("/{id}", s.deleteConnection)
			})
		}
	})
	return r
}

// SetAllowedOrigins restricts CORS to the given origins.
func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) > 0 {
		s.allowedOrigins = origins
	}
}

// SetRunManager configures the per-run event buffer behind SSE and websocket streams.
func (s *Server) SetRunManager(rm *services.RunManager) {
	s.runManager = rm
}

// SetCredentialService configures the connection management service.
func (s *Server) SetCredentialService(svc *services.CredentialService) {
	s.credentialSvc = svc
}

// SetBacktestService configures the replay service.
func (s *Server) SetBacktestService(svc *services.BacktestService) {
	s.backtestSvc = svc
}

// SetWebhookService configures webhook triggers.
func (s *Server) SetWebhookService(svc *services.WebhookService) {
	s.webhookSvc = svc
}

// SetSchedulerService configures the scheduler service.
func (s *Server) SetSchedulerService(svc *services.SchedulerService) {
	s.schedulerSvc = svc
}

// SetConcurrencyLimiter configures the concurrency limiter.
func (s *Server) SetConcurrencyLimiter(limiter *services.ConcurrencyLimiter) {
	s.limiter = limiter
}

// SetExecutionRegistry configures the registry of in-flight runs.
func (s *Server) SetExecutionRegistry(reg *services.ExecutionRegistry) {
	s.executionReg = reg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes and writes
// {"error": "..."}.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var insufficient *tradeflow.InsufficientDataError
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, services.ErrNotWebhookTrigger):
		return http.StatusNotFound
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tradeflow.ErrStructural),
		errors.Is(err, tradeflow.ErrReplayBoundary),
		errors.Is(err, services.ErrInvalidCredential),
		errors.Is(err, services.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrWorkflowExists),
		errors.Is(err, services.ErrRunActive),
		errors.Is(err, services.ErrRunNotActive),
		errors.Is(err, services.ErrNotResumable):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidSignature):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
