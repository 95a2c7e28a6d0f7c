package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/soochol/tradeflow/internal/api"
	"github.com/soochol/tradeflow/internal/backtest"
	"github.com/soochol/tradeflow/internal/broker"
	"github.com/soochol/tradeflow/internal/config"
	"github.com/soochol/tradeflow/internal/db"
	"github.com/soochol/tradeflow/internal/engine"
	"github.com/soochol/tradeflow/internal/marketdata"
	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/notify"
	"github.com/soochol/tradeflow/internal/publish"
	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/services"
	"github.com/soochol/tradeflow/internal/steps"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, scheduler and webhook listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// stores bundles the storage backends chosen from config.
type stores struct {
	workflows   repository.WorkflowRepository
	runs        repository.RunRepository
	credentials repository.CredentialRepository
	reports     repository.BacktestRepository
	journal     steps.Journal
	redis       *redis.Client

	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	workflowMem := repository.NewMemoryWorkflowRepository()
	runMem := repository.NewMemoryRunRepository()
	credMem := repository.NewMemoryCredentialRepository()
	s := &stores{
		workflows:   workflowMem,
		runs:        runMem,
		credentials: credMem,
		reports:     repository.NewMemoryBacktestRepository(),
		journal:     steps.NewMemoryJournal(),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.redis = client
		s.closers = append(s.closers, func() { client.Close() })
		s.journal = steps.NewRedisJournal(client, cfg.Runs.StepTTL)
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	if cfg.Database.URL == "" {
		slog.Info("no database configured, using in-memory storage")
		return s, nil
	}

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, func() { database.Close() })
	if err := database.Migrate(ctx); err != nil {
		s.close()
		return nil, err
	}

	gdb, err := repository.OpenGorm(cfg.Database.URL)
	if err != nil {
		s.close()
		return nil, err
	}
	reports := repository.NewGormBacktestRepository(gdb)
	if err := reports.Migrate(ctx); err != nil {
		s.close()
		return nil, err
	}

	s.workflows = repository.NewPersistentWorkflowRepository(workflowMem, database)
	s.runs = repository.NewPersistentRunRepository(runMem, database)
	s.credentials = repository.NewPersistentCredentialRepository(credMem, database)
	s.reports = reports
	if s.redis == nil {
		s.journal = db.NewStepJournal(database)
	}
	slog.Info("database connected")
	return s, nil
}

// marketSource builds the cached candle source replays share. Live runs ask
// for a window ending at the current time, which never repeats, so they
// read the REST source directly.
func marketSource(cfg *config.Config, rdb *redis.Client) ports.MarketData {
	opts := []marketdata.CacheOption{marketdata.WithMaxEntries(cfg.MarketData.CacheEntries)}
	if rdb != nil {
		opts = append(opts, marketdata.WithStore(marketdata.NewRedisStore(rdb, cfg.MarketData.CacheTTL)))
	}
	return marketdata.NewCache(marketdata.NewRESTSource(cfg.MarketData.BaseURL, cfg.MarketData.Timeout), opts...)
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	history := services.NewRunHistoryService(st.runs)
	history.CleanupOrphanedRuns(ctx)

	runEvents := services.NewRunManager(cfg.Runs.EventTTL)
	defer runEvents.Stop()

	bus := engine.NewEventBus()
	bus.Subscribe(func(channel string, ev tradeflow.StatusEvent) {
		slog.Debug("status", "channel", channel, "type", ev.Type, "node", ev.NodeID, "status", ev.Status, "phase", ev.Phase)
	})
	publishers := publish.Fanout{runEvents, bus}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := publish.NewKafkaPublisher(publish.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return err
		}
		defer kp.Close()
		publishers = append(publishers, kp)
		slog.Info("publishing run status to kafka", "topic", cfg.Kafka.Topic)
	}

	credentialSvc := services.NewCredentialService(st.credentials)
	market := marketSource(cfg, st.redis)
	live := marketdata.NewRESTSource(cfg.MarketData.BaseURL, cfg.MarketData.Timeout)
	senders := notify.NewDefaultRegistry(&http.Client{Timeout: 10 * time.Second})

	registry := nodes.NewRegistry(
		nodes.TriggerExecutor{},
		&nodes.DataSourceExecutor{Market: live},
		nodes.IndicatorExecutor{},
		nodes.ConditionExecutor{},
		&nodes.OrderExecutor{Broker: broker.NewClient(cfg.Broker.BaseURL, cfg.Broker.Timeout), Credentials: credentialSvc},
		&nodes.NotifyExecutor{Senders: senders, Credentials: credentialSvc},
	)
	eng := engine.New(registry,
		engine.WithRecorder(history),
		engine.WithPublisher(publishers),
		engine.WithStepRuntime(steps.NewRuntime(st.journal)),
	)

	workflowSvc := services.NewWorkflowService(st.workflows)
	executions := services.NewExecutionRegistry()
	limiter := services.NewConcurrencyLimiter(services.ConcurrencyLimits{
		GlobalMax:   cfg.Scheduler.GlobalMax,
		PerWorkflow: cfg.Scheduler.PerWorkflow,
		Keys:        map[string]int{services.BacktestLimiterKey: cfg.Backtest.Parallel},
	})
	runSvc := services.NewRunService(eng, workflowSvc, history, executions, limiter, runEvents)

	scheduler := services.NewSchedulerService(runSvc)
	workflowSvc.AddHook(scheduler)
	graphs, err := workflowSvc.List(ctx)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	scheduler.Start(graphs)
	defer scheduler.Stop()

	replay := backtest.New(market, registry)
	backtestSvc := services.NewBacktestService(replay, workflowSvc, st.reports, limiter, cfg.Backtest.Parallel)

	srv := api.NewServer(workflowSvc, runSvc, history)
	srv.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	srv.SetRunManager(runEvents)
	srv.SetCredentialService(credentialSvc)
	srv.SetBacktestService(backtestSvc)
	srv.SetWebhookService(services.NewWebhookService(workflowSvc, runSvc))
	srv.SetSchedulerService(scheduler)
	srv.SetConcurrencyLimiter(limiter)
	srv.SetExecutionRegistry(executions)

	httpSrv := &http.Server{Addr: cfg.Server.Addr(), Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting tradeflow server", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "err", err)
		}
	}
	runSvc.Wait()
	return nil
}
