package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/perpfunk/internal/agent"
	"github.com/ajitpratap0/perpfunk/internal/api"
	"github.com/ajitpratap0/perpfunk/internal/config"
	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
	"github.com/ajitpratap0/perpfunk/internal/indicators"
	"github.com/ajitpratap0/perpfunk/internal/market"
	"github.com/ajitpratap0/perpfunk/internal/metrics"
	"github.com/ajitpratap0/perpfunk/internal/orchestrator"
	"github.com/ajitpratap0/perpfunk/internal/prompt"
	"github.com/ajitpratap0/perpfunk/internal/scheduler"
	"github.com/ajitpratap0/perpfunk/internal/trading"
)

// ErrFatalShutdown is returned from Run when the service stopped itself
// after repeated fatal exchange errors. Callers should exit non-zero.
var ErrFatalShutdown = errors.New("service halted after consecutive fatal cycles")

// Service owns the full engine lifecycle: dependency wiring, startup
// health checks, state restoration, the cycle scheduler, the status server
// and graceful shutdown.
type Service struct {
	cfg        *config.Config
	database   *db.DB
	redisCli   *redis.Client
	info       *hyperliquid.InfoClient
	agents     *agent.Manager
	executors  *executorPool
	reconciler *trading.Reconciler

	executor  *scheduler.CycleExecutor
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	fatalOnce sync.Once
	fatal     chan struct{}
}

// New wires every component. The database must be reachable; everything
// else degrades or fails at Run.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	var redisCli *redis.Client
	var cache *market.KlineCache
	if cfg.Redis.Enabled {
		redisCli = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = market.NewKlineCache(redisCli)
	}

	baseURL := cfg.ResolveBaseURL()
	info := hyperliquid.NewInfoClient(baseURL, cfg.Exchange.ExchangeTimeout(), cfg.Exchange.RateLimitPS)
	meta := hyperliquid.NewMetaCache(info)

	executors := newExecutorPool(info, meta, baseURL, cfg.Exchange.ExchangeTimeout(),
		cfg.IsDryRun(), cfg.App.Environment == config.EnvMainnet, cfg.Exchange.PrivateKeyEnv)

	agents := agent.NewManager(database, &cfg.LLM)
	collector := market.NewCollector(info, cache, &cfg.Trading)

	positions := trading.NewPositionManager(database)
	riskMgr := trading.NewRiskManager(trading.RiskLimits{
		MaxLeverage:           cfg.Risk.MaxLeverage,
		MaxPositionSizePct:    cfg.Risk.MaxPositionSizePct,
		StopLossPct:           cfg.Risk.StopLossPct,
		TakeProfitPct:         cfg.Risk.TakeProfitPct,
		TotalExposureCapPct:   cfg.Risk.TotalExposureCapPct,
		LiquidationWarningPct: cfg.Risk.LiquidationWarningPct,
	})
	orders := trading.NewOrderManager(database, executors)
	trader := trading.NewOrchestrator(riskMgr, positions, orders, executors, database)
	reconciler := trading.NewReconciler(database, info, executors)

	decider := orchestrator.New(agents, positions, indicators.NewService(),
		prompt.NewBuilder(prompt.FormatSingleJSON), database,
		cfg.Trading.Coins, cfg.Trading.Timeframes)

	state, err := restoreState(ctx, database)
	if err != nil {
		database.Close()
		return nil, err
	}

	executor := scheduler.NewCycleExecutor(collector, decider, trader, positions, riskMgr, database, database, state)

	s := &Service{
		cfg:        cfg,
		database:   database,
		redisCli:   redisCli,
		info:       info,
		agents:     agents,
		executors:  executors,
		reconciler: reconciler,
		executor:   executor,
		fatal:      make(chan struct{}),
	}

	sched := scheduler.New(s.breakerRunner(cfg.Service.ConsecutiveFatalCyclesThreshold, executor),
		cfg.Scheduler.Interval(), cfg.Scheduler.CycleDeadline(), cfg.Scheduler.MisfireGrace())
	s.scheduler = sched

	checks := map[string]api.HealthChecker{
		"database": database.Health,
		"exchange": info.Health,
	}
	if cache != nil {
		checks["redis"] = cache.Health
	}
	s.apiServer = api.NewServer(api.Config{
		Host:    cfg.API.Host,
		Port:    cfg.API.Port,
		Version: cfg.App.Version,
		Env:     cfg.App.Environment,
		Cycles:  executor,
		Runs:    sched,
		Agents:  agents,
		Checks:  checks,
	})

	return s, nil
}

// restoreState reloads the persisted counters; the service start time
// survives restarts so uptime and cycle numbering continue
func restoreState(ctx context.Context, database *db.DB) (db.BotState, error) {
	prev, err := database.LoadBotState(ctx)
	if err != nil {
		return db.BotState{}, fmt.Errorf("state restore failed: %w", err)
	}
	if prev == nil {
		return db.BotState{ServiceStartTime: time.Now().UTC()}, nil
	}
	log.Info().
		Int64("cycle_count", prev.CycleCount).
		Time("service_start_time", prev.ServiceStartTime).
		Msg("Restored persisted service state")
	return *prev, nil
}

// breakerRunner wraps the cycle executor in a circuit breaker that counts
// only fatal exchange errors. Tripping it initiates shutdown.
func (s *Service) breakerRunner(threshold int, inner scheduler.Runner) scheduler.Runner {
	if threshold <= 0 {
		threshold = 3
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "trading-cycle",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !hyperliquid.IsFatal(err)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Error().Int("threshold", threshold).
					Msg("Consecutive fatal cycles exceeded threshold, halting service")
				s.triggerFatal()
			}
		},
	})

	return runnerFunc(func(ctx context.Context) error {
		_, err := cb.Execute(func() (any, error) {
			return nil, inner.RunCycle(ctx)
		})
		return err
	})
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) RunCycle(ctx context.Context) error { return f(ctx) }

func (s *Service) triggerFatal() {
	s.fatalOnce.Do(func() { close(s.fatal) })
}

// Run starts the engine and blocks until shutdown. It returns
// ErrFatalShutdown when the service halted itself.
func (s *Service) Run(ctx context.Context) error {
	if err := s.startupChecks(ctx); err != nil {
		return err
	}

	go func() {
		if err := s.apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("Status server failed")
		}
	}()

	s.scheduler.Start()
	log.Info().
		Str("environment", s.cfg.App.Environment).
		Dur("interval", s.cfg.Scheduler.Interval()).
		Msg("Trading engine running")

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var runErr error
	select {
	case sig := <-signals:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	case <-s.fatal:
		runErr = ErrFatalShutdown
	}

	s.shutdown(signals)
	return runErr
}

// startupChecks verifies the dependencies the first cycle needs. A dead
// exchange endpoint only warns; cycles will record their own failures.
func (s *Service) startupChecks(ctx context.Context) error {
	if err := s.database.Health(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if err := s.info.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("Exchange unreachable at startup")
	}

	if err := s.agents.Load(ctx); err != nil {
		return fmt.Errorf("agent load failed: %w", err)
	}
	activeAgents := s.agents.Active()
	metrics.ActiveAgents.Set(float64(len(activeAgents)))
	if len(activeAgents) == 0 {
		log.Warn().Msg("No active agents with bound providers; cycles will collect data only")
	}

	// Every active agent's account must resolve before the first cycle; a
	// missing signing key fails here, not mid-trade.
	for _, a := range activeAgents {
		if _, err := s.executors.ExecutorFor(a); err != nil {
			return fmt.Errorf("executor init failed: %w", err)
		}
	}

	if notes := s.reconciler.Run(ctx, activeAgents); len(notes) > 0 {
		log.Warn().Int("discrepancies", len(notes)).
			Msg("Startup reconcile found local state diverging from the exchange")
	}
	return nil
}

// shutdown stops the scheduler within the grace period, then closes the
// remaining resources. A second signal or an expired grace forces it.
func (s *Service) shutdown(signals <-chan os.Signal) {
	grace := s.cfg.Service.GraceShutdown()
	if grace <= 0 {
		grace = s.cfg.Scheduler.Interval()
	}

	stopped := make(chan struct{})
	go func() {
		s.scheduler.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		log.Info().Msg("Scheduler drained")
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("Grace period expired, forcing shutdown")
	case sig := <-signals:
		log.Warn().Str("signal", sig.String()).Msg("Second signal, forcing shutdown")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.apiServer.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Status server stop failed")
	}

	// Cycles persist their own counters; this covers state mutated since
	// the last finalize, like a restored-but-never-cycled start time.
	finalState := s.executor.State()
	if err := s.database.SaveBotState(stopCtx, &finalState); err != nil {
		log.Error().Err(err).Msg("Final state persist failed")
	}

	if s.redisCli != nil {
		if err := s.redisCli.Close(); err != nil {
			log.Error().Err(err).Msg("Redis close failed")
		}
	}
	s.database.Close()
	log.Info().Msg("Shutdown complete")
}
