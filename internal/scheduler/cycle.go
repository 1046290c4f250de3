package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/decision"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
	"github.com/ajitpratap0/perpfunk/internal/market"
	"github.com/ajitpratap0/perpfunk/internal/metrics"
	"github.com/ajitpratap0/perpfunk/internal/orchestrator"
	"github.com/ajitpratap0/perpfunk/internal/trading"
)

// Cycle phases, reported through Phase for the status surface
const (
	PhaseIdle       = "idle"
	PhaseCollecting = "collecting"
	PhaseDeciding   = "deciding"
	PhaseExecuting  = "executing"
	PhaseFinalizing = "finalizing"
)

// MarketCollector produces the per-cycle market snapshot
type MarketCollector interface {
	Collect(ctx context.Context) (*market.Snapshot, error)
}

// DecisionRunner fans the snapshot out to every active agent
type DecisionRunner interface {
	Run(ctx context.Context, snap *market.Snapshot) []orchestrator.Result
}

// TradeApplier executes one agent's validated decision
type TradeApplier interface {
	Apply(ctx context.Context, agent *db.Agent, d *decision.Decision, decisionID uuid.UUID, account *trading.AccountState, price float64) (*trading.Outcome, error)
}

// StateStore persists the crash-safe cycle counters
type StateStore interface {
	SaveBotState(ctx context.Context, state *db.BotState) error
}

// DecisionUpdater rewrites a persisted decision's status after execution
type DecisionUpdater interface {
	UpdateDecisionStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error
}

// CycleExecutor runs one full trading cycle: collect market data, let every
// agent decide, execute the surviving decisions, then persist counters.
// A cycle that cannot collect data is recorded and skipped; decisions are
// never made on stale or partial snapshots.
type CycleExecutor struct {
	collector MarketCollector
	decider   DecisionRunner
	trader    TradeApplier
	positions *trading.PositionManager
	risk      *trading.RiskManager
	states    StateStore
	decisions DecisionUpdater

	mu          sync.Mutex
	phase       string
	state       db.BotState
	fatalStreak int
}

// NewCycleExecutor wires a cycle executor. initial carries the restored
// service state; pass a fresh one on first run.
func NewCycleExecutor(collector MarketCollector, decider DecisionRunner, trader TradeApplier, positions *trading.PositionManager, risk *trading.RiskManager, states StateStore, decisions DecisionUpdater, initial db.BotState) *CycleExecutor {
	return &CycleExecutor{
		collector: collector,
		decider:   decider,
		trader:    trader,
		positions: positions,
		risk:      risk,
		states:    states,
		decisions: decisions,
		phase:     PhaseIdle,
		state:     initial,
	}
}

// RunCycle implements Runner. The returned error is fatal-marked when the
// exchange rejected this cycle's orders for an authentication reason.
func (c *CycleExecutor) RunCycle(ctx context.Context) error {
	start := time.Now()
	cycleErr := c.run(ctx)
	c.finalize(ctx, start, cycleErr)
	return cycleErr
}

func (c *CycleExecutor) run(ctx context.Context) error {
	c.setPhase(PhaseCollecting)
	collectStart := time.Now()
	snap, err := c.collector.Collect(ctx)
	metrics.CollectionDuration.Observe(time.Since(collectStart).Seconds())
	if err != nil {
		if errors.Is(err, market.ErrDataUnavailable) {
			metrics.CyclesTotal.WithLabelValues(metrics.CycleResultNoData).Inc()
		}
		return fmt.Errorf("market collection failed: %w", err)
	}

	c.setPhase(PhaseDeciding)
	results := c.decider.Run(ctx, snap)
	recordDecisionMetrics(results)

	c.setPhase(PhaseExecuting)
	mids := make(map[string]float64, len(snap.Coins))
	for _, coin := range snap.Coins {
		mids[coin.Coin] = coin.MidPrice
	}

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
		executed int
		failed   int
	)
	for _, r := range results {
		if r.Err != nil || r.Parsed == nil {
			continue
		}
		executed++
		wg.Add(1)
		go func(r orchestrator.Result) {
			defer wg.Done()
			if err := c.execute(ctx, r, mids); err != nil {
				log.Error().Err(err).Str("agent", r.Agent.Name).Msg("Decision execution failed")
				fatalMu.Lock()
				failed++
				if hyperliquid.IsFatal(err) {
					fatalErr = err
				}
				fatalMu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	log.Info().
		Int("agents", len(results)).
		Int("executable", executed).
		Int("failed", failed).
		Msg("Cycle decisions applied")

	if fatalErr != nil {
		return fatalErr
	}
	return nil
}

// execute applies one agent's decision against the exchange. Account state
// is refreshed even on holds, so the gauge and liquidation warnings track
// every cycle.
func (c *CycleExecutor) execute(ctx context.Context, r orchestrator.Result, mids map[string]float64) error {
	account, err := c.positions.Account(ctx, r.Agent, mids)
	if err != nil {
		return c.failDecision(ctx, r, fmt.Errorf("account state unavailable: %w", err))
	}
	metrics.AccountValue.WithLabelValues(r.Agent.Name).Set(account.AccountValue.InexactFloat64())
	for _, w := range c.risk.LiquidationWarnings(account) {
		log.Warn().Str("agent", r.Agent.Name).Msg(w)
	}

	if r.Parsed.IsHold() {
		return nil
	}

	outcome, err := c.trader.Apply(ctx, r.Agent, r.Parsed, r.Record.ID, account, mids[r.Parsed.Coin])
	if err != nil {
		var rejected *hyperliquid.ExchangeRejected
		if errors.As(err, &rejected) {
			metrics.OrdersTotal.WithLabelValues(metrics.OrderResultRejected).Inc()
		} else {
			metrics.OrdersTotal.WithLabelValues(metrics.OrderResultError).Inc()
		}
		return c.failDecision(ctx, r, err)
	}
	if outcome.Executed {
		metrics.OrdersTotal.WithLabelValues(metrics.OrderResultPlaced).Inc()
	}
	for _, w := range outcome.Warnings {
		log.Warn().Str("agent", r.Agent.Name).Str("coin", r.Parsed.Coin).Msg(w)
	}
	return nil
}

// failDecision rewrites the persisted decision as failed before surfacing the
// cause. Persistence uses a detached context when the cycle's has expired.
func (c *CycleExecutor) failDecision(ctx context.Context, r orchestrator.Result, cause error) error {
	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	msg := cause.Error()
	if err := c.decisions.UpdateDecisionStatus(persistCtx, r.Record.ID, db.DecisionStatusExecutionFailed, &msg); err != nil {
		log.Error().Err(err).
			Str("agent", r.Agent.Name).
			Str("decision_id", r.Record.ID.String()).
			Msg("Failed to record execution failure on decision")
	}
	return cause
}

// finalize stamps counters and persists the state snapshot. Persistence uses
// a detached context so a cycle deadline cannot lose the counters.
func (c *CycleExecutor) finalize(ctx context.Context, start time.Time, cycleErr error) {
	c.setPhase(PhaseFinalizing)
	now := time.Now().UTC()

	c.mu.Lock()
	c.state.CycleCount++
	c.state.LastCycleTime = &now
	if cycleErr != nil {
		msg := cycleErr.Error()
		c.state.LastError = &msg
		if hyperliquid.IsFatal(cycleErr) {
			c.fatalStreak++
		}
	} else {
		c.state.LastError = nil
		c.fatalStreak = 0
	}
	snapshot := c.state
	metrics.FatalStreak.Set(float64(c.fatalStreak))
	c.mu.Unlock()

	elapsed := time.Since(start)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	if cycleErr != nil {
		metrics.CyclesTotal.WithLabelValues(metrics.CycleResultFailed).Inc()
	} else {
		metrics.CyclesTotal.WithLabelValues(metrics.CycleResultSuccess).Inc()
	}

	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := c.states.SaveBotState(persistCtx, &snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to persist cycle state")
	}

	log.Info().
		Int64("cycle", snapshot.CycleCount).
		Dur("duration", elapsed).
		Bool("failed", cycleErr != nil).
		Msg("Cycle finalized")
	c.setPhase(PhaseIdle)
}

// Phase reports the executor's current phase
func (c *CycleExecutor) Phase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State returns a copy of the persisted counters
func (c *CycleExecutor) State() db.BotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FatalStreak reports how many consecutive cycles ended with a fatal
// exchange error
func (c *CycleExecutor) FatalStreak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalStreak
}

func (c *CycleExecutor) setPhase(phase string) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

// recordDecisionMetrics folds the per-agent records into the registry
func recordDecisionMetrics(results []orchestrator.Result) {
	for _, r := range results {
		if r.Record == nil {
			continue
		}
		if r.Record.Status != "" {
			metrics.DecisionsTotal.WithLabelValues(r.Record.Status).Inc()
		}
		if r.Record.ExecutionTimeMS != nil {
			metrics.DecisionLatency.Observe(float64(*r.Record.ExecutionTimeMS) / 1000)
		}
	}
}
