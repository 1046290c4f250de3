package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/agent"
	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/decision"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
	"github.com/ajitpratap0/perpfunk/internal/indicators"
	"github.com/ajitpratap0/perpfunk/internal/market"
	"github.com/ajitpratap0/perpfunk/internal/prompt"
	"github.com/ajitpratap0/perpfunk/internal/trading"
)

// DecisionStore persists decision records
type DecisionStore interface {
	InsertDecision(ctx context.Context, d *db.Decision) error
}

// Result pairs one agent with its decision record for the cycle. Parsed is
// non-nil only when the record's status is success.
type Result struct {
	Agent  *db.Agent
	Record *db.Decision
	Parsed *decision.Decision
	Err    error
}

// Orchestrator runs every active agent against one market snapshot. Agents
// run concurrently and are isolated: one failing, timing out or producing
// garbage never affects its peers.
type Orchestrator struct {
	agents     *agent.Manager
	positions  *trading.PositionManager
	indicators *indicators.Service
	builder    *prompt.Builder
	store      DecisionStore
	coins      []string
	timeframes []string

	startTime   time.Time
	invocations int
	mu          sync.Mutex
}

// New creates the per-cycle agent orchestrator
func New(agents *agent.Manager, positions *trading.PositionManager, ind *indicators.Service, builder *prompt.Builder, store DecisionStore, coins, timeframes []string) *Orchestrator {
	return &Orchestrator{
		agents:     agents,
		positions:  positions,
		indicators: ind,
		builder:    builder,
		store:      store,
		coins:      coins,
		timeframes: timeframes,
		startTime:  time.Now().UTC(),
	}
}

// Run fans out one decision task per active agent and awaits them all. The
// context carries the cycle deadline; generations cut off by it are
// recorded as failed with a deadline reason.
func (o *Orchestrator) Run(ctx context.Context, snap *market.Snapshot) []Result {
	o.mu.Lock()
	o.invocations++
	meta := prompt.Meta{
		Now:             time.Now().UTC(),
		MinutesRunning:  int(time.Since(o.startTime).Minutes()),
		InvocationCount: o.invocations,
	}
	o.mu.Unlock()

	coinViews := o.coinViews(snap)
	mids := make(map[string]float64, len(snap.Coins))
	for _, c := range snap.Coins {
		mids[c.Coin] = c.MidPrice
	}

	agents := o.agents.Active()
	results := make([]Result, len(agents))

	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.runAgent(ctx, a, meta, coinViews, mids)
		}()
	}
	wg.Wait()
	return results
}

// coinViews computes the prompt-facing indicator views once per cycle; all
// agents share the same snapshot
func (o *Orchestrator) coinViews(snap *market.Snapshot) []prompt.CoinView {
	var primary, secondary string
	if len(o.timeframes) > 0 {
		primary = o.timeframes[0]
	}
	if len(o.timeframes) > 1 {
		secondary = o.timeframes[1]
	}

	views := make([]prompt.CoinView, 0, len(snap.Coins))
	for _, c := range snap.Coins {
		view := prompt.CoinView{
			Coin:            c.Coin,
			Price:           c.MidPrice,
			OpenInterest:    c.OpenInterest,
			OpenInterestAvg: c.OpenInterestAvg,
			FundingRate:     c.FundingRate,
		}

		if klines, ok := c.Klines[primary]; ok {
			set, err := o.indicators.Compute(klines)
			if err != nil {
				log.Warn().Err(err).Str("coin", c.Coin).Str("timeframe", primary).
					Msg("Primary indicators unavailable")
			} else {
				view.Intraday = set
				view.Prices = closeTail(klines)
			}
		}
		if secondary != "" {
			if klines, ok := c.Klines[secondary]; ok {
				if set, err := o.indicators.Compute(klines); err == nil {
					view.Longer = set
				}
			}
		}
		views = append(views, view)
	}
	return views
}

// runAgent executes the decision pipeline for one agent and always persists
// a record, whatever the outcome
func (o *Orchestrator) runAgent(ctx context.Context, a *db.Agent, meta prompt.Meta, coinViews []prompt.CoinView, mids map[string]float64) Result {
	start := time.Now()
	record := &db.Decision{
		ID:        uuid.New(),
		AgentID:   a.ID,
		Timestamp: start.UTC(),
	}
	result := Result{Agent: a, Record: record}

	account, err := o.positions.Account(ctx, a, mids)
	if err != nil {
		o.finish(ctx, record, start, db.DecisionStatusFailed, err)
		result.Err = err
		return result
	}

	promptText := o.builder.Build(meta, coinViews, accountView(account), a.StrategyDescription)
	record.LLMPrompt = &promptText

	provider, err := o.agents.ProviderFor(a.ID)
	if err != nil {
		o.finish(ctx, record, start, db.DecisionStatusFailed, err)
		result.Err = err
		return result
	}

	genStart := time.Now()
	text, usage, err := provider.Generate(ctx, promptText)
	o.agents.RecordCall(provider.ModelName(), usage, time.Since(genStart), err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			err = errors.New("deadline exceeded before provider completed")
		}
		o.finish(ctx, record, start, db.DecisionStatusFailed, err)
		result.Err = err
		return result
	}
	record.LLMResponse = &text

	parsed, err := decision.Parse(text)
	if err == nil {
		err = decision.ValidateSchema(parsed, o.coins)
	}
	if err == nil && !parsed.IsHold() {
		agentCtx := &decision.AgentContext{
			MaxPositionSizePct: a.MaxPositionSizePct,
			MaxLeverage:        a.MaxLeverage,
			AccountValue:       account.AccountValue.InexactFloat64(),
			CurrentPrice:       mids[parsed.Coin],
			HasOpenPosition:    account.HasPosition(parsed.Coin),
		}
		err = decision.Validate(parsed, agentCtx)
	}
	if err != nil {
		o.finish(ctx, record, start, db.DecisionStatusParsingError, err)
		result.Err = err
		return result
	}

	record.Action = parsed.Action
	record.Coin = parsed.Coin
	record.SizeUSD = parsed.SizeUSD
	record.Leverage = parsed.Leverage
	record.StopLossPrice = parsed.StopLossPrice
	record.TakeProfitPrice = parsed.TakeProfitPrice
	record.Confidence = parsed.Confidence
	record.Reasoning = parsed.Reasoning

	o.finish(ctx, record, start, db.DecisionStatusSuccess, nil)
	result.Parsed = parsed
	return result
}

// finish stamps timing and status on the record and persists it. Persistence
// uses a detached context so a cycle deadline cannot lose the record.
func (o *Orchestrator) finish(ctx context.Context, record *db.Decision, start time.Time, status string, cause error) {
	record.Status = status
	elapsed := time.Since(start).Milliseconds()
	record.ExecutionTimeMS = &elapsed
	if cause != nil {
		msg := cause.Error()
		record.ErrorMessage = &msg
	}

	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := o.store.InsertDecision(persistCtx, record); err != nil {
		log.Error().Err(err).
			Str("agent_id", record.AgentID.String()).
			Msg("Failed to persist decision record")
	}
}

// accountView shapes the account state for the prompt
func accountView(a *trading.AccountState) prompt.AccountView {
	view := prompt.AccountView{
		TotalReturnPct: a.TotalReturnPct,
		AvailableCash:  a.AvailableCash.InexactFloat64(),
		TotalValue:     a.AccountValue.InexactFloat64(),
		SharpeRatio:    a.SharpeRatio,
	}
	for _, p := range a.Positions {
		view.Positions = append(view.Positions, prompt.PositionView{
			Symbol:           p.Coin,
			Quantity:         p.Size.InexactFloat64(),
			EntryPrice:       p.EntryPrice.InexactFloat64(),
			CurrentPrice:     p.CurrentPrice.InexactFloat64(),
			LiquidationPrice: p.LiquidationPrice.InexactFloat64(),
			UnrealizedPnL:    p.UnrealizedPnL.InexactFloat64(),
			Leverage:         p.Leverage,
		})
	}
	return view
}

// closeTail extracts the close-price tail matching the indicator tails
func closeTail(klines []hyperliquid.Kline) []float64 {
	const n = 20
	start := 0
	if len(klines) > n {
		start = len(klines) - n
	}
	out := make([]float64, 0, len(klines)-start)
	for _, k := range klines[start:] {
		out = append(out, k.Close)
	}
	return out
}
