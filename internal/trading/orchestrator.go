package trading

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/decision"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

// Outcome is the result of applying one decision
type Outcome struct {
	Executed bool
	Trade    *db.Trade
	Warnings []string
}

// coinKey identifies one coin on one resolved executor. Two agents sharing
// an exchange account resolve to the same executor, so their writes to the
// same coin serialize instead of racing on a commingled position.
type coinKey struct {
	exec Executor
	coin string
}

// Orchestrator applies one agent's decision against the exchange. Orders
// for the same agent, and orders touching the same coin on the same
// account, are serialized; everything else proceeds in parallel.
type Orchestrator struct {
	risk      *RiskManager
	positions *PositionManager
	orders    *OrderManager
	resolver  ExecutorResolver
	store     TradeStore

	mu         sync.Mutex
	agentLocks map[uuid.UUID]*sync.Mutex
	coinLocks  map[coinKey]*sync.Mutex
}

// NewOrchestrator wires the trading components together
func NewOrchestrator(risk *RiskManager, positions *PositionManager, orders *OrderManager, resolver ExecutorResolver, store TradeStore) *Orchestrator {
	return &Orchestrator{
		risk:       risk,
		positions:  positions,
		orders:     orders,
		resolver:   resolver,
		store:      store,
		agentLocks: make(map[uuid.UUID]*sync.Mutex),
		coinLocks:  make(map[coinKey]*sync.Mutex),
	}
}

// Apply executes one validated decision for one agent. The returned error
// is the failure reason recorded on the decision; the caller decides
// escalation via hyperliquid.IsFatal.
func (o *Orchestrator) Apply(ctx context.Context, agent *db.Agent, d *decision.Decision, decisionID uuid.UUID, account *AccountState, price float64) (*Outcome, error) {
	lock := o.agentLock(agent.ID)
	lock.Lock()
	defer lock.Unlock()

	if d.IsHold() {
		return &Outcome{}, nil
	}

	exec, err := o.resolver.ExecutorFor(agent)
	if err != nil {
		return nil, fmt.Errorf("no executor for agent %s: %w", agent.Name, err)
	}

	// Agent lock is always taken before the coin lock
	coinLock := o.coinLock(exec, d.Coin)
	coinLock.Lock()
	defer coinLock.Unlock()

	switch {
	case d.Action == db.ActionClosePosition:
		return o.closePosition(ctx, exec, agent, d, account, price)
	case d.IsOpen():
		return o.openPosition(ctx, exec, agent, d, decisionID, account, price)
	default:
		return nil, fmt.Errorf("unknown action %q", d.Action)
	}
}

// closePosition exits the full open position with a reduce-only IOC order
func (o *Orchestrator) closePosition(ctx context.Context, exec Executor, agent *db.Agent, d *decision.Decision, account *AccountState, price float64) (*Outcome, error) {
	pos := account.Position(d.Coin)
	if pos == nil {
		return nil, fmt.Errorf("no open position in %s", d.Coin)
	}

	ref := decimal.NewFromFloat(price)
	ack, err := exec.PlaceOrder(ctx, hyperliquid.PlaceOrderRequest{
		Coin:       d.Coin,
		IsBuy:      sideOpposite(pos.Side),
		Size:       pos.Size,
		Price:      &ref,
		Kind:       hyperliquid.OrderKindMarket,
		ReduceOnly: true,
	})
	if err != nil {
		return nil, err
	}

	exitPrice := ref
	if v, perr := decimal.NewFromString(ack.AvgPrice); perr == nil && v.IsPositive() {
		exitPrice = v
	}

	realized := exitPrice.Sub(pos.EntryPrice).Mul(pos.Size)
	if pos.Side == db.TradeSideShort {
		realized = pos.EntryPrice.Sub(exitPrice).Mul(pos.Size)
	}

	if err := o.orders.UpdateTradeStatus(ctx, pos.TradeID, exitPrice, realized, decimal.Zero); err != nil {
		return nil, fmt.Errorf("position closed on exchange but not recorded: %w", err)
	}

	log.Info().
		Str("agent", agent.Name).
		Str("coin", d.Coin).
		Str("exit_price", exitPrice.String()).
		Str("realized_pnl", realized.StringFixed(2)).
		Msg("Position closed")
	return &Outcome{Executed: true}, nil
}

// openPosition runs the risk gate, sets leverage, places the entry and the
// optional exit triggers
func (o *Orchestrator) openPosition(ctx context.Context, exec Executor, agent *db.Agent, d *decision.Decision, decisionID uuid.UUID, account *AccountState, price float64) (*Outcome, error) {
	sizeUSD := decimal.NewFromFloat(d.SizeUSD)
	if err := o.risk.Validate(agent, account, d.Coin, sizeUSD, d.Leverage); err != nil {
		return nil, err
	}

	if err := exec.UpdateLeverage(ctx, d.Coin, d.Leverage, true); err != nil {
		return nil, fmt.Errorf("failed to set leverage: %w", err)
	}

	side := db.TradeSideLong
	if d.Action == db.ActionOpenShort {
		side = db.TradeSideShort
	}

	refPrice := decimal.NewFromFloat(price)
	baseSize := o.positions.SizeFromUSD(sizeUSD, refPrice)
	if !baseSize.IsPositive() {
		return nil, fmt.Errorf("cannot size order: price %s", refPrice)
	}

	trade, err := o.orders.ExecuteTrade(ctx, agent, decisionID, d.Coin, side, baseSize, refPrice, d.Leverage)
	if err != nil {
		return nil, err
	}

	entry := refPrice
	if trade.EntryPrice != nil {
		entry = decimal.NewFromFloat(*trade.EntryPrice)
	}
	warnings := o.placeExitTriggers(ctx, exec, agent, d, decisionID, trade, side, entry)

	return &Outcome{Executed: true, Trade: trade, Warnings: warnings}, nil
}

// placeExitTriggers places stop-loss and take-profit reduce-only triggers
// concurrently. A decision without explicit exit prices gets them backfilled
// from the agent's percent distances, config-defaulted when the agent omits
// those too. A trigger failure leaves the position open; it is reported as a
// warning and noted on the trade, never rolled back.
func (o *Orchestrator) placeExitTriggers(ctx context.Context, exec Executor, agent *db.Agent, d *decision.Decision, decisionID uuid.UUID, trade *db.Trade, side string, entry decimal.Decimal) []string {
	sl := decimal.NewFromFloat(d.StopLossPrice)
	if !sl.IsPositive() {
		if pct := o.risk.StopLossPctFor(agent); pct > 0 {
			sl = StopLossPrice(entry, pct, side)
		}
	}
	tp := decimal.NewFromFloat(d.TakeProfitPrice)
	if !tp.IsPositive() {
		if pct := o.risk.TakeProfitPctFor(agent); pct > 0 {
			tp = TakeProfitPrice(entry, pct, side)
		}
	}

	type trigger struct {
		tpsl  string
		price decimal.Decimal
	}
	var triggers []trigger
	if sl.IsPositive() {
		triggers = append(triggers, trigger{"sl", sl})
	}
	if tp.IsPositive() {
		triggers = append(triggers, trigger{"tp", tp})
	}
	if len(triggers) == 0 {
		return nil
	}

	size := decimal.NewFromFloat(trade.Size)

	var (
		mu       sync.Mutex
		warnings []string
		wg       sync.WaitGroup
	)
	for _, tr := range triggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limit := tr.price
			_, err := exec.PlaceOrder(ctx, hyperliquid.PlaceOrderRequest{
				Coin:          d.Coin,
				IsBuy:         sideOpposite(side),
				Size:          size,
				Price:         &limit,
				ReduceOnly:    true,
				ClientOrderID: TriggerCloid(decisionID, tr.tpsl),
				Trigger: &hyperliquid.TriggerSpec{
					IsMarket: true,
					Price:    tr.price,
					TpSl:     tr.tpsl,
				},
				Grouping: hyperliquid.GroupingPositionTpsl,
			})
			if err != nil {
				msg := fmt.Sprintf("%s trigger failed: %v", tr.tpsl, err)
				mu.Lock()
				warnings = append(warnings, msg)
				mu.Unlock()

				log.Warn().Err(err).
					Str("agent", agent.Name).
					Str("coin", d.Coin).
					Str("tpsl", tr.tpsl).
					Msg("Exit trigger placement failed, position stays open")
				if aerr := o.store.AnnotateTrade(ctx, trade.ID, msg); aerr != nil {
					log.Warn().Err(aerr).Msg("Failed to annotate trade")
				}
			}
		}()
	}
	wg.Wait()
	return warnings
}

func (o *Orchestrator) agentLock(id uuid.UUID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.agentLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.agentLocks[id] = lock
	}
	return lock
}

func (o *Orchestrator) coinLock(exec Executor, coin string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := coinKey{exec: exec, coin: coin}
	lock, ok := o.coinLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.coinLocks[key] = lock
	}
	return lock
}
