package trading

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/perpfunk/internal/db"
)

// TradeStore is the persistence surface the trading layer needs
type TradeStore interface {
	InsertTrade(ctx context.Context, t *db.Trade) (*db.Trade, error)
	GetTrade(ctx context.Context, id uuid.UUID) (*db.Trade, error)
	GetOpenTrades(ctx context.Context, agentID uuid.UUID) ([]*db.Trade, error)
	GetOpenTradeForCoin(ctx context.Context, agentID uuid.UUID, coin string) (*db.Trade, error)
	CloseTrade(ctx context.Context, id uuid.UUID, exitPrice, realizedPnL, fees float64) error
	CancelTrade(ctx context.Context, id uuid.UUID) error
	UpdateTradeUnrealizedPnL(ctx context.Context, id uuid.UUID, unrealized float64) error
	AnnotateTrade(ctx context.Context, id uuid.UUID, note string) error
	SumRealizedPnL(ctx context.Context, agentID uuid.UUID) (float64, error)
	ListRealizedPnLs(ctx context.Context, agentID uuid.UUID, limit int) ([]float64, error)
}

// Position is one open position reconstructed from a trade record and the
// live mark price. Monetary and size fields are exact decimals; the float
// trade row is converted once at the store boundary.
type Position struct {
	TradeID          uuid.UUID
	Coin             string
	Side             string
	Size             decimal.Decimal
	Leverage         int
	EntryPrice       decimal.Decimal
	CurrentPrice     decimal.Decimal
	LiquidationPrice decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Notional         decimal.Decimal
}

// AccountState is an agent's account as derived from trades and live prices.
// TotalReturnPct and SharpeRatio are analytics, not money, and stay float.
type AccountState struct {
	InitialBalance decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	AccountValue   decimal.Decimal
	MarginUsed     decimal.Decimal
	AvailableCash  decimal.Decimal
	Exposure       decimal.Decimal
	TotalReturnPct float64
	Positions      []Position
	SharpeRatio    *float64
}

// HasPosition reports whether a coin has an open position
func (a *AccountState) HasPosition(coin string) bool {
	return a.Position(coin) != nil
}

// Position returns the open position for a coin, or nil
func (a *AccountState) Position(coin string) *Position {
	for i := range a.Positions {
		if a.Positions[i].Coin == coin {
			return &a.Positions[i]
		}
	}
	return nil
}

// PositionManager reconstructs per-agent positions from open trade records
// and live prices. The local store is a projection; the exchange stays
// authoritative for fills and liquidations.
type PositionManager struct {
	store TradeStore
}

// NewPositionManager creates a position manager over a trade store
func NewPositionManager(store TradeStore) *PositionManager {
	return &PositionManager{store: store}
}

// Account builds the full account state for one agent given current mids.
// Unrealized PnL is also written back to the open trade rows, best effort.
func (pm *PositionManager) Account(ctx context.Context, agent *db.Agent, mids map[string]float64) (*AccountState, error) {
	trades, err := pm.store.GetOpenTrades(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	realized, err := pm.store.SumRealizedPnL(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	state := &AccountState{
		InitialBalance: decimal.NewFromFloat(agent.InitialBalance),
		RealizedPnL:    decimal.NewFromFloat(realized),
	}

	for _, t := range trades {
		pos := positionFromTrade(t, mids)
		state.Positions = append(state.Positions, pos)
		state.UnrealizedPnL = state.UnrealizedPnL.Add(pos.UnrealizedPnL)
		state.Exposure = state.Exposure.Add(pos.Notional)
		if pos.Leverage > 0 {
			state.MarginUsed = state.MarginUsed.Add(pos.Notional.Div(decimal.NewFromInt(int64(pos.Leverage))))
		}

		if err := pm.store.UpdateTradeUnrealizedPnL(ctx, t.ID, pos.UnrealizedPnL.InexactFloat64()); err != nil {
			log.Warn().Err(err).Str("trade_id", t.ID.String()).
				Msg("Failed to refresh unrealized pnl")
		}
	}

	state.AccountValue = state.InitialBalance.Add(state.RealizedPnL).Add(state.UnrealizedPnL)
	state.AvailableCash = state.AccountValue.Sub(state.MarginUsed)
	if state.AvailableCash.IsNegative() {
		state.AvailableCash = decimal.Zero
	}
	if state.InitialBalance.IsPositive() {
		state.TotalReturnPct = state.AccountValue.Sub(state.InitialBalance).
			Div(state.InitialBalance).Mul(hundred).InexactFloat64()
	}

	if sharpe, ok := pm.sharpe(ctx, agent.ID); ok {
		state.SharpeRatio = &sharpe
	}
	return state, nil
}

// SizeFromUSD converts a target notional to base-asset size
func (pm *PositionManager) SizeFromUSD(targetUSD, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return targetUSD.Div(price)
}

// positionFromTrade marks one open trade to market
func positionFromTrade(t *db.Trade, mids map[string]float64) Position {
	entry := decimal.Zero
	if t.EntryPrice != nil {
		entry = decimal.NewFromFloat(*t.EntryPrice)
	}
	price := entry
	if mid, ok := mids[t.Coin]; ok && mid > 0 {
		price = decimal.NewFromFloat(mid)
	}
	size := decimal.NewFromFloat(t.Size)

	pos := Position{
		TradeID:      t.ID,
		Coin:         t.Coin,
		Side:         t.Side,
		Size:         size,
		Leverage:     t.Leverage,
		EntryPrice:   entry,
		CurrentPrice: price,
		Notional:     size.Mul(price),
	}

	if t.Side == db.TradeSideLong {
		pos.UnrealizedPnL = price.Sub(entry).Mul(size)
	} else {
		pos.UnrealizedPnL = entry.Sub(price).Mul(size)
	}
	pos.LiquidationPrice = approxLiquidationPrice(entry, t.Leverage, t.Side)
	return pos
}

// approxLiquidationPrice estimates where margin runs out for an isolated
// position; the exchange's own figure supersedes this when shown
func approxLiquidationPrice(entry decimal.Decimal, leverage int, side string) decimal.Decimal {
	if !entry.IsPositive() || leverage < 1 {
		return decimal.Zero
	}
	move := entry.Div(decimal.NewFromInt(int64(leverage)))
	if side == db.TradeSideLong {
		return entry.Sub(move)
	}
	return entry.Add(move)
}

// sharpe computes a per-trade Sharpe ratio over recent closed trades; at
// least 5 samples with non-zero variance are required
func (pm *PositionManager) sharpe(ctx context.Context, agentID uuid.UUID) (float64, bool) {
	pnls, err := pm.store.ListRealizedPnLs(ctx, agentID, 50)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load realized pnls for sharpe")
		return 0, false
	}
	if len(pnls) < 5 {
		return 0, false
	}

	m := 0.0
	for _, v := range pnls {
		m += v
	}
	m /= float64(len(pnls))

	variance := 0.0
	for _, v := range pnls {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(pnls) - 1)
	if variance == 0 {
		return 0, false
	}
	return m / math.Sqrt(variance), true
}
