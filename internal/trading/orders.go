package trading

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

// Executor is the exchange write surface for one exchange account
type Executor interface {
	PlaceOrder(ctx context.Context, req hyperliquid.PlaceOrderRequest) (*hyperliquid.OrderAck, error)
	CancelOrder(ctx context.Context, coin string, oid int64) error
	UpdateLeverage(ctx context.Context, coin string, leverage int, isCross bool) error
	Address() string
	DryRun() bool
}

// ExecutorResolver maps an agent to the executor bound to the agent's
// exchange account handle. Agents on the same handle share an executor.
type ExecutorResolver interface {
	ExecutorFor(agent *db.Agent) (Executor, error)
}

// OrderManager turns validated decisions into exchange orders and trade rows
type OrderManager struct {
	store    TradeStore
	resolver ExecutorResolver
}

// NewOrderManager creates an order manager
func NewOrderManager(store TradeStore, resolver ExecutorResolver) *OrderManager {
	return &OrderManager{store: store, resolver: resolver}
}

// ExecuteTrade places a market order on the agent's account and records the
// resulting trade. The client order id is derived from the decision id, so a
// retried placement after a lost response resolves to the existing trade row
// instead of a duplicate.
func (om *OrderManager) ExecuteTrade(ctx context.Context, agent *db.Agent, decisionID uuid.UUID, coin, side string, baseSize, refPrice decimal.Decimal, leverage int) (*db.Trade, error) {
	exec, err := om.resolver.ExecutorFor(agent)
	if err != nil {
		return nil, fmt.Errorf("no executor for agent %s: %w", agent.Name, err)
	}

	cloid := CloidFromDecision(decisionID)
	ack, err := exec.PlaceOrder(ctx, hyperliquid.PlaceOrderRequest{
		Coin:          coin,
		IsBuy:         side == db.TradeSideLong,
		Size:          baseSize,
		Price:         &refPrice,
		Kind:          hyperliquid.OrderKindMarket,
		ClientOrderID: cloid,
	})
	if err != nil {
		return nil, err
	}

	entryPrice := refPrice
	if v, perr := decimal.NewFromString(ack.AvgPrice); perr == nil && v.IsPositive() {
		entryPrice = v
	}

	now := time.Now().UTC()
	entry := entryPrice.InexactFloat64()
	trade, err := om.store.InsertTrade(ctx, &db.Trade{
		AgentID:         agent.ID,
		DecisionID:      &decisionID,
		Coin:            coin,
		Side:            side,
		Size:            baseSize.InexactFloat64(),
		Leverage:        leverage,
		EntryPrice:      &entry,
		EntryTime:       &now,
		Status:          db.TradeStatusOpen,
		ExchangeOrderID: &ack.OrderID,
		ClientOrderID:   &cloid,
	})
	if err != nil {
		// The order is live but unrecorded; surface loudly
		return nil, fmt.Errorf("order %s placed but trade not recorded: %w", ack.OrderID, err)
	}

	log.Info().
		Str("agent", agent.Name).
		Str("coin", coin).
		Str("side", side).
		Str("size", baseSize.String()).
		Str("order_id", ack.OrderID).
		Msg("Trade executed")
	return trade, nil
}

// CancelTrade cancels the resting order behind an open trade on the agent's
// account and marks the row cancelled. Only valid while the trade is open.
func (om *OrderManager) CancelTrade(ctx context.Context, agent *db.Agent, tradeID uuid.UUID) error {
	trade, err := om.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade.Status != db.TradeStatusOpen {
		return db.ErrNotOpen
	}

	if trade.ExchangeOrderID != nil {
		if oid, perr := strconv.ParseInt(*trade.ExchangeOrderID, 10, 64); perr == nil {
			exec, rerr := om.resolver.ExecutorFor(agent)
			if rerr != nil {
				return fmt.Errorf("no executor for agent %s: %w", agent.Name, rerr)
			}
			if err := exec.CancelOrder(ctx, trade.Coin, oid); err != nil {
				return err
			}
		}
		// Dry-run ids and filled orders have nothing to cancel on-exchange
	}

	return om.store.CancelTrade(ctx, tradeID)
}

// UpdateTradeStatus closes a trade with exchange-reported exit state.
// Repeating the same update is a no-op at the store level.
func (om *OrderManager) UpdateTradeStatus(ctx context.Context, tradeID uuid.UUID, exitPrice, realizedPnL, fees decimal.Decimal) error {
	return om.store.CloseTrade(ctx, tradeID,
		exitPrice.InexactFloat64(), realizedPnL.InexactFloat64(), fees.InexactFloat64())
}

// CloidFromDecision derives the 128-bit hex client order id the exchange
// expects from a decision id. Deterministic so retries reuse the same id.
func CloidFromDecision(decisionID uuid.UUID) string {
	return "0x" + hex.EncodeToString(decisionID[:])
}

// TriggerCloid derives distinct cloids for a trade's stop and take orders
func TriggerCloid(decisionID uuid.UUID, tpsl string) string {
	id := decisionID
	// Flip the last byte so the trigger ids never collide with the entry id
	if tpsl == "tp" {
		id[15] ^= 0x01
	} else {
		id[15] ^= 0x02
	}
	return "0x" + hex.EncodeToString(id[:])
}

// sideOpposite returns the closing side for a position side
func sideOpposite(side string) bool {
	// Returns isBuy for the closing order
	return strings.EqualFold(side, db.TradeSideShort)
}
