package decision

import (
	"fmt"

	"github.com/ajitpratap0/perpfunk/internal/db"
)

// AgentContext is the account state a decision is validated against
type AgentContext struct {
	MaxPositionSizePct float64
	MaxLeverage        int
	AccountValue       float64
	CurrentPrice       float64 // for the decision's coin; 0 when unknown
	HasOpenPosition    bool    // in the decision's coin
}

// Validate applies business rules on top of ValidateSchema. HOLD is always
// valid; opens must not double up, must respect the agent's size and
// leverage caps, and must place stops on the correct side of the market;
// closes require an open position.
func Validate(d *Decision, agentCtx *AgentContext) error {
	switch d.Action {
	case db.ActionHold:
		return nil

	case db.ActionClosePosition:
		if !agentCtx.HasOpenPosition {
			return fmt.Errorf("no open position in %s to close", d.Coin)
		}
		return nil

	case db.ActionOpenLong, db.ActionOpenShort:
		if agentCtx.HasOpenPosition {
			return fmt.Errorf("position already open in %s", d.Coin)
		}

		maxSize := agentCtx.AccountValue * agentCtx.MaxPositionSizePct / 100
		if d.SizeUSD > maxSize {
			return fmt.Errorf("size_usd %.2f exceeds agent cap %.2f", d.SizeUSD, maxSize)
		}
		if d.Leverage > agentCtx.MaxLeverage {
			return fmt.Errorf("leverage %d exceeds agent cap %d", d.Leverage, agentCtx.MaxLeverage)
		}
		return validateExitPrices(d, agentCtx.CurrentPrice)

	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
}

// validateExitPrices checks stop/take placement relative to the current
// price. Zero means "not set" and is allowed.
func validateExitPrices(d *Decision, price float64) error {
	if price <= 0 {
		return nil
	}

	long := d.Action == db.ActionOpenLong
	if d.StopLossPrice > 0 {
		if long && d.StopLossPrice >= price {
			return fmt.Errorf("long stop_loss_price %.2f must be below current price %.2f", d.StopLossPrice, price)
		}
		if !long && d.StopLossPrice <= price {
			return fmt.Errorf("short stop_loss_price %.2f must be above current price %.2f", d.StopLossPrice, price)
		}
	}
	if d.TakeProfitPrice > 0 {
		if long && d.TakeProfitPrice <= price {
			return fmt.Errorf("long take_profit_price %.2f must be above current price %.2f", d.TakeProfitPrice, price)
		}
		if !long && d.TakeProfitPrice >= price {
			return fmt.Errorf("short take_profit_price %.2f must be below current price %.2f", d.TakeProfitPrice, price)
		}
	}
	return nil
}
