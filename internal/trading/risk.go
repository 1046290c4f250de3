package trading

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/perpfunk/internal/db"
)

// Fallback limits when both the agent and the config omit a value
const (
	defaultMaxLeverage        = 10
	defaultMaxPositionSizePct = 20.0
	defaultExposureCapPct     = 80.0
	defaultLiquidationWarnPct = 20.0
)

var hundred = decimal.NewFromInt(100)

// RiskLimits are the configured defaults. The per-agent fields apply when an
// agent record omits its own limit; the cap fields always apply.
type RiskLimits struct {
	MaxLeverage           int
	MaxPositionSizePct    float64
	StopLossPct           float64
	TakeProfitPct         float64
	TotalExposureCapPct   float64
	LiquidationWarningPct float64
}

// RiskManager gates orders before they reach the exchange. All checks run
// on the account state computed for the current cycle's prices.
type RiskManager struct {
	limits RiskLimits
}

// NewRiskManager creates a risk manager; non-positive limits fall back to
// the package defaults
func NewRiskManager(limits RiskLimits) *RiskManager {
	if limits.MaxLeverage <= 0 {
		limits.MaxLeverage = defaultMaxLeverage
	}
	if limits.MaxPositionSizePct <= 0 {
		limits.MaxPositionSizePct = defaultMaxPositionSizePct
	}
	if limits.TotalExposureCapPct <= 0 {
		limits.TotalExposureCapPct = defaultExposureCapPct
	}
	if limits.LiquidationWarningPct <= 0 {
		limits.LiquidationWarningPct = defaultLiquidationWarnPct
	}
	return &RiskManager{limits: limits}
}

// MaxLeverageFor returns the agent's leverage cap, falling back to the
// configured default when the agent omits one
func (rm *RiskManager) MaxLeverageFor(agent *db.Agent) int {
	if agent.MaxLeverage > 0 {
		return agent.MaxLeverage
	}
	return rm.limits.MaxLeverage
}

// MaxPositionSizePctFor returns the agent's position size cap in percent
func (rm *RiskManager) MaxPositionSizePctFor(agent *db.Agent) float64 {
	if agent.MaxPositionSizePct > 0 {
		return agent.MaxPositionSizePct
	}
	return rm.limits.MaxPositionSizePct
}

// StopLossPctFor returns the agent's stop-loss distance in percent
func (rm *RiskManager) StopLossPctFor(agent *db.Agent) float64 {
	if agent.StopLossPct > 0 {
		return agent.StopLossPct
	}
	return rm.limits.StopLossPct
}

// TakeProfitPctFor returns the agent's take-profit distance in percent
func (rm *RiskManager) TakeProfitPctFor(agent *db.Agent) float64 {
	if agent.TakeProfitPct > 0 {
		return agent.TakeProfitPct
	}
	return rm.limits.TakeProfitPct
}

// Validate applies the four pre-trade checks. A nil error means the order
// may proceed; otherwise the error text is the rejection reason.
func (rm *RiskManager) Validate(agent *db.Agent, account *AccountState, coin string, sizeUSD decimal.Decimal, leverage int) error {
	maxLeverage := rm.MaxLeverageFor(agent)
	if leverage > maxLeverage {
		return fmt.Errorf("leverage %d exceeds max %d", leverage, maxLeverage)
	}
	if leverage < 1 {
		return fmt.Errorf("leverage must be at least 1, got %d", leverage)
	}

	maxPosition := account.AccountValue.Mul(decimal.NewFromFloat(rm.MaxPositionSizePctFor(agent))).Div(hundred)
	if sizeUSD.GreaterThan(maxPosition) {
		return fmt.Errorf("position $%s exceeds max $%s", sizeUSD.StringFixed(0), maxPosition.StringFixed(0))
	}

	requiredMargin := sizeUSD.Div(decimal.NewFromInt(int64(leverage)))
	if requiredMargin.GreaterThan(account.AvailableCash) {
		return fmt.Errorf("required margin $%s exceeds available $%s",
			requiredMargin.StringFixed(0), account.AvailableCash.StringFixed(0))
	}

	exposureCap := account.AccountValue.Mul(decimal.NewFromFloat(rm.limits.TotalExposureCapPct)).Div(hundred)
	if account.Exposure.Add(sizeUSD).GreaterThan(exposureCap) {
		return fmt.Errorf("total exposure $%s would exceed cap $%s",
			account.Exposure.Add(sizeUSD).StringFixed(0), exposureCap.StringFixed(0))
	}
	return nil
}

// StopLossPrice computes the default stop for a side from a percent distance
func StopLossPrice(entry decimal.Decimal, slPct float64, side string) decimal.Decimal {
	dist := decimal.NewFromFloat(slPct).Div(hundred)
	if side == db.TradeSideLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(dist))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(dist))
}

// TakeProfitPrice computes the default take-profit for a side
func TakeProfitPrice(entry decimal.Decimal, tpPct float64, side string) decimal.Decimal {
	dist := decimal.NewFromFloat(tpPct).Div(hundred)
	if side == db.TradeSideLong {
		return entry.Mul(decimal.NewFromInt(1).Add(dist))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(dist))
}

// LiquidationWarnings flags positions whose price is within the warn
// threshold of their liquidation price. Informational only.
func (rm *RiskManager) LiquidationWarnings(account *AccountState) []string {
	warnPct := decimal.NewFromFloat(rm.limits.LiquidationWarningPct)

	var warnings []string
	for _, pos := range account.Positions {
		if !pos.LiquidationPrice.IsPositive() || !pos.CurrentPrice.IsPositive() {
			continue
		}

		dist := pos.CurrentPrice.Sub(pos.LiquidationPrice)
		if pos.Side == db.TradeSideShort {
			dist = pos.LiquidationPrice.Sub(pos.CurrentPrice)
		}
		distPct := dist.Div(pos.CurrentPrice).Mul(hundred)
		if distPct.IsNegative() {
			distPct = decimal.Zero
		}

		if distPct.LessThan(warnPct) {
			msg := fmt.Sprintf("%s %s position within %s%% of liquidation (price %s, liq %s)",
				pos.Coin, pos.Side, distPct.StringFixed(1),
				pos.CurrentPrice.StringFixed(2), pos.LiquidationPrice.StringFixed(2))
			warnings = append(warnings, msg)
			log.Warn().
				Str("coin", pos.Coin).
				Str("side", pos.Side).
				Str("distance_pct", distPct.StringFixed(1)).
				Msg("Position at liquidation risk")
		}
	}
	return warnings
}
