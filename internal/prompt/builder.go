package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/perpfunk/internal/indicators"
)

// Format selects the task-section variant the model is asked for
type Format int

const (
	// FormatSingleJSON asks for rationale plus one JSON decision object
	FormatSingleJSON Format = iota
	// FormatChainOfThought asks for CHAIN_OF_THOUGHT and TRADING_DECISIONS
	// labelled sections
	FormatChainOfThought
)

// Meta is the per-invocation header data
type Meta struct {
	Now             time.Time
	MinutesRunning  int
	InvocationCount int
}

// CoinView is the per-coin market block fed into the prompt
type CoinView struct {
	Coin            string
	Price           float64
	OpenInterest    float64
	OpenInterestAvg float64
	FundingRate     float64

	// Intraday is the primary-timeframe indicator set; Prices is the
	// matching close tail, oldest to newest
	Intraday *indicators.Set
	Prices   []float64

	// Longer is the secondary-timeframe context; nil when unavailable
	Longer *indicators.Set
}

// PositionView is one open position as shown to the model
type PositionView struct {
	Symbol           string
	Quantity         float64
	EntryPrice       float64
	CurrentPrice     float64
	LiquidationPrice float64
	UnrealizedPnL    float64
	Leverage         int
	ExitPlan         string
	Confidence       float64
}

// AccountView is the account section data
type AccountView struct {
	TotalReturnPct float64
	AvailableCash  float64
	TotalValue     float64
	Positions      []PositionView
	SharpeRatio    *float64
}

// Builder assembles the per-agent prompt. The same inputs always produce the
// same text; no risk-limit numbers are ever injected.
type Builder struct {
	format Format
}

// NewBuilder creates a builder for the given task format
func NewBuilder(format Format) *Builder {
	return &Builder{format: format}
}

// Build renders the full prompt: header, per-coin blocks in the given order,
// account section, optional strategy block, task section
func (b *Builder) Build(meta Meta, coins []CoinView, account AccountView, strategy string) string {
	var sb strings.Builder

	b.writeHeader(&sb, meta)
	for i := range coins {
		writeCoin(&sb, &coins[i])
	}
	writeAccount(&sb, account)
	if strings.TrimSpace(strategy) != "" {
		sb.WriteString("## Your Trading Strategy\n\n")
		sb.WriteString(strategy)
		sb.WriteString("\n\n")
	}
	b.writeTask(&sb)

	return sb.String()
}

func (b *Builder) writeHeader(sb *strings.Builder, meta Meta) {
	fmt.Fprintf(sb, "Current time: %s\n", meta.Now.UTC().Format(time.RFC3339))
	fmt.Fprintf(sb, "Minutes since you started trading: %d\n", meta.MinutesRunning)
	fmt.Fprintf(sb, "Times you have been invoked: %d\n", meta.InvocationCount)
	sb.WriteString("All time-series data below is ordered oldest to newest.\n\n")
}

func writeCoin(sb *strings.Builder, c *CoinView) {
	fmt.Fprintf(sb, "## Market data for %s\n\n", c.Coin)
	fmt.Fprintf(sb, "current_price: %s\n", num(c.Price))
	if c.Intraday != nil {
		fmt.Fprintf(sb, "current_ema20: %s\n", num(indicators.Latest(c.Intraday.EMA20)))
		fmt.Fprintf(sb, "current_macd: %s\n", num(indicators.Latest(c.Intraday.MACD)))
		fmt.Fprintf(sb, "current_rsi7: %s\n", num(indicators.Latest(c.Intraday.RSI7)))
	}
	fmt.Fprintf(sb, "open_interest_latest: %s\n", num(c.OpenInterest))
	fmt.Fprintf(sb, "open_interest_average: %s\n", num(c.OpenInterestAvg))
	fmt.Fprintf(sb, "funding_rate: %s\n\n", num(c.FundingRate))

	if c.Intraday != nil {
		sb.WriteString("Intraday series (oldest to newest):\n")
		fmt.Fprintf(sb, "prices: %s\n", series(c.Prices))
		fmt.Fprintf(sb, "ema20: %s\n", series(c.Intraday.EMA20))
		fmt.Fprintf(sb, "macd: %s\n", series(c.Intraday.MACD))
		fmt.Fprintf(sb, "rsi7: %s\n", series(c.Intraday.RSI7))
		fmt.Fprintf(sb, "rsi14: %s\n\n", series(c.Intraday.RSI14))
	}

	if c.Longer != nil {
		sb.WriteString("Longer-timeframe context:\n")
		fmt.Fprintf(sb, "ema20_vs_ema50: %s vs %s\n",
			num(indicators.Latest(c.Longer.EMA20)), num(indicators.Latest(c.Longer.EMA50)))
		fmt.Fprintf(sb, "atr3_vs_atr14: %s vs %s\n",
			num(indicators.Latest(c.Longer.ATR3)), num(indicators.Latest(c.Longer.ATR14)))
		fmt.Fprintf(sb, "current_volume_vs_average: %s vs %s\n",
			num(c.Longer.CurrentVolume), num(c.Longer.AverageVolume))
		fmt.Fprintf(sb, "macd: %s\n", series(c.Longer.MACD))
		fmt.Fprintf(sb, "rsi14: %s\n\n", series(c.Longer.RSI14))
	}
}

func writeAccount(sb *strings.Builder, a AccountView) {
	sb.WriteString("## Your account\n\n")
	fmt.Fprintf(sb, "total_return_pct: %s\n", num(a.TotalReturnPct))
	fmt.Fprintf(sb, "available_cash: %s\n", num(a.AvailableCash))
	fmt.Fprintf(sb, "total_account_value: %s\n", num(a.TotalValue))

	if len(a.Positions) == 0 {
		sb.WriteString("current_positions: none\n")
	} else {
		sb.WriteString("current_positions:\n")
		for _, p := range a.Positions {
			fmt.Fprintf(sb,
				"  {symbol: %s, quantity: %s, entry_price: %s, current_price: %s, liquidation_price: %s, unrealized_pnl: %s, leverage: %d, exit_plan: %s, confidence: %s}\n",
				p.Symbol, num(p.Quantity), num(p.EntryPrice), num(p.CurrentPrice),
				num(p.LiquidationPrice), num(p.UnrealizedPnL), p.Leverage,
				orNone(p.ExitPlan), num(p.Confidence))
		}
	}

	if a.SharpeRatio != nil {
		fmt.Fprintf(sb, "sharpe_ratio: %s\n", num(*a.SharpeRatio))
	}
	sb.WriteString("\n")
}

func (b *Builder) writeTask(sb *strings.Builder) {
	sb.WriteString("## Task\n\n")
	switch b.format {
	case FormatChainOfThought:
		sb.WriteString("First write a CHAIN_OF_THOUGHT section with your full reasoning. " +
			"Then write a TRADING_DECISIONS section containing exactly one JSON object with fields " +
			"{action, coin, size_usd, leverage, stop_loss_price, take_profit_price, confidence, reasoning}. " +
			"action must be one of OPEN_LONG, OPEN_SHORT, CLOSE_POSITION, HOLD.\n")
	default:
		sb.WriteString("Analyze the data above and decide your next trade. " +
			"Explain your reasoning in natural language, then output exactly one JSON object with fields " +
			"{action, coin, size_usd, leverage, stop_loss_price, take_profit_price, confidence, reasoning}. " +
			"action must be one of OPEN_LONG, OPEN_SHORT, CLOSE_POSITION, HOLD.\n")
	}
}

// num renders a float compactly and deterministically
func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// series renders an oldest-to-newest array
func series(values []float64) string {
	if len(values) == 0 {
		return "[]"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = num(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
