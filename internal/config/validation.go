package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid configuration value.
// Any validation failure is fatal at startup.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates all configuration problems found in one pass
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the full configuration and returns every problem found
func (c *Config) Validate() error {
	var errs ValidationErrors

	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	switch c.App.Environment {
	case EnvDryRun, EnvTestnet, EnvMainnet:
	default:
		add("app.environment", fmt.Sprintf("must be one of %s, %s, %s", EnvDryRun, EnvTestnet, EnvMainnet))
	}

	if c.Database.PoolSize <= 0 {
		add("database.pool_size", "must be positive")
	}
	if c.Database.StatementTimeout <= 0 {
		add("database.statement_timeout_ms", "must be positive")
	}

	if len(c.Trading.Coins) == 0 {
		add("trading.coins", "at least one coin is required")
	}
	if len(c.Trading.Timeframes) == 0 {
		add("trading.timeframes", "at least one timeframe is required")
	}
	for _, tf := range c.Trading.Timeframes {
		if limit, ok := c.Trading.KlineLimits[tf]; !ok || limit <= 0 {
			add("trading.kline_limits", fmt.Sprintf("missing or non-positive limit for timeframe %q", tf))
		}
	}

	if c.Risk.MaxLeverage < 1 || c.Risk.MaxLeverage > 50 {
		add("risk.max_leverage", "must be in [1, 50]")
	}
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 100 {
		add("risk.max_position_size_pct", "must be in (0, 100]")
	}
	if c.Risk.TotalExposureCapPct <= 0 || c.Risk.TotalExposureCapPct > 100 {
		add("risk.total_exposure_cap_pct", "must be in (0, 100]")
	}
	if c.Risk.StopLossPct < 0 || c.Risk.TakeProfitPct < 0 {
		add("risk", "stop_loss_pct and take_profit_pct must be non-negative")
	}

	if c.Scheduler.IntervalSeconds <= 0 {
		add("scheduler.interval_seconds", "must be positive")
	}
	if c.Scheduler.DeadlineFactor <= 0 || c.Scheduler.DeadlineFactor > 1 {
		add("scheduler.deadline_factor", "must be in (0, 1]")
	}
	if c.Scheduler.MisfireGraceSeconds < 0 {
		add("scheduler.misfire_grace_seconds", "must be non-negative")
	}

	if c.Service.GraceShutdownSeconds < 0 {
		add("service.grace_shutdown_seconds", "must be non-negative")
	}
	if c.Service.ConsecutiveFatalCyclesThreshold < 1 {
		add("service.consecutive_fatal_cycles_threshold", "must be at least 1")
	}

	for id, m := range c.LLM.Models {
		switch m.Provider {
		case "official", "openrouter":
		default:
			add(fmt.Sprintf("llm.models.%s.provider", id), "must be \"official\" or \"openrouter\"")
		}
		if m.BaseURL == "" {
			add(fmt.Sprintf("llm.models.%s.base_url", id), "is required")
		}
		if m.ModelName == "" {
			add(fmt.Sprintf("llm.models.%s.model_name", id), "is required")
		}
	}

	if c.Exchange.TimeoutMS <= 0 {
		add("exchange.timeout_ms", "must be positive")
	}
	if c.Exchange.RateLimitPS <= 0 {
		add("exchange.rate_limit_ps", "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
