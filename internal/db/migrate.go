package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// schema bootstraps the tables the engine owns. Column-level detail beyond
// what the core reads and writes belongs to external tooling.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	llm_model_id TEXT NOT NULL,
	exchange_account TEXT NOT NULL,
	initial_balance DOUBLE PRECISION NOT NULL,
	max_position_size_pct DOUBLE PRECISION NOT NULL,
	max_leverage INT NOT NULL,
	stop_loss_pct DOUBLE PRECISION NOT NULL,
	take_profit_pct DOUBLE PRECISION NOT NULL,
	strategy_description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS decisions (
	id UUID PRIMARY KEY,
	agent_id UUID NOT NULL REFERENCES agents(id),
	timestamp TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	action TEXT,
	coin TEXT,
	size_usd DOUBLE PRECISION,
	leverage INT,
	stop_loss_price DOUBLE PRECISION,
	take_profit_price DOUBLE PRECISION,
	confidence DOUBLE PRECISION,
	reasoning TEXT,
	llm_prompt TEXT,
	llm_response TEXT,
	execution_time_ms BIGINT,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_agent_time ON decisions(agent_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS trades (
	id UUID PRIMARY KEY,
	agent_id UUID NOT NULL REFERENCES agents(id),
	decision_id UUID REFERENCES decisions(id),
	coin TEXT NOT NULL,
	side TEXT NOT NULL,
	size DOUBLE PRECISION NOT NULL,
	leverage INT NOT NULL DEFAULT 1,
	entry_price DOUBLE PRECISION,
	entry_time TIMESTAMPTZ,
	exit_price DOUBLE PRECISION,
	exit_time TIMESTAMPTZ,
	realized_pnl DOUBLE PRECISION,
	unrealized_pnl DOUBLE PRECISION,
	fees DOUBLE PRECISION,
	status TEXT NOT NULL DEFAULT 'open',
	exchange_order_id TEXT,
	client_order_id TEXT,
	notes TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_cloid ON trades(client_order_id) WHERE client_order_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_trades_agent_status ON trades(agent_id, status);

CREATE TABLE IF NOT EXISTS bot_state (
	key TEXT PRIMARY KEY,
	value JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the schema if it does not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("Database schema ready")
	return nil
}
