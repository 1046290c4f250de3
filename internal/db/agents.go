package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent statuses
const (
	AgentStatusActive  = "active"
	AgentStatusPaused  = "paused"
	AgentStatusStopped = "stopped"
)

// Agent binds one LLM endpoint to one exchange account with its risk limits.
// The signing key itself is held out-of-band; ExchangeAccount is an opaque
// handle resolved by the executor at construction time.
type Agent struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	LLMModelID          string    `json:"llm_model_id"`
	ExchangeAccount     string    `json:"exchange_account"`
	InitialBalance      float64   `json:"initial_balance"`
	MaxPositionSizePct  float64   `json:"max_position_size_pct"`
	MaxLeverage         int       `json:"max_leverage"`
	StopLossPct         float64   `json:"stop_loss_pct"`
	TakeProfitPct       float64   `json:"take_profit_pct"`
	StrategyDescription string    `json:"strategy_description"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

const agentColumns = `id, name, llm_model_id, exchange_account, initial_balance,
		max_position_size_pct, max_leverage, stop_loss_pct, take_profit_pct,
		strategy_description, status, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.LLMModelID,
		&a.ExchangeAccount,
		&a.InitialBalance,
		&a.MaxPositionSizePct,
		&a.MaxLeverage,
		&a.StopLossPct,
		&a.TakeProfitPct,
		&a.StrategyDescription,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAgent inserts a new agent. Names are unique.
func (db *DB) CreateAgent(ctx context.Context, a *Agent) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO agents (
			id, name, llm_model_id, exchange_account, initial_balance,
			max_position_size_pct, max_leverage, stop_loss_pct, take_profit_pct,
			strategy_description, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := db.pool.QueryRow(ctx, query,
		a.ID,
		a.Name,
		a.LLMModelID,
		a.ExchangeAccount,
		a.InitialBalance,
		a.MaxPositionSizePct,
		a.MaxLeverage,
		a.StopLossPct,
		a.TakeProfitPct,
		a.StrategyDescription,
		a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent %q: %w", a.Name, err)
	}

	return nil
}

// GetAgent retrieves an agent by id
func (db *DB) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return scanAgent(db.pool.QueryRow(ctx, query, id))
}

// ListActiveAgents retrieves all agents with status = active, ordered by name
func (db *DB) ListActiveAgents(ctx context.Context) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status = $1 ORDER BY name ASC`

	rows, err := db.pool.Query(ctx, query, AgentStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	return agents, rows.Err()
}

// UpdateAgentStatus transitions an agent between active/paused/stopped
func (db *DB) UpdateAgentStatus(ctx context.Context, id uuid.UUID, status string) error {
	switch status {
	case AgentStatusActive, AgentStatusPaused, AgentStatusStopped:
	default:
		return fmt.Errorf("invalid agent status %q", status)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s not found", id)
	}
	return nil
}
