package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Decision record statuses
const (
	DecisionStatusSuccess         = "success"
	DecisionStatusFailed          = "failed"
	DecisionStatusParsingError    = "parsing_error"
	DecisionStatusExecutionFailed = "execution_failed"
)

// Decision actions
const (
	ActionOpenLong      = "OPEN_LONG"
	ActionOpenShort     = "OPEN_SHORT"
	ActionClosePosition = "CLOSE_POSITION"
	ActionHold          = "HOLD"
)

// Decision is the persisted record of one agent's output for one cycle.
// The parsed fields are only meaningful when Status is success.
type Decision struct {
	ID              uuid.UUID `json:"id"`
	AgentID         uuid.UUID `json:"agent_id"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	Action          string    `json:"action"`
	Coin            string    `json:"coin"`
	SizeUSD         float64   `json:"size_usd"`
	Leverage        int       `json:"leverage"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	LLMPrompt       *string   `json:"llm_prompt,omitempty"`
	LLMResponse     *string   `json:"llm_response,omitempty"`
	ExecutionTimeMS *int64    `json:"execution_time_ms,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
}

// InsertDecision records a decision (successful or not) for audit and learning
func (db *DB) InsertDecision(ctx context.Context, d *Decision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO decisions (
			id, agent_id, timestamp, status, action, coin, size_usd, leverage,
			stop_loss_price, take_profit_price, confidence, reasoning,
			llm_prompt, llm_response, execution_time_ms, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	_, err := db.pool.Exec(ctx, query,
		d.ID,
		d.AgentID,
		d.Timestamp,
		d.Status,
		d.Action,
		d.Coin,
		d.SizeUSD,
		d.Leverage,
		d.StopLossPrice,
		d.TakeProfitPrice,
		d.Confidence,
		d.Reasoning,
		d.LLMPrompt,
		d.LLMResponse,
		d.ExecutionTimeMS,
		d.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return nil
}

// UpdateDecisionStatus rewrites a decision's status and error after the
// fact. A decision that validated but was later refused by the risk gate or
// the exchange must not keep reading success.
func (db *DB) UpdateDecisionStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions SET status = $2, error_message = $3 WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update decision status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision %s not found", id)
	}
	return nil
}

// GetRecentDecisionsByAgent retrieves the newest decisions for one agent
func (db *DB) GetRecentDecisionsByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]*Decision, error) {
	query := `
		SELECT id, agent_id, timestamp, status, action, coin, size_usd, leverage,
		       stop_loss_price, take_profit_price, confidence, reasoning,
		       llm_prompt, llm_response, execution_time_ms, error_message
		FROM decisions
		WHERE agent_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		err := rows.Scan(
			&d.ID,
			&d.AgentID,
			&d.Timestamp,
			&d.Status,
			&d.Action,
			&d.Coin,
			&d.SizeUSD,
			&d.Leverage,
			&d.StopLossPrice,
			&d.TakeProfitPrice,
			&d.Confidence,
			&d.Reasoning,
			&d.LLMPrompt,
			&d.LLMResponse,
			&d.ExecutionTimeMS,
			&d.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, &d)
	}

	return decisions, rows.Err()
}

// CountDecisionsSince returns per-status decision counts for cycle summaries
func (db *DB) CountDecisionsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM decisions
		WHERE timestamp >= $1
		GROUP BY status
	`

	rows, err := db.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}

	return counts, rows.Err()
}
