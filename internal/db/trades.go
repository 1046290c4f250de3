package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Trade statuses
const (
	TradeStatusOpen       = "open"
	TradeStatusClosed     = "closed"
	TradeStatusLiquidated = "liquidated"
	TradeStatusCancelled  = "cancelled"
)

// Trade sides
const (
	TradeSideLong  = "long"
	TradeSideShort = "short"
)

// ErrNotOpen is returned when a lifecycle transition requires an open trade
var ErrNotOpen = errors.New("trade is not open")

// Trade is the local record of an intent that reached the exchange with an
// acknowledged order id. The exchange remains authoritative for fills.
type Trade struct {
	ID              uuid.UUID  `json:"id"`
	AgentID         uuid.UUID  `json:"agent_id"`
	DecisionID      *uuid.UUID `json:"decision_id,omitempty"`
	Coin            string     `json:"coin"`
	Side            string     `json:"side"`
	Size            float64    `json:"size"`
	Leverage        int        `json:"leverage"`
	EntryPrice      *float64   `json:"entry_price,omitempty"`
	EntryTime       *time.Time `json:"entry_time,omitempty"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	ExitTime        *time.Time `json:"exit_time,omitempty"`
	RealizedPnL     *float64   `json:"realized_pnl,omitempty"`
	UnrealizedPnL   *float64   `json:"unrealized_pnl,omitempty"`
	Fees            *float64   `json:"fees,omitempty"`
	Status          string     `json:"status"`
	ExchangeOrderID *string    `json:"exchange_order_id,omitempty"`
	ClientOrderID   *string    `json:"client_order_id,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

const tradeColumns = `id, agent_id, decision_id, coin, side, size, leverage,
		entry_price, entry_time, exit_price, exit_time,
		realized_pnl, unrealized_pnl, fees, status,
		exchange_order_id, client_order_id, notes`

func scanTrade(row interface{ Scan(...any) error }) (*Trade, error) {
	var t Trade
	err := row.Scan(
		&t.ID,
		&t.AgentID,
		&t.DecisionID,
		&t.Coin,
		&t.Side,
		&t.Size,
		&t.Leverage,
		&t.EntryPrice,
		&t.EntryTime,
		&t.ExitPrice,
		&t.ExitTime,
		&t.RealizedPnL,
		&t.UnrealizedPnL,
		&t.Fees,
		&t.Status,
		&t.ExchangeOrderID,
		&t.ClientOrderID,
		&t.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTrade records a trade intent acknowledged by the exchange.
// Inserts with an already-recorded client order id are no-ops so a retried
// placement cannot create a duplicate row; the existing row is returned.
func (db *DB) InsertTrade(ctx context.Context, t *Trade) (*Trade, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TradeStatusOpen
	}
	if t.Leverage < 1 {
		t.Leverage = 1
	}

	query := `
		INSERT INTO trades (
			id, agent_id, decision_id, coin, side, size, leverage,
			entry_price, entry_time, status, exchange_order_id, client_order_id, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (client_order_id) WHERE client_order_id IS NOT NULL DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err := db.pool.QueryRow(ctx, query,
		t.ID,
		t.AgentID,
		t.DecisionID,
		t.Coin,
		t.Side,
		t.Size,
		t.Leverage,
		t.EntryPrice,
		t.EntryTime,
		t.Status,
		t.ExchangeOrderID,
		t.ClientOrderID,
		t.Notes,
	).Scan(&id)

	if err == nil {
		t.ID = id
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert trade: %w", err)
	}

	// Conflict on client order id: the earlier attempt already recorded it.
	if t.ClientOrderID == nil {
		return nil, fmt.Errorf("failed to insert trade: no row returned")
	}
	existing, err := db.GetTradeByClientOrderID(ctx, *t.ClientOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade after cloid conflict: %w", err)
	}
	return existing, nil
}

// GetTrade retrieves a trade by id
func (db *DB) GetTrade(ctx context.Context, id uuid.UUID) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`
	return scanTrade(db.pool.QueryRow(ctx, query, id))
}

// GetTradeByClientOrderID retrieves a trade by its client order id
func (db *DB) GetTradeByClientOrderID(ctx context.Context, cloid string) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE client_order_id = $1`
	return scanTrade(db.pool.QueryRow(ctx, query, cloid))
}

// GetOpenTrades retrieves all open trades for one agent, oldest first
func (db *DB) GetOpenTrades(ctx context.Context, agentID uuid.UUID) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + `
		FROM trades WHERE agent_id = $1 AND status = $2 ORDER BY entry_time ASC`

	rows, err := db.pool.Query(ctx, query, agentID, TradeStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// GetOpenTradeForCoin retrieves the open trade for one coin, if any
func (db *DB) GetOpenTradeForCoin(ctx context.Context, agentID uuid.UUID, coin string) (*Trade, error) {
	query := `SELECT ` + tradeColumns + `
		FROM trades WHERE agent_id = $1 AND coin = $2 AND status = $3
		ORDER BY entry_time DESC LIMIT 1`

	t, err := scanTrade(db.pool.QueryRow(ctx, query, agentID, coin, TradeStatusOpen))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open trade for %s: %w", coin, err)
	}
	return t, nil
}

// CloseTrade marks an open trade closed with exchange-reported exit state.
// Repeated equal updates yield the same row.
func (db *DB) CloseTrade(ctx context.Context, id uuid.UUID, exitPrice, realizedPnL, fees float64) error {
	query := `
		UPDATE trades
		SET status = $2, exit_price = $3, exit_time = COALESCE(exit_time, NOW()),
		    realized_pnl = $4, fees = $5, unrealized_pnl = 0
		WHERE id = $1 AND status IN ($6, $2)
	`

	tag, err := db.pool.Exec(ctx, query, id, TradeStatusClosed, exitPrice, realizedPnL, fees, TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOpen
	}
	return nil
}

// CancelTrade marks an open trade cancelled; invalid for any other status
func (db *DB) CancelTrade(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE trades SET status = $2, exit_time = NOW() WHERE id = $1 AND status = $3`,
		id, TradeStatusCancelled, TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to cancel trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOpen
	}
	return nil
}

// UpdateTradeUnrealizedPnL refreshes mark-to-market state for an open trade
func (db *DB) UpdateTradeUnrealizedPnL(ctx context.Context, id uuid.UUID, unrealized float64) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE trades SET unrealized_pnl = $2 WHERE id = $1 AND status = $3`,
		id, unrealized, TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to update unrealized pnl: %w", err)
	}
	return nil
}

// AnnotateTrade appends a reconciliation note to a trade
func (db *DB) AnnotateTrade(ctx context.Context, id uuid.UUID, note string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE trades SET notes = COALESCE(notes || '; ', '') || $2 WHERE id = $1`,
		id, note)
	if err != nil {
		return fmt.Errorf("failed to annotate trade: %w", err)
	}
	return nil
}

// ListRealizedPnLs returns recent per-trade realized PnLs, newest first,
// for return-statistics like the Sharpe ratio
func (db *DB) ListRealizedPnLs(ctx context.Context, agentID uuid.UUID, limit int) ([]float64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT realized_pnl FROM trades
		 WHERE agent_id = $1 AND status = $2 AND realized_pnl IS NOT NULL
		 ORDER BY exit_time DESC LIMIT $3`,
		agentID, TradeStatusClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query realized pnls: %w", err)
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		pnls = append(pnls, v)
	}
	return pnls, rows.Err()
}

// SumRealizedPnL returns the cumulative realized PnL for an agent
func (db *DB) SumRealizedPnL(ctx context.Context, agentID uuid.UUID) (float64, error) {
	var sum float64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE agent_id = $1 AND realized_pnl IS NOT NULL`,
		agentID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return sum, nil
}
