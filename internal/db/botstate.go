package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// botStateKey is the single row the engine owns in bot_state
const botStateKey = "service_state"

// BotState is the crash-safe counter snapshot persisted at cycle boundaries
type BotState struct {
	ServiceStartTime time.Time  `json:"service_start_time"`
	CycleCount       int64      `json:"cycle_count"`
	LastCycleTime    *time.Time `json:"last_cycle_time,omitempty"`
	LastError        *string    `json:"last_error,omitempty"`
}

// LoadBotState restores the persisted service state.
// Returns (nil, nil) when no state has been persisted yet (first run).
func (db *DB) LoadBotState(ctx context.Context) (*BotState, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx,
		`SELECT value FROM bot_state WHERE key = $1`, botStateKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bot state: %w", err)
	}

	var state BotState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode bot state: %w", err)
	}
	return &state, nil
}

// SaveBotState persists the service state snapshot, replacing any prior one
func (db *DB) SaveBotState(ctx context.Context, state *BotState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode bot state: %w", err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO bot_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, botStateKey, raw)
	if err != nil {
		return fmt.Errorf("failed to save bot state: %w", err)
	}
	return nil
}
