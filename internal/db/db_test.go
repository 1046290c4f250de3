package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestLoadBotState_FirstRun(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT value FROM bot_state`).
		WithArgs("service_state").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	state, err := database.LoadBotState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state, "first run should yield no state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBotState_RoundTrip(t *testing.T) {
	database, mock := newMockDB(t)

	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	last := start.Add(15 * time.Minute)
	saved := &BotState{
		ServiceStartTime: start,
		CycleCount:       5,
		LastCycleTime:    &last,
	}
	raw, err := json.Marshal(saved)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO bot_state`).
		WithArgs("service_state", raw).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT value FROM bot_state`).
		WithArgs("service_state").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(raw))

	require.NoError(t, database.SaveBotState(context.Background(), saved))

	loaded, err := database.LoadBotState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(5), loaded.CycleCount)
	assert.True(t, loaded.ServiceStartTime.Equal(start), "service_start_time must survive restarts")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTrade_DuplicateClientOrderID(t *testing.T) {
	database, mock := newMockDB(t)

	agentID := uuid.New()
	existingID := uuid.New()
	cloid := "0xabc123"

	// The conflicting insert returns no row; the store must fall back to the
	// row recorded by the first attempt instead of creating a duplicate.
	mock.ExpectQuery(`INSERT INTO trades`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT (.+) FROM trades WHERE client_order_id`).
		WithArgs(cloid).
		WillReturnRows(tradeRows().AddRow(
			existingID, agentID, nil, "BTC", TradeSideLong, 0.03, 5,
			nil, nil, nil, nil, nil, nil, nil, TradeStatusOpen, nil, &cloid, nil,
		))

	got, err := database.InsertTrade(context.Background(), &Trade{
		AgentID:       agentID,
		Coin:          "BTC",
		Side:          TradeSideLong,
		Size:          0.03,
		ClientOrderID: &cloid,
	})
	require.NoError(t, err)
	assert.Equal(t, existingID, got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelTrade_RequiresOpen(t *testing.T) {
	database, mock := newMockDB(t)

	id := uuid.New()
	mock.ExpectExec(`UPDATE trades SET status`).
		WithArgs(id, TradeStatusCancelled, TradeStatusOpen).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := database.CancelTrade(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotOpen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseTrade_IdempotentOnRepeat(t *testing.T) {
	database, mock := newMockDB(t)

	id := uuid.New()
	// Both the first and the repeated close match a row (status IN (open, closed)).
	for i := 0; i < 2; i++ {
		mock.ExpectExec(`UPDATE trades`).
			WithArgs(id, TradeStatusClosed, 51000.0, 30.0, 1.5, TradeStatusOpen).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}

	require.NoError(t, database.CloseTrade(context.Background(), id, 51000.0, 30.0, 1.5))
	require.NoError(t, database.CloseTrade(context.Background(), id, 51000.0, 30.0, 1.5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDecisionStatus(t *testing.T) {
	database, mock := newMockDB(t)

	id := uuid.New()
	reason := "Insufficient margin"
	mock.ExpectExec(`UPDATE decisions SET status`).
		WithArgs(id, DecisionStatusExecutionFailed, &reason).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, database.UpdateDecisionStatus(context.Background(), id, DecisionStatusExecutionFailed, &reason))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDecisionStatus_UnknownID(t *testing.T) {
	database, mock := newMockDB(t)

	id := uuid.New()
	mock.ExpectExec(`UPDATE decisions SET status`).
		WithArgs(id, DecisionStatusExecutionFailed, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := database.UpdateDecisionStatus(context.Background(), id, DecisionStatusExecutionFailed, nil)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOpenTradeForCoin_NoneOpen(t *testing.T) {
	database, mock := newMockDB(t)

	agentID := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM trades WHERE agent_id`).
		WithArgs(agentID, "ETH", TradeStatusOpen).
		WillReturnRows(tradeRows())

	trade, err := database.GetOpenTradeForCoin(context.Background(), agentID, "ETH")
	require.NoError(t, err)
	assert.Nil(t, trade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAgentStatus_RejectsUnknownStatus(t *testing.T) {
	database, _ := newMockDB(t)

	err := database.UpdateAgentStatus(context.Background(), uuid.New(), "sleeping")
	assert.Error(t, err)
}

func tradeRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "agent_id", "decision_id", "coin", "side", "size", "leverage",
		"entry_price", "entry_time", "exit_price", "exit_time",
		"realized_pnl", "unrealized_pnl", "fees", "status",
		"exchange_order_id", "client_order_id", "notes",
	})
}
