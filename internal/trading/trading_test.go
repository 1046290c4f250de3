package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/decision"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

// fakeStore is an in-memory TradeStore
type fakeStore struct {
	mu     sync.Mutex
	trades map[uuid.UUID]*db.Trade
	notes  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{trades: make(map[uuid.UUID]*db.Trade)}
}

func (s *fakeStore) InsertTrade(_ context.Context, t *db.Trade) (*db.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ClientOrderID != nil {
		for _, existing := range s.trades {
			if existing.ClientOrderID != nil && *existing.ClientOrderID == *t.ClientOrderID {
				return existing, nil
			}
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = db.TradeStatusOpen
	}
	cp := *t
	s.trades[t.ID] = &cp
	return &cp, nil
}

func (s *fakeStore) GetTrade(_ context.Context, id uuid.UUID) (*db.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return t, nil
}

func (s *fakeStore) GetOpenTrades(_ context.Context, agentID uuid.UUID) ([]*db.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Trade
	for _, t := range s.trades {
		if t.AgentID == agentID && t.Status == db.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) GetOpenTradeForCoin(_ context.Context, agentID uuid.UUID, coin string) (*db.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.AgentID == agentID && t.Coin == coin && t.Status == db.TradeStatusOpen {
			return t, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CloseTrade(_ context.Context, id uuid.UUID, exitPrice, realizedPnL, fees float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok || t.Status != db.TradeStatusOpen {
		return db.ErrNotOpen
	}
	now := time.Now()
	t.Status = db.TradeStatusClosed
	t.ExitPrice = &exitPrice
	t.RealizedPnL = &realizedPnL
	t.Fees = &fees
	t.ExitTime = &now
	return nil
}

func (s *fakeStore) CancelTrade(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok || t.Status != db.TradeStatusOpen {
		return db.ErrNotOpen
	}
	t.Status = db.TradeStatusCancelled
	return nil
}

func (s *fakeStore) UpdateTradeUnrealizedPnL(_ context.Context, id uuid.UUID, unrealized float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trades[id]; ok {
		t.UnrealizedPnL = &unrealized
	}
	return nil
}

func (s *fakeStore) AnnotateTrade(_ context.Context, id uuid.UUID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
	return nil
}

func (s *fakeStore) SumRealizedPnL(_ context.Context, agentID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0.0
	for _, t := range s.trades {
		if t.AgentID == agentID && t.RealizedPnL != nil {
			sum += *t.RealizedPnL
		}
	}
	return sum, nil
}

func (s *fakeStore) ListRealizedPnLs(_ context.Context, agentID uuid.UUID, limit int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []float64
	for _, t := range s.trades {
		if t.AgentID == agentID && t.Status == db.TradeStatusClosed && t.RealizedPnL != nil {
			out = append(out, *t.RealizedPnL)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeExec records exchange calls for one account
type fakeExec struct {
	mu             sync.Mutex
	addr           string
	placed         []hyperliquid.PlaceOrderRequest
	leverageCalls  int
	cancels        []int64
	failTriggers   bool
	failPlaceOrder error
	nextOid        int
}

func (e *fakeExec) PlaceOrder(_ context.Context, req hyperliquid.PlaceOrderRequest) (*hyperliquid.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failPlaceOrder != nil {
		return nil, e.failPlaceOrder
	}
	if e.failTriggers && req.Trigger != nil {
		return nil, &hyperliquid.ExchangeRejected{Op: "placeOrder", Reason: "trigger rejected"}
	}
	e.placed = append(e.placed, req)
	e.nextOid++
	avg := ""
	if req.Price != nil && req.Trigger == nil {
		avg = req.Price.String()
	}
	return &hyperliquid.OrderAck{OrderID: fmt.Sprintf("%d", 1000+e.nextOid), Filled: req.Kind == hyperliquid.OrderKindMarket, AvgPrice: avg}, nil
}

func (e *fakeExec) CancelOrder(_ context.Context, _ string, oid int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels = append(e.cancels, oid)
	return nil
}

func (e *fakeExec) UpdateLeverage(_ context.Context, _ string, _ int, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverageCalls++
	return nil
}

func (e *fakeExec) Address() string { return e.addr }

func (e *fakeExec) DryRun() bool { return false }

func (e *fakeExec) orderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.placed)
}

// staticResolver binds every agent to the same executor
type staticResolver struct{ exec Executor }

func (r staticResolver) ExecutorFor(*db.Agent) (Executor, error) { return r.exec, nil }

// accountResolver routes each agent to the executor keyed by its account handle
type accountResolver struct{ execs map[string]Executor }

func (r accountResolver) ExecutorFor(a *db.Agent) (Executor, error) {
	exec, ok := r.execs[a.ExchangeAccount]
	if !ok {
		return nil, fmt.Errorf("no executor for account %q", a.ExchangeAccount)
	}
	return exec, nil
}

func testAgent() *db.Agent {
	return &db.Agent{
		ID:                 uuid.New(),
		Name:               "alpha",
		InitialBalance:     10000,
		MaxPositionSizePct: 20,
		MaxLeverage:        10,
		StopLossPct:        5,
		TakeProfitPct:      10,
		Status:             db.AgentStatusActive,
	}
}

func newTestOrchestrator(store *fakeStore, exec *fakeExec) (*Orchestrator, *PositionManager) {
	resolver := staticResolver{exec: exec}
	positions := NewPositionManager(store)
	orders := NewOrderManager(store, resolver)
	risk := NewRiskManager(RiskLimits{})
	return NewOrchestrator(risk, positions, orders, resolver, store), positions
}

func TestApply_HoldIsNoOp(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	orch, positions := newTestOrchestrator(store, exec)
	agent := testAgent()

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
	require.NoError(t, err)

	d := &decision.Decision{Action: db.ActionHold, Coin: "BTC", Confidence: 0.5, Reasoning: "range-bound"}
	outcome, err := orch.Apply(context.Background(), agent, d, uuid.New(), account, 50000)
	require.NoError(t, err)

	assert.False(t, outcome.Executed)
	assert.Equal(t, 0, exec.orderCount())
	assert.Empty(t, store.trades)
}

func TestApply_OpenLongPassesRisk(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	orch, positions := newTestOrchestrator(store, exec)
	agent := testAgent()

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
	require.NoError(t, err)
	assert.True(t, account.AccountValue.Equal(decimal.NewFromInt(10000)))

	d := &decision.Decision{
		Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1500, Leverage: 5,
		StopLossPrice: 49000, TakeProfitPrice: 52500, Confidence: 0.7, Reasoning: "trend",
	}
	outcome, err := orch.Apply(context.Background(), agent, d, uuid.New(), account, 50000)
	require.NoError(t, err)
	require.True(t, outcome.Executed)
	require.NotNil(t, outcome.Trade)
	assert.Empty(t, outcome.Warnings)

	assert.Equal(t, 1, exec.leverageCalls)
	assert.Equal(t, db.TradeSideLong, outcome.Trade.Side)
	assert.InDelta(t, 0.03, outcome.Trade.Size, 1e-9)
	assert.Equal(t, 5, outcome.Trade.Leverage)
	assert.Equal(t, db.TradeStatusOpen, outcome.Trade.Status)
	require.NotNil(t, outcome.Trade.ExchangeOrderID)

	// Entry plus stop and take triggers
	assert.Equal(t, 3, exec.orderCount())
	var triggerCount int
	for _, req := range exec.placed {
		if req.Trigger != nil {
			triggerCount++
			assert.True(t, req.ReduceOnly)
			assert.False(t, req.IsBuy)
			assert.Equal(t, hyperliquid.GroupingPositionTpsl, req.Grouping)
		}
	}
	assert.Equal(t, 2, triggerCount)
}

func TestApply_OpenShortRejectedByRisk(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	orch, positions := newTestOrchestrator(store, exec)
	agent := testAgent()

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
	require.NoError(t, err)

	d := &decision.Decision{Action: db.ActionOpenShort, Coin: "BTC", SizeUSD: 3000, Leverage: 5}
	_, err = orch.Apply(context.Background(), agent, d, uuid.New(), account, 50000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max $2000")

	// No leverage update, no order
	assert.Equal(t, 0, exec.leverageCalls)
	assert.Equal(t, 0, exec.orderCount())
	assert.Empty(t, store.trades)
}

func TestApply_CloseWithoutPosition(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	orch, positions := newTestOrchestrator(store, exec)
	agent := testAgent()

	account, err := positions.Account(context.Background(), agent, map[string]float64{"ETH": 3000})
	require.NoError(t, err)

	d := &decision.Decision{Action: db.ActionClosePosition, Coin: "ETH"}
	_, err = orch.Apply(context.Background(), agent, d, uuid.New(), account, 3000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open position")
	assert.Equal(t, 0, exec.orderCount())
}

func TestApply_ClosePosition(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	orch, positions := newTestOrchestrator(store, exec)
	agent := testAgent()

	entry := 50000.0
	now := time.Now()
	trade, err := store.InsertTrade(context.Background(), &db.Trade{
		AgentID: agent.ID, Coin: "BTC", Side: db.TradeSideLong, Size: 0.03,
		Leverage: 5, EntryPrice: &entry, EntryTime: &now,
	})
	require.NoError(t, err)

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 52000})
	require.NoError(t, err)
	require.True(t, account.HasPosition("BTC"))

	d := &decision.Decision{Action: db.ActionClosePosition, Coin: "BTC"}
	outcome, err := orch.Apply(context.Background(), agent, d, uuid.New(), account, 52000)
	require.NoError(t, err)
	assert.True(t, outcome.Executed)

	// The closing order is reduce-only, opposite side, full size
	require.Equal(t, 1, exec.orderCount())
	closeReq := exec.placed[0]
	assert.False(t, closeReq.IsBuy)
	assert.True(t, closeReq.ReduceOnly)

	closed, err := store.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TradeStatusClosed, closed.Status)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, (52000-50000)*0.03, *closed.RealizedPnL, 1e-6)
}

func TestApply_TriggerFailureKeepsPositionOpen(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{failTriggers: true}
	orch, positions := newTestOrchestrator(store, exec)
	agent := testAgent()

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
	require.NoError(t, err)

	d := &decision.Decision{
		Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1500, Leverage: 5,
		StopLossPrice: 49000, TakeProfitPrice: 52500,
	}
	outcome, err := orch.Apply(context.Background(), agent, d, uuid.New(), account, 50000)
	require.NoError(t, err)
	require.True(t, outcome.Executed)

	assert.Len(t, outcome.Warnings, 2)
	assert.Equal(t, db.TradeStatusOpen, store.trades[outcome.Trade.ID].Status)
	assert.Len(t, store.notes, 2)
}

func TestApply_RetrySameDecisionDoesNotDuplicate(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	orch, positions := newTestOrchestrator(store, exec)
	agent := testAgent()
	decisionID := uuid.New()

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
	require.NoError(t, err)

	d := &decision.Decision{Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1500, Leverage: 5}
	first, err := orch.Apply(context.Background(), agent, d, decisionID, account, 50000)
	require.NoError(t, err)

	// A replay after a lost response resolves to the same trade row
	account2, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
	require.NoError(t, err)
	account2.Positions = nil // simulate the replay racing the projection
	second, err := orch.Apply(context.Background(), agent, d, decisionID, account2, 50000)
	require.NoError(t, err)

	assert.Equal(t, first.Trade.ID, second.Trade.ID)
	openCount := 0
	for _, tr := range store.trades {
		if tr.Status == db.TradeStatusOpen {
			openCount++
		}
	}
	assert.Equal(t, 1, openCount)
}

func TestApply_RoutesOrdersToAgentAccount(t *testing.T) {
	store := newFakeStore()
	execA, execB := &fakeExec{addr: "0xaaa"}, &fakeExec{addr: "0xbbb"}
	resolver := accountResolver{execs: map[string]Executor{
		"ACCOUNT_A_KEY": execA,
		"ACCOUNT_B_KEY": execB,
	}}
	positions := NewPositionManager(store)
	orders := NewOrderManager(store, resolver)
	orch := NewOrchestrator(NewRiskManager(RiskLimits{}), positions, orders, resolver, store)

	agentA, agentB := testAgent(), testAgent()
	agentA.Name, agentA.ExchangeAccount = "alpha", "ACCOUNT_A_KEY"
	agentB.Name, agentB.ExchangeAccount = "beta", "ACCOUNT_B_KEY"

	d := &decision.Decision{Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1500, Leverage: 5}
	for _, agent := range []*db.Agent{agentA, agentB} {
		account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
		require.NoError(t, err)
		_, err = orch.Apply(context.Background(), agent, d, uuid.New(), account, 50000)
		require.NoError(t, err)
	}

	// Each agent's entry and triggers land on its own account
	assert.Equal(t, 3, execA.orderCount())
	assert.Equal(t, 3, execB.orderCount())
	assert.Equal(t, 1, execA.leverageCalls)
	assert.Equal(t, 1, execB.leverageCalls)

	// An agent bound to an unknown account cannot trade
	orphan := testAgent()
	orphan.ExchangeAccount = "ACCOUNT_C_KEY"
	account, err := positions.Account(context.Background(), orphan, map[string]float64{"BTC": 50000})
	require.NoError(t, err)
	_, err = orch.Apply(context.Background(), orphan, d, uuid.New(), account, 50000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no executor")
}

func TestApply_BackfillsExitTriggersFromDefaults(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	resolver := staticResolver{exec: exec}
	positions := NewPositionManager(store)
	orders := NewOrderManager(store, resolver)
	risk := NewRiskManager(RiskLimits{StopLossPct: 2, TakeProfitPct: 5})
	orch := NewOrchestrator(risk, positions, orders, resolver, store)

	// Neither the decision nor the agent carries exit distances
	agent := testAgent()
	agent.StopLossPct, agent.TakeProfitPct = 0, 0

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 50000})
	require.NoError(t, err)

	d := &decision.Decision{Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1500, Leverage: 5}
	outcome, err := orch.Apply(context.Background(), agent, d, uuid.New(), account, 50000)
	require.NoError(t, err)
	require.True(t, outcome.Executed)
	assert.Empty(t, outcome.Warnings)

	byTpsl := make(map[string]decimal.Decimal)
	for _, req := range exec.placed {
		if req.Trigger != nil {
			byTpsl[req.Trigger.TpSl] = req.Trigger.Price
		}
	}
	require.Len(t, byTpsl, 2)
	assert.True(t, byTpsl["sl"].Equal(decimal.NewFromInt(49000)), "stop at 2%% below entry, got %s", byTpsl["sl"])
	assert.True(t, byTpsl["tp"].Equal(decimal.NewFromInt(52500)), "take at 5%% above entry, got %s", byTpsl["tp"])
}

func TestRiskValidate(t *testing.T) {
	rm := NewRiskManager(RiskLimits{})
	agent := testAgent()

	account := &AccountState{
		AccountValue:  decimal.NewFromInt(10000),
		AvailableCash: decimal.NewFromInt(10000),
	}

	t.Run("ok", func(t *testing.T) {
		assert.NoError(t, rm.Validate(agent, account, "BTC", decimal.NewFromInt(1500), 5))
	})
	t.Run("leverage over agent cap", func(t *testing.T) {
		assert.Error(t, rm.Validate(agent, account, "BTC", decimal.NewFromInt(1500), 20))
	})
	t.Run("size over position cap", func(t *testing.T) {
		err := rm.Validate(agent, account, "BTC", decimal.NewFromInt(2500), 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds max")
	})
	t.Run("size exactly at cap passes", func(t *testing.T) {
		// 20% of 10000.10 is 2000.02; neither is representable in binary floats
		exact := &AccountState{
			AccountValue:  decimal.RequireFromString("10000.10"),
			AvailableCash: decimal.RequireFromString("10000.10"),
		}
		assert.NoError(t, rm.Validate(agent, exact, "BTC", decimal.RequireFromString("2000.02"), 5))
	})
	t.Run("margin over available", func(t *testing.T) {
		tight := &AccountState{
			AccountValue:  decimal.NewFromInt(10000),
			AvailableCash: decimal.NewFromInt(100),
		}
		assert.Error(t, rm.Validate(agent, tight, "BTC", decimal.NewFromInt(1500), 5))
	})
	t.Run("exposure cap", func(t *testing.T) {
		loaded := &AccountState{
			AccountValue:  decimal.NewFromInt(10000),
			AvailableCash: decimal.NewFromInt(10000),
			Exposure:      decimal.NewFromInt(7000),
		}
		err := rm.Validate(agent, loaded, "BTC", decimal.NewFromInt(1500), 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exposure")
	})
	t.Run("configured exposure cap", func(t *testing.T) {
		tightCap := NewRiskManager(RiskLimits{TotalExposureCapPct: 50})
		loaded := &AccountState{
			AccountValue:  decimal.NewFromInt(10000),
			AvailableCash: decimal.NewFromInt(10000),
			Exposure:      decimal.NewFromInt(4000),
		}
		err := tightCap.Validate(agent, loaded, "BTC", decimal.NewFromInt(1500), 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cap $5000")
	})
	t.Run("agent omissions fall back to configured defaults", func(t *testing.T) {
		cfg := NewRiskManager(RiskLimits{MaxLeverage: 4, MaxPositionSizePct: 10})
		bare := &db.Agent{ID: uuid.New(), Name: "bare", InitialBalance: 10000}

		err := cfg.Validate(bare, account, "BTC", decimal.NewFromInt(500), 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds max 4")

		err = cfg.Validate(bare, account, "BTC", decimal.NewFromInt(1500), 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds max $1000")

		assert.NoError(t, cfg.Validate(bare, account, "BTC", decimal.NewFromInt(900), 3))
	})
}

func TestStopTakeArithmetic(t *testing.T) {
	entry := decimal.NewFromInt(50000)

	assert.True(t, StopLossPrice(entry, 5, db.TradeSideLong).Equal(decimal.NewFromInt(47500)))
	assert.True(t, StopLossPrice(entry, 5, db.TradeSideShort).Equal(decimal.NewFromInt(52500)))
	assert.True(t, TakeProfitPrice(entry, 10, db.TradeSideLong).Equal(decimal.NewFromInt(55000)))
	assert.True(t, TakeProfitPrice(entry, 10, db.TradeSideShort).Equal(decimal.NewFromInt(45000)))
}

func TestSizeFromUSD_Exact(t *testing.T) {
	pm := NewPositionManager(newFakeStore())

	size := pm.SizeFromUSD(decimal.NewFromInt(1500), decimal.NewFromInt(50000))
	assert.True(t, size.Equal(decimal.RequireFromString("0.03")), "got %s", size)

	assert.True(t, pm.SizeFromUSD(decimal.NewFromInt(1500), decimal.Zero).IsZero())
}

func TestLiquidationWarnings(t *testing.T) {
	rm := NewRiskManager(RiskLimits{LiquidationWarningPct: 20})

	account := &AccountState{Positions: []Position{
		{Coin: "BTC", Side: db.TradeSideLong,
			CurrentPrice: decimal.NewFromInt(50000), LiquidationPrice: decimal.NewFromInt(45000)}, // 10% away
		{Coin: "ETH", Side: db.TradeSideLong,
			CurrentPrice: decimal.NewFromInt(3000), LiquidationPrice: decimal.NewFromInt(1500)}, // 50% away
	}}

	warnings := rm.LiquidationWarnings(account)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "BTC")
}

func TestAccountState_Math(t *testing.T) {
	store := newFakeStore()
	positions := NewPositionManager(store)
	agent := testAgent()

	entry := 50000.0
	now := time.Now()
	_, err := store.InsertTrade(context.Background(), &db.Trade{
		AgentID: agent.ID, Coin: "BTC", Side: db.TradeSideLong, Size: 0.03,
		Leverage: 5, EntryPrice: &entry, EntryTime: &now,
	})
	require.NoError(t, err)

	account, err := positions.Account(context.Background(), agent, map[string]float64{"BTC": 52000})
	require.NoError(t, err)

	require.Len(t, account.Positions, 1)
	pos := account.Positions[0]
	assert.InDelta(t, 60, pos.UnrealizedPnL.InexactFloat64(), 1e-9) // (52000-50000)*0.03
	assert.InDelta(t, 1560, pos.Notional.InexactFloat64(), 1e-9)    // 0.03*52000
	assert.True(t, pos.LiquidationPrice.Equal(decimal.NewFromInt(40000)))

	assert.InDelta(t, 10060, account.AccountValue.InexactFloat64(), 1e-9)
	assert.InDelta(t, 312, account.MarginUsed.InexactFloat64(), 1e-9) // 1560/5
	assert.InDelta(t, 9748, account.AvailableCash.InexactFloat64(), 1e-9)
	assert.InDelta(t, 0.6, account.TotalReturnPct, 1e-9)
}

func TestCancelTrade(t *testing.T) {
	store, exec := newFakeStore(), &fakeExec{}
	orders := NewOrderManager(store, staticResolver{exec: exec})
	agent := testAgent()

	oid := "1234"
	trade, err := store.InsertTrade(context.Background(), &db.Trade{
		AgentID: agent.ID, Coin: "BTC", Side: db.TradeSideLong, Size: 0.01,
		ExchangeOrderID: &oid,
	})
	require.NoError(t, err)

	require.NoError(t, orders.CancelTrade(context.Background(), agent, trade.ID))
	assert.Equal(t, []int64{1234}, exec.cancels)
	assert.Equal(t, db.TradeStatusCancelled, store.trades[trade.ID].Status)

	// Cancelling again is rejected: no longer open
	assert.ErrorIs(t, orders.CancelTrade(context.Background(), agent, trade.ID), db.ErrNotOpen)
}

func TestCloidDerivation(t *testing.T) {
	id := uuid.New()

	entry := CloidFromDecision(id)
	tp := TriggerCloid(id, "tp")
	sl := TriggerCloid(id, "sl")

	assert.True(t, strings.HasPrefix(entry, "0x"))
	assert.Len(t, entry, 34) // 0x + 32 hex chars = 128 bits
	assert.NotEqual(t, entry, tp)
	assert.NotEqual(t, entry, sl)
	assert.NotEqual(t, tp, sl)

	// Deterministic across retries
	assert.Equal(t, entry, CloidFromDecision(id))
}
