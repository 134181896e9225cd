package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/disciplina/internal/application/engine"
	"github.com/alejandrodnm/disciplina/internal/domain"
	"github.com/alejandrodnm/disciplina/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockBroker struct {
	positions    []domain.Position
	positionsErr error
	deals        []domain.Deal
	dealsErr     error

	closeErr    map[string]error // per trade id; missing key means success
	closedCalls []string
}

func (m *mockBroker) ListOpenPositions(_ context.Context, _ string) ([]domain.Position, error) {
	return m.positions, m.positionsErr
}

func (m *mockBroker) ListDeals(_ context.Context, _ string, _, _ time.Time) ([]domain.Deal, error) {
	return m.deals, m.dealsErr
}

func (m *mockBroker) ClosePosition(_ context.Context, _, positionID string) error {
	m.closedCalls = append(m.closedCalls, positionID)
	return m.closeErr[positionID]
}

func (m *mockBroker) ProvisionAccount(_ context.Context, _ ports.AccountCredentials) (string, error) {
	return "acct-1", nil
}

type mockLedger struct {
	plan    *domain.TradingPlan
	planErr error

	trades map[string]domain.TradeRecord // keyed by trade id, single user
	upserts int

	markErr   error
	markFails int // fail the first N MarkViolation calls
	marked    []string
}

func newMockLedger(plan *domain.TradingPlan) *mockLedger {
	return &mockLedger{plan: plan, trades: make(map[string]domain.TradeRecord)}
}

func (m *mockLedger) ActivePlan(_ context.Context, _ string) (domain.TradingPlan, bool, error) {
	if m.planErr != nil {
		return domain.TradingPlan{}, false, m.planErr
	}
	if m.plan == nil {
		return domain.TradingPlan{}, false, nil
	}
	return *m.plan, true, nil
}

func (m *mockLedger) SavePlan(_ context.Context, plan domain.TradingPlan) error {
	m.plan = &plan
	return nil
}

func (m *mockLedger) TradesBetween(_ context.Context, _ string, from, to time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, t := range m.trades {
		if !t.OpenedAt.Before(from) && t.OpenedAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockLedger) OpenTrades(_ context.Context, _ string) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, t := range m.trades {
		if t.IsOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockLedger) UpsertTrade(_ context.Context, _ string, r domain.TradeRecord) (bool, error) {
	existing, ok := m.trades[r.TradeID]
	if ok && sameSnapshot(existing, r) {
		return false, nil
	}
	if ok {
		// Reconciliation owns only the mutable facts.
		existing.ClosePrice = r.ClosePrice
		existing.Profit = r.Profit
		existing.ClosedAt = r.ClosedAt
		existing.IsOpen = r.IsOpen
		m.trades[r.TradeID] = existing
	} else {
		m.trades[r.TradeID] = r
	}
	m.upserts++
	return true, nil
}

func (m *mockLedger) MarkViolation(_ context.Context, _, tradeID string, violations []domain.Violation, reason string, closedAt time.Time) error {
	if m.markFails > 0 {
		m.markFails--
		return errors.New("ledger write failed")
	}
	if m.markErr != nil {
		return m.markErr
	}
	t, ok := m.trades[tradeID]
	if !ok {
		t = domain.TradeRecord{TradeID: tradeID}
	}
	t.IsOpen = false
	t.FollowsRules = false
	t.Violations = violations
	t.AutoClosed = true
	t.AutoCloseReason = reason
	t.ClosedAt = &closedAt
	m.trades[tradeID] = t
	m.marked = append(m.marked, tradeID)
	return nil
}

func (m *mockLedger) Close() error { return nil }

func sameSnapshot(a, b domain.TradeRecord) bool {
	sameFloat := func(x, y *float64) bool {
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return *x == *y
	}
	sameTime := func(x, y *time.Time) bool {
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return x.Equal(*y)
	}
	return a.IsOpen == b.IsOpen && sameFloat(a.ClosePrice, b.ClosePrice) &&
		sameFloat(a.Profit, b.Profit) && sameTime(a.ClosedAt, b.ClosedAt)
}

// --- helpers ---

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func makePlan() *domain.TradingPlan {
	return &domain.TradingPlan{
		UserID:              "u1",
		MaxTradesPerDay:     5,
		AllowedSymbols:      []string{"EURUSD"},
		SessionStart:        domain.TimeOfDay{Hour: 9},
		SessionEnd:          domain.TimeOfDay{Hour: 17},
		MaxDailyLossPercent: 5.0,
		IsActive:            true,
	}
}

func makePosition(id, symbol string) domain.Position {
	return domain.Position{
		TradeID:   id,
		Symbol:    symbol,
		Side:      domain.SideBuy,
		Volume:    0.1,
		OpenPrice: 1.0850,
		Profit:    2.5,
		OpenedAt:  testNow.Add(-time.Hour),
	}
}

func newEngine(broker *mockBroker, ledger *mockLedger) *engine.Engine {
	e := engine.New(broker, ledger, nil, engine.Config{})
	e.SetClock(func() time.Time { return testNow })
	return e
}

// --- RunCycle ---

func TestRunCycle_OneViolatorAmongThree(t *testing.T) {
	broker := &mockBroker{positions: []domain.Position{
		makePosition("1", "EURUSD"),
		makePosition("2", "GBPUSD"), // not on the allow-list
		makePosition("3", "EURUSD"),
	}}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	result, err := e.RunCycle(context.Background(), "u1", "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 1, result.Violated)
	require.Len(t, result.Details, 1)
	assert.Equal(t, "2", result.Details[0].TradeID)
	assert.Equal(t, []domain.Violation{domain.ViolationSymbol}, result.Details[0].Violations)
	assert.True(t, result.Details[0].Closed)

	// Broker close confirmed, so the ledger shows exactly one auto-closed row.
	assert.Equal(t, []string{"2"}, broker.closedCalls)
	require.Contains(t, ledger.trades, "2")
	flagged := ledger.trades["2"]
	assert.True(t, flagged.AutoClosed)
	assert.False(t, flagged.FollowsRules)
	assert.Equal(t, "Rule violation: Symbol not allowed", flagged.AutoCloseReason)
}

func TestRunCycle_NoActivePlan(t *testing.T) {
	broker := &mockBroker{positions: []domain.Position{makePosition("1", "EURUSD")}}
	ledger := newMockLedger(nil)
	e := newEngine(broker, ledger)

	_, err := e.RunCycle(context.Background(), "u1", "acct-1")
	assert.ErrorIs(t, err, engine.ErrNoActivePlan)
	assert.Empty(t, broker.closedCalls, "no plan means nothing gets closed")
}

func TestRunCycle_CloseFailureLeavesRecordUnflagged(t *testing.T) {
	broker := &mockBroker{
		positions: []domain.Position{makePosition("2", "GBPUSD")},
		closeErr:  map[string]error{"2": errors.New("broker timeout")},
	}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	result, err := e.RunCycle(context.Background(), "u1", "acct-1")
	require.NoError(t, err)

	// The violation is reported but followsRules is never flipped unless the
	// broker confirmed the close.
	assert.Equal(t, 1, result.Violated)
	require.Len(t, result.Details, 1)
	assert.False(t, result.Details[0].Closed)
	assert.NotEmpty(t, result.Warnings)
	assert.Empty(t, ledger.marked)
}

func TestRunCycle_LedgerWriteRetriedAfterConfirmedClose(t *testing.T) {
	broker := &mockBroker{positions: []domain.Position{makePosition("2", "GBPUSD")}}
	ledger := newMockLedger(makePlan())
	ledger.markFails = 2 // transient: first two writes fail, third succeeds
	e := newEngine(broker, ledger)

	result, err := e.RunCycle(context.Background(), "u1", "acct-1")
	require.NoError(t, err)

	require.Len(t, result.Details, 1)
	assert.True(t, result.Details[0].Closed)
	assert.Equal(t, []string{"2"}, ledger.marked)
}

func TestRunCycle_DailyLossFeedsFromLedger(t *testing.T) {
	broker := &mockBroker{positions: []domain.Position{makePosition("9", "EURUSD")}}
	ledger := newMockLedger(makePlan())

	loss := -6.0
	ledger.trades["old"] = domain.TradeRecord{
		TradeID:  "old",
		Symbol:   "EURUSD",
		OpenedAt: testNow.Add(-3 * time.Hour),
		Profit:   &loss,
	}

	e := newEngine(broker, ledger)
	result, err := e.RunCycle(context.Background(), "u1", "acct-1")
	require.NoError(t, err)

	require.Len(t, result.Details, 1)
	assert.Contains(t, result.Details[0].Violations, domain.ViolationDailyLoss)
}

// --- Sync ---

func TestSync_InsertsAndDeduplicates(t *testing.T) {
	closedAt := testNow.Add(-30 * time.Minute)
	broker := &mockBroker{
		positions: []domain.Position{makePosition("1", "EURUSD")},
		deals: []domain.Deal{
			// Same ticket as the live position: the position snapshot wins.
			{TradeID: "1", Symbol: "EURUSD", Side: domain.SideBuy, Volume: 0.1,
				OpenPrice: 1.0850, OpenedAt: testNow.Add(-time.Hour)},
			{TradeID: "7", Symbol: "GBPUSD", Side: domain.SideSell, Volume: 0.2,
				OpenPrice: 1.2700, ClosePrice: 1.2650, Profit: 10,
				OpenedAt: testNow.Add(-2 * time.Hour), ClosedAt: &closedAt},
		},
	}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	synced, err := e.Sync(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	require.Contains(t, ledger.trades, "1")
	require.Contains(t, ledger.trades, "7")
	assert.True(t, ledger.trades["1"].IsOpen)
	assert.False(t, ledger.trades["7"].IsOpen)
	assert.True(t, ledger.trades["7"].FollowsRules, "compliance is judged later, not at ingestion")
}

func TestSync_EntryAndExitFillsReconcileOnce(t *testing.T) {
	// The broker reports a closed trade as two fills under one ticket: the
	// entry (still open) and the exit (carrying close price and profit).
	// They must collapse into a single closed record — open facts from the
	// entry, close facts from the exit — and a repeat sync must write nothing.
	closedAt := testNow.Add(-30 * time.Minute)
	broker := &mockBroker{deals: []domain.Deal{
		{TradeID: "100", Symbol: "EURUSD", Side: domain.SideBuy, Volume: 0.1,
			OpenPrice: 1.0850, OpenedAt: testNow.Add(-2 * time.Hour)},
		{TradeID: "100", Symbol: "EURUSD", Side: domain.SideSell, Volume: 0.1,
			OpenPrice: 1.0900, ClosePrice: 1.0900, Profit: 5.0,
			OpenedAt: closedAt, ClosedAt: &closedAt},
	}}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	first, err := e.Sync(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first, "entry+exit fills are one trade, one write")

	got := ledger.trades["100"]
	assert.False(t, got.IsOpen)
	assert.InDelta(t, 1.0850, got.OpenPrice, 1e-9)
	assert.Equal(t, testNow.Add(-2*time.Hour), got.OpenedAt)
	require.NotNil(t, got.ClosePrice)
	assert.InDelta(t, 1.0900, *got.ClosePrice, 1e-9)
	require.NotNil(t, got.ClosedAt)

	second, err := e.Sync(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second, "repeat sync over the same fills must not touch the row")
	assert.Equal(t, 1, ledger.upserts)
}

func TestSync_ExitFillListedBeforeEntry(t *testing.T) {
	// Fill order is broker whim; the merge must not depend on it.
	closedAt := testNow.Add(-30 * time.Minute)
	broker := &mockBroker{deals: []domain.Deal{
		{TradeID: "100", Symbol: "EURUSD", Side: domain.SideSell, Volume: 0.1,
			OpenPrice: 1.0900, ClosePrice: 1.0900, Profit: 5.0,
			OpenedAt: closedAt, ClosedAt: &closedAt},
		{TradeID: "100", Symbol: "EURUSD", Side: domain.SideBuy, Volume: 0.1,
			OpenPrice: 1.0850, OpenedAt: testNow.Add(-2 * time.Hour)},
	}}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	synced, err := e.Sync(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	got := ledger.trades["100"]
	assert.False(t, got.IsOpen)
	assert.InDelta(t, 1.0850, got.OpenPrice, 1e-9, "open facts come from the entry fill")
	require.NotNil(t, got.ClosedAt)
}

func TestSync_IdempotentAcrossRuns(t *testing.T) {
	broker := &mockBroker{positions: []domain.Position{makePosition("1", "EURUSD")}}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	first, err := e.Sync(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := e.Sync(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second, "identical broker snapshot must write nothing")
	assert.Equal(t, 1, ledger.upserts)
}

func TestSync_DealFailureDegradesToPositionsOnly(t *testing.T) {
	broker := &mockBroker{
		positions: []domain.Position{makePosition("1", "EURUSD")},
		dealsErr:  errors.New("history endpoint 503"),
	}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	synced, err := e.Sync(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
}

func TestSync_PositionListFailureIsFatal(t *testing.T) {
	broker := &mockBroker{positionsErr: errors.New("gateway down")}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	_, err := e.Sync(context.Background(), "u1", "acct-1")
	assert.Error(t, err)
}

// --- Monitor ---

func TestMonitor_SyncThenEnforce(t *testing.T) {
	broker := &mockBroker{positions: []domain.Position{
		makePosition("1", "EURUSD"),
		makePosition("2", "GBPUSD"),
	}}
	ledger := newMockLedger(makePlan())
	e := newEngine(broker, ledger)

	result, err := e.Monitor(context.Background(), "u1", "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.SyncedTrades)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.Violated)
}

func TestMonitor_TradeCountQuirkSeesSyncedTrades(t *testing.T) {
	// After sync the day's ledger holds the live positions themselves. With
	// the cap at 2 and two positions synced, the "already over the limit"
	// check fires for both.
	plan := makePlan()
	plan.MaxTradesPerDay = 2
	plan.AllowedSymbols = nil

	broker := &mockBroker{positions: []domain.Position{
		makePosition("1", "EURUSD"),
		makePosition("2", "EURUSD"),
	}}
	ledger := newMockLedger(plan)
	e := newEngine(broker, ledger)

	result, err := e.Monitor(context.Background(), "u1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Violated)
	for _, d := range result.Details {
		assert.Contains(t, d.Violations, domain.ViolationTradeCount)
	}
}
