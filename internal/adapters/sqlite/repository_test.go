package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tradebot-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return repo
}

func sampleTrade(pair string) *domain.Trade {
	t := &domain.Trade{
		Pair:     pair,
		Leverage: 1,
		IsOpen:   true,
		Status:   domain.StatusPendingEntry,
		OpenDate: time.Now().UTC().Truncate(time.Second),
	}
	orderID := "ex-1"
	t.AddOrder(&domain.Order{
		OrderID:       orderID,
		ClientOrderID: "client-1",
		Side:          domain.Buy,
		Kind:          domain.KindEntry,
		Price:         2000,
		Amount:        0.05,
		Status:        domain.OrderOpen,
		OrderDate:     time.Now().UTC().Truncate(time.Second),
	})
	t.OpenOrderID = &orderID
	return t
}

func TestCreateAndFindTrade(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	trade := sampleTrade("ETH/USDT")
	id, err := repo.Create(ctx, trade)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ETH/USDT", got.Pair)
	assert.Equal(t, domain.StatusPendingEntry, got.Status)
	require.NotNil(t, got.OpenOrderID)
	assert.Equal(t, "ex-1", *got.OpenOrderID)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, domain.KindEntry, got.Orders[0].Kind)
	assert.Equal(t, id, got.Orders[0].TradeID)

	missing, err := repo.FindByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown ID is nil, nil")
}

func TestUpdateUpsertsOrders(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	trade := sampleTrade("ETH/USDT")
	_, err := repo.Create(ctx, trade)
	require.NoError(t, err)

	// The entry fills and a second order joins the trade.
	trade.Orders[0].Filled = 0.05
	trade.Orders[0].Cost = 100
	trade.Orders[0].Status = domain.OrderClosed
	trade.Orders[0].FilledDate = time.Now().UTC().Truncate(time.Second)
	trade.Status = domain.StatusOpen
	trade.OpenOrderID = nil
	trade.Amount = 0.05
	trade.OpenRate = 2000
	trade.StakeAmount = 100
	exitID := "ex-2"
	trade.AddOrder(&domain.Order{
		OrderID:   exitID,
		Side:      domain.Sell,
		Kind:      domain.KindExit,
		Price:     2100,
		Amount:    0.05,
		Status:    domain.OrderOpen,
		OrderDate: time.Now().UTC().Truncate(time.Second),
	})
	trade.OpenOrderID = &exitID
	require.NoError(t, repo.Update(ctx, trade))

	got, err := repo.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, got.Orders, 2)
	assert.Equal(t, domain.OrderClosed, got.Orders[0].Status)
	assert.InDelta(t, 0.05, got.Orders[0].Filled, 1e-9)
	assert.Equal(t, domain.KindExit, got.Orders[1].Kind)
	assert.Equal(t, domain.StatusOpen, got.Status)

	// Replaying the same state must not duplicate order rows.
	require.NoError(t, repo.Update(ctx, trade))
	got, err = repo.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Len(t, got.Orders, 2)
}

func TestUpdateUnknownTrade(t *testing.T) {
	repo := setupTestDB(t)
	trade := sampleTrade("ETH/USDT")
	trade.ID = 1234
	err := repo.Update(context.Background(), trade)
	assert.ErrorIs(t, err, ports.ErrTradeNotFound)
}

func TestDeleteRemovesOrders(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	trade := sampleTrade("ETH/USDT")
	id, err := repo.Create(ctx, trade)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))
	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	var count int
	require.NoError(t, repo.db.QueryRow(`SELECT COUNT(*) FROM orders WHERE trade_id = ?`, id).Scan(&count))
	assert.Zero(t, count, "orders cascade with the trade")

	assert.ErrorIs(t, repo.Delete(ctx, id), ports.ErrTradeNotFound)
}

func TestFindOpenAndAggregates(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	open := sampleTrade("ETH/USDT")
	open.Status = domain.StatusOpen
	open.StakeAmount = 100
	_, err := repo.Create(ctx, open)
	require.NoError(t, err)

	second := sampleTrade("BTC/USDT")
	second.Orders[0].OrderID = "ex-9"
	second.OpenOrderID = &second.Orders[0].OrderID
	second.StakeAmount = 50
	_, err = repo.Create(ctx, second)
	require.NoError(t, err)

	closed := sampleTrade("SOL/USDT")
	closed.Orders[0].OrderID = "ex-10"
	closed.OpenOrderID = nil
	closed.IsOpen = false
	closed.Status = domain.StatusClosed
	closed.CloseDate = time.Now().UTC()
	closed.CloseProfit = -12.5
	_, err = repo.Create(ctx, closed)
	require.NoError(t, err)

	openTrades, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, openTrades, 2)

	byPair, err := repo.FindOpenByPair(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, byPair)
	assert.Equal(t, "BTC/USDT", byPair.Pair)

	none, err := repo.FindOpenByPair(ctx, "SOL/USDT")
	require.NoError(t, err)
	assert.Nil(t, none, "closed trades are not open trades")

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	profit, err := repo.TotalClosedProfit(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -12.5, profit, 1e-9)

	stake, err := repo.TotalOpenStake(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 150.0, stake, 1e-9)
}

func TestPairLocks(t *testing.T) {
	repo := setupTestDB(t)
	locks := repo.Locks()
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := locks.Create(ctx, &domain.PairLock{
		Pair:     "ETH/USDT",
		Reason:   "cooldown",
		LockTime: now,
		LockEnd:  now.Add(time.Hour),
		Active:   true,
	})
	require.NoError(t, err)
	_, err = locks.Create(ctx, &domain.PairLock{
		Pair:     domain.WildcardPair,
		Reason:   "maintenance",
		LockTime: now,
		LockEnd:  now.Add(time.Minute),
		Active:   true,
	})
	require.NoError(t, err)
	_, err = locks.Create(ctx, &domain.PairLock{
		Pair:     "BTC/USDT",
		Reason:   "expired",
		LockTime: now.Add(-2 * time.Hour),
		LockEnd:  now.Add(-time.Hour),
		Active:   true,
	})
	require.NoError(t, err)

	active, err := locks.ActiveLocks(ctx, "ETH/USDT", now)
	require.NoError(t, err)
	assert.Len(t, active, 2, "direct lock plus wildcard")
	assert.True(t, active.IsPairLocked("ETH/USDT", now))

	// The expired BTC lock never shows up; the wildcard still covers it.
	active, err = locks.ActiveLocks(ctx, "BTC/USDT", now)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, locks.Deactivate(ctx, id))
	assert.ErrorIs(t, locks.Deactivate(ctx, id), ports.ErrNotFound)

	n, err := locks.DeactivatePair(ctx, "ETH/USDT", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the wildcard lock was still active")

	active, err = locks.ActiveLocks(ctx, "ETH/USDT", now)
	require.NoError(t, err)
	assert.Empty(t, active)
}
