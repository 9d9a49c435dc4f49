package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockGateway struct {
	balances     map[string]ports.Balance
	balanceCalls int
}

func (m *mockGateway) FetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	return &ports.Ticker{Pair: pair, Bid: 1, Ask: 1, Last: 1}, nil
}

func (m *mockGateway) FetchOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	return nil, ports.ErrOrderNotFound
}

func (m *mockGateway) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	return nil, ports.ErrOrderRejected
}

func (m *mockGateway) CancelOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	return nil, ports.ErrOrderNotFound
}

func (m *mockGateway) GetBalances(ctx context.Context) (map[string]ports.Balance, error) {
	m.balanceCalls++
	return m.balances, nil
}

func (m *mockGateway) FetchPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (m *mockGateway) GetMarketLimits(ctx context.Context, pair string) (*ports.MarketLimits, error) {
	return &ports.MarketLimits{MaxStake: 1e12, PairPrecision: domain.DefaultPrecision}, nil
}

type mockTradeRepo struct {
	closedProfit float64
	openStake    float64
}

func (m *mockTradeRepo) Create(ctx context.Context, t *domain.Trade) (int64, error) { return 1, nil }
func (m *mockTradeRepo) Update(ctx context.Context, t *domain.Trade) error          { return nil }
func (m *mockTradeRepo) Delete(ctx context.Context, id int64) error                 { return nil }
func (m *mockTradeRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	return nil, nil
}
func (m *mockTradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) { return nil, nil }
func (m *mockTradeRepo) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	return nil, nil
}
func (m *mockTradeRepo) FindAll(ctx context.Context) ([]*domain.Trade, error) { return nil, nil }
func (m *mockTradeRepo) TotalClosedProfit(ctx context.Context) (float64, error) {
	return m.closedProfit, nil
}
func (m *mockTradeRepo) TotalOpenStake(ctx context.Context) (float64, error) {
	return m.openStake, nil
}

func newWallets(t *testing.T, cfg Config, gw *mockGateway, repo *mockTradeRepo) *Wallets {
	t.Helper()
	if cfg.StakeCurrency == "" {
		cfg.StakeCurrency = "USDT"
	}
	if cfg.TradableBalanceRatio == 0 {
		cfg.TradableBalanceRatio = 1
	}
	w, err := New(cfg, &mockLogger{}, gw, repo)
	require.NoError(t, err)
	require.NoError(t, w.Update(context.Background(), true))
	return w
}

func usdt(free, used float64) map[string]ports.Balance {
	return map[string]ports.Balance{"USDT": {Free: free, Used: used, Total: free + used}}
}

func TestUnlimitedStakeRedistribution(t *testing.T) {
	ctx := context.Background()
	gw := &mockGateway{balances: usdt(1000, 0)}
	repo := &mockTradeRepo{}
	w := newWallets(t, Config{Unlimited: true, MaxOpenTrades: 4, RefreshInterval: time.Nanosecond}, gw, repo)

	// Four successive entries each get an even quarter of the wallet.
	for i := 0; i < 4; i++ {
		stake, err := w.TradeStakeAmount(ctx, "ETH/USDT")
		require.NoError(t, err)
		assert.InDelta(t, 250.0, stake, 1e-9, "entry %d", i+1)

		// Simulate the fill: stake moves from free to tied-up.
		repo.openStake += 250
		gw.balances = usdt(1000-repo.openStake, repo.openStake)
		require.NoError(t, w.Update(ctx, true))
	}

	// All slots funded: nothing left to deploy.
	stake, err := w.TradeStakeAmount(ctx, "XRP/USDT")
	require.NoError(t, err)
	assert.Zero(t, stake)

	// One trade closes at a 50 loss; reconfigure to five slots. The next
	// stake must be recomputed from the reduced balance, not replayed.
	repo.openStake = 750
	repo.closedProfit = -50
	gw.balances = usdt(200, 750)
	require.NoError(t, w.Update(ctx, true))
	w.cfg.MaxOpenTrades = 5

	stake, err = w.TradeStakeAmount(ctx, "XRP/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 190.0, stake, 1e-9)
}

func TestUnlimitedStakeUnboundedSlots(t *testing.T) {
	gw := &mockGateway{balances: usdt(1000, 0)}
	w := newWallets(t, Config{Unlimited: true, MaxOpenTrades: 0, RefreshInterval: time.Nanosecond}, gw, &mockTradeRepo{})

	stake, err := w.TradeStakeAmount(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.Zero(t, stake)
}

func TestFixedStakeInsufficientBalance(t *testing.T) {
	gw := &mockGateway{balances: usdt(25, 0)}
	w := newWallets(t, Config{StakeAmount: 60, RefreshInterval: time.Nanosecond}, gw, &mockTradeRepo{})

	_, err := w.TradeStakeAmount(context.Background(), "ETH/USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInsufficientCapital)
}

func TestGetStartingBalance(t *testing.T) {
	capital := func(v float64) *float64 { return &v }
	cases := []struct {
		name             string
		availableCapital *float64
		closedProfit     float64
		openStakes       float64
		free             float64
		expected         float64
	}{
		{"profit and open trades", nil, 10, 100, 910, 1000},
		{"untouched wallet", nil, 0, 0, 2500, 2500},
		{"realized profit", nil, 500, 0, 2500, 2000},
		{"realized loss", nil, -70, 0, 1930, 2000},
		{"capital override wins", capital(100), 0, 0, 0, 100},
		{"capital override ignores state", capital(1235), 2250, 2, 5, 1235},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &mockGateway{balances: usdt(tc.free, 0)}
			repo := &mockTradeRepo{closedProfit: tc.closedProfit, openStake: tc.openStakes}
			w := newWallets(t, Config{AvailableCapital: tc.availableCapital, RefreshInterval: time.Nanosecond}, gw, repo)

			got, err := w.GetStartingBalance(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestValidateStakeAmount(t *testing.T) {
	min := func(v float64) *float64 { return &v }
	cases := []struct {
		name      string
		stake     float64
		minStake  *float64
		available float64
		maxStake  float64
		expected  float64
	}{
		{"within limits", 22, min(11), 50, 10000, 22},
		{"plenty of room", 100, min(11), 500, 10000, 100},
		{"above available", 1000, min(11), 500, 10000, 500},
		{"above max stake", 700, min(11), 1000, 400, 400},
		{"minimum above available", 20, min(15), 10, 10000, 0},
		{"bumped to minimum", 9, min(11), 100, 10000, 11},
		{"tiny stake rejected", 1, min(15), 10, 10000, 0},
		{"too far below minimum", 20, min(50), 100, 10000, 0},
		{"no exchange minimum", 1000, nil, 1000, 10000, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &mockGateway{balances: usdt(tc.available, 0)}
			w := newWallets(t, Config{RefreshInterval: time.Nanosecond}, gw, &mockTradeRepo{})

			got, err := w.ValidateStakeAmount(context.Background(), "XRP/USDT", tc.stake, tc.minStake, tc.maxStake)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestUpdateThrottled(t *testing.T) {
	gw := &mockGateway{balances: usdt(100, 0)}
	w := newWallets(t, Config{RefreshInterval: time.Hour}, gw, &mockTradeRepo{})
	calls := gw.balanceCalls

	// Within the refresh interval the snapshot is reused.
	require.NoError(t, w.Update(context.Background(), false))
	assert.Equal(t, calls, gw.balanceCalls)

	// Force always refreshes.
	require.NoError(t, w.Update(context.Background(), true))
	assert.Equal(t, calls+1, gw.balanceCalls)
}

func TestBalanceLookupsUnknownCurrency(t *testing.T) {
	gw := &mockGateway{balances: usdt(100, 5)}
	w := newWallets(t, Config{RefreshInterval: time.Nanosecond}, gw, &mockTradeRepo{})

	assert.Equal(t, 100.0, w.GetFree("USDT"))
	assert.Equal(t, 5.0, w.GetUsed("USDT"))
	assert.Equal(t, 105.0, w.GetTotal("USDT"))
	assert.Zero(t, w.GetFree("NOCURRENCY"))
}
