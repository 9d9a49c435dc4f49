package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradebot/config"
	"tradebot/internal/domain"
	"tradebot/internal/ports"
	"tradebot/internal/retry"
	"tradebot/internal/wallet"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockGateway simulates an exchange. Orders placed through it are stored
// and served back by FetchOrder; tests mutate the stored results to script
// fills and cancellations.
type mockGateway struct {
	tickers  map[string]*ports.Ticker
	balances map[string]ports.Balance
	limits   ports.MarketLimits

	orders  map[string]*ports.OrderResult
	created []ports.OrderRequest
	nextID  int

	// fillOnCreate makes new orders fill completely on placement.
	fillOnCreate bool
	createErr    error
	fetchErr     map[string]error
	cancelErr    map[string]error
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		tickers:  make(map[string]*ports.Ticker),
		balances: map[string]ports.Balance{"USDT": {Free: 1000, Total: 1000}},
		limits:   ports.MarketLimits{MaxStake: 100000, PairPrecision: domain.DefaultPrecision},
		orders:   make(map[string]*ports.OrderResult),
		fetchErr: make(map[string]error),
		cancelErr: make(map[string]error),
	}
}

func (g *mockGateway) setTicker(pair string, bid, ask float64) {
	g.tickers[pair] = &ports.Ticker{Pair: pair, Bid: bid, Ask: ask, Last: (bid + ask) / 2}
}

func (g *mockGateway) FetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	t, ok := g.tickers[pair]
	if !ok {
		return nil, fmt.Errorf("%w: no ticker for %s", ports.ErrExchangeUnavailable, pair)
	}
	cp := *t
	return &cp, nil
}

func (g *mockGateway) FetchOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	if err := g.fetchErr[orderID]; err != nil {
		return nil, err
	}
	res, ok := g.orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	cp := *res
	return &cp, nil
}

func (g *mockGateway) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	g.nextID++
	price := 0.0
	if req.Price != nil {
		price = *req.Price
	}
	res := &ports.OrderResult{
		OrderID:       strconv.Itoa(g.nextID),
		ClientOrderID: req.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Price:         price,
		Amount:        req.Amount,
		Status:        domain.OrderOpen,
		Timestamp:     time.Now().UTC(),
	}
	if g.fillOnCreate && req.Kind != domain.KindStoploss {
		res.Status = domain.OrderClosed
		res.Filled = req.Amount
		res.Average = price
		res.Cost = price * req.Amount
	}
	if req.Side == domain.Buy {
		g.reserveQuote(req.Pair, price*req.Amount)
	}
	g.orders[res.OrderID] = res
	cp := *res
	return &cp, nil
}

// reserveQuote moves quote balance from free to used, the way an exchange
// holds funds behind a live buy order.
func (g *mockGateway) reserveQuote(pair string, cost float64) {
	quote := quoteCurrency(pair)
	b := g.balances[quote]
	b.Free -= cost
	b.Used += cost
	g.balances[quote] = b
}

func quoteCurrency(pair string) string {
	if i := strings.Index(pair, "/"); i >= 0 {
		return pair[i+1:]
	}
	return pair
}

func (g *mockGateway) CancelOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	if err := g.cancelErr[orderID]; err != nil {
		return nil, err
	}
	res, ok := g.orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	if !res.Status.IsTerminal() {
		if res.Side == domain.Buy {
			g.reserveQuote(res.Pair, -res.Price*(res.Amount-res.Filled))
		}
		res.Status = domain.OrderCanceled
	}
	cp := *res
	return &cp, nil
}

func (g *mockGateway) GetBalances(ctx context.Context) (map[string]ports.Balance, error) {
	out := make(map[string]ports.Balance, len(g.balances))
	for k, v := range g.balances {
		out[k] = v
	}
	return out, nil
}

func (g *mockGateway) FetchPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (g *mockGateway) GetMarketLimits(ctx context.Context, pair string) (*ports.MarketLimits, error) {
	cp := g.limits
	return &cp, nil
}

// fill scripts a (partial) fill on a stored order.
func (g *mockGateway) fill(orderID string, filled float64, terminal bool) {
	res := g.orders[orderID]
	res.Filled = filled
	res.Average = res.Price
	res.Cost = res.Price * filled
	if terminal {
		res.Status = domain.OrderClosed
	}
}

func (g *mockGateway) cancel(orderID string) {
	g.orders[orderID].Status = domain.OrderCanceled
}

type mockTradeRepo struct {
	trades map[int64]*domain.Trade
	nextID int64
}

func newMockTradeRepo() *mockTradeRepo {
	return &mockTradeRepo{trades: make(map[int64]*domain.Trade)}
}

func (r *mockTradeRepo) Create(ctx context.Context, t *domain.Trade) (int64, error) {
	r.nextID++
	t.ID = r.nextID
	for _, o := range t.Orders {
		o.TradeID = t.ID
	}
	r.trades[t.ID] = t
	return t.ID, nil
}

func (r *mockTradeRepo) Update(ctx context.Context, t *domain.Trade) error {
	if _, ok := r.trades[t.ID]; !ok {
		return ports.ErrTradeNotFound
	}
	r.trades[t.ID] = t
	return nil
}

func (r *mockTradeRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.trades[id]; !ok {
		return ports.ErrTradeNotFound
	}
	delete(r.trades, id)
	return nil
}

func (r *mockTradeRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	return r.trades[id], nil
}

func (r *mockTradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.IsOpen {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockTradeRepo) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	for _, t := range r.trades {
		if t.IsOpen && t.Pair == pair {
			return t, nil
		}
	}
	return nil, nil
}

func (r *mockTradeRepo) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, t := range r.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *mockTradeRepo) TotalClosedProfit(ctx context.Context) (float64, error) {
	var sum float64
	for _, t := range r.trades {
		if !t.IsOpen {
			sum += t.CloseProfit
		}
	}
	return sum, nil
}

func (r *mockTradeRepo) TotalOpenStake(ctx context.Context) (float64, error) {
	var sum float64
	for _, t := range r.trades {
		if t.IsOpen {
			sum += t.StakeAmount
		}
	}
	return sum, nil
}

type mockLockRepo struct {
	locks  []*domain.PairLock
	nextID int64
}

func (r *mockLockRepo) Create(ctx context.Context, lock *domain.PairLock) (int64, error) {
	r.nextID++
	lock.ID = r.nextID
	r.locks = append(r.locks, lock)
	return lock.ID, nil
}

func (r *mockLockRepo) ActiveLocks(ctx context.Context, pair string, now time.Time) (domain.PairLocks, error) {
	var out domain.PairLocks
	for _, l := range r.locks {
		if !l.IsActiveAt(now) {
			continue
		}
		if pair == "" || l.Covers(pair) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *mockLockRepo) Deactivate(ctx context.Context, id int64) error {
	for _, l := range r.locks {
		if l.ID == id {
			l.Active = false
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *mockLockRepo) DeactivatePair(ctx context.Context, pair string, now time.Time) (int, error) {
	n := 0
	for _, l := range r.locks {
		if l.Covers(pair) && l.IsActiveAt(now) {
			l.Active = false
			n++
		}
	}
	return n, nil
}

// mockStrategy answers every hook from configurable fields.
type mockStrategy struct {
	stoploss     float64
	enter        func(pair string, rate float64) ports.EntrySignal
	exit         func(t *domain.Trade, rate float64) bool
	adjustPos    func(t *domain.Trade, rate, profitRatio float64) float64
	adjustPrice  func(t *domain.Trade, o *domain.Order, rate float64) float64
	vetoEntry    bool
	vetoExit     bool
}

func (s *mockStrategy) Name() string      { return "mock" }
func (s *mockStrategy) Stoploss() float64 { return s.stoploss }

func (s *mockStrategy) ShouldEnter(ctx context.Context, pair string, rate float64) ports.EntrySignal {
	if s.enter == nil {
		return ports.EntrySignal{}
	}
	return s.enter(pair, rate)
}

func (s *mockStrategy) ShouldExit(ctx context.Context, t *domain.Trade, rate float64) bool {
	if s.exit == nil {
		return false
	}
	return s.exit(t, rate)
}

func (s *mockStrategy) StakeAmount(ctx context.Context, pair string, proposed, minStake, maxStake float64) float64 {
	return proposed
}

func (s *mockStrategy) AdjustTradePosition(ctx context.Context, t *domain.Trade, rate, profitRatio, minStake, maxStake float64) float64 {
	if s.adjustPos == nil {
		return 0
	}
	return s.adjustPos(t, rate, profitRatio)
}

func (s *mockStrategy) AdjustEntryPrice(ctx context.Context, t *domain.Trade, o *domain.Order, rate float64) float64 {
	if s.adjustPrice == nil {
		return o.Price
	}
	return s.adjustPrice(t, o, rate)
}

func (s *mockStrategy) ConfirmTradeEntry(ctx context.Context, pair string, side domain.OrderSide, stake, rate float64) bool {
	return !s.vetoEntry
}

func (s *mockStrategy) ConfirmTradeExit(ctx context.Context, t *domain.Trade, rate float64, reason domain.ExitReason) bool {
	return !s.vetoExit
}

// testRig bundles an engine with its scripted collaborators.
type testRig struct {
	engine   *Engine
	gateway  *mockGateway
	trades   *mockTradeRepo
	locks    *mockLockRepo
	strategy *mockStrategy
	cfg      *config.Config
}

func newTestRig(mutate func(cfg *config.Config)) *testRig {
	cfg := &config.Config{
		DryRun:               true,
		StakeCurrency:        "USDT",
		PairWhitelist:        []string{"ETH/USDT"},
		StakeAmount:          100,
		MaxOpenTrades:        3,
		TradableBalanceRatio: 1.0,
		Stoploss:             0.10,
		StrategyName:         "mock",
		ProcessThrottle:      time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	gw := newMockGateway()
	gw.setTicker("ETH/USDT", 2000, 2000)
	repo := newMockTradeRepo()
	locks := &mockLockRepo{}
	strat := &mockStrategy{stoploss: cfg.Stoploss}
	logger := mockLogger{}

	wallets, err := wallet.New(wallet.Config{
		StakeCurrency:        cfg.StakeCurrency,
		StakeAmount:          cfg.StakeAmount,
		Unlimited:            cfg.StakeUnlimited,
		MaxOpenTrades:        cfg.MaxOpenTrades,
		TradableBalanceRatio: cfg.TradableBalanceRatio,
		RefreshInterval:      time.Nanosecond,
	}, logger, gw, repo)
	if err != nil {
		panic(err)
	}
	// Run warms the wallet snapshot before setting running; the rig flips
	// running directly, so it must warm the snapshot the same way.
	if err := wallets.Update(context.Background(), true); err != nil {
		panic(err)
	}

	eng, err := New(Deps{
		Config:   cfg,
		Logger:   logger,
		Gateway:  gw,
		Trades:   repo,
		Locks:    locks,
		Strategy: strat,
		Wallets:  wallets,
		Retry:    retry.New(1, time.Millisecond, time.Millisecond, logger),
	})
	if err != nil {
		panic(err)
	}
	eng.running.Store(true)

	return &testRig{engine: eng, gateway: gw, trades: repo, locks: locks, strategy: strat, cfg: cfg}
}

// openTrade seeds the repo with an already-open trade holding one filled
// entry order.
func (r *testRig) openTrade(pair string, amount, openRate float64) *domain.Trade {
	t := &domain.Trade{
		Pair:     pair,
		Leverage: 1,
		IsOpen:   true,
		Status:   domain.StatusOpen,
		OpenDate: time.Now().UTC().Add(-time.Hour),
	}
	o := &domain.Order{
		OrderID: fmt.Sprintf("seed-%d", r.trades.nextID+1),
		Side:    domain.Buy,
		Kind:    domain.KindEntry,
		Price:   openRate,
		Amount:  amount,
		Filled:  amount,
		Cost:    openRate * amount,
		Status:  domain.OrderClosed,
	}
	t.AddOrder(o)
	t.RecalcFromOrders()
	t.SetInitialStoploss(r.strategy.stoploss)
	if _, err := r.trades.Create(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}
