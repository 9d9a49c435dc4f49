// Package sqlite persists trades, their order history and pair locks.
// A trade and its orders are written in one transaction so the ledger never
// holds a trade whose order list is ahead of or behind its aggregate state.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradebot/internal/domain"
	"tradebot/internal/ports"

	"github.com/jpillora/backoff"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// connectAttempts bounds the startup ping loop.
const connectAttempts = 5

// Repository implements ports.TradeRepository and ports.PairLockRepository.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (and if needed creates) the database at cfg.DBPath.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradebot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL keeps reads from blocking the single writer.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	// A locked or slow volume at startup is usually transient; probe with
	// bounded backoff before giving up.
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var pingErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if pingErr = db.Ping(); pingErr == nil {
			break
		}
		cfg.Logger.Warn(context.Background(), "Database ping failed, retrying", map[string]interface{}{
			"attempt": attempt + 1, "error": pingErr.Error(),
		})
		time.Sleep(b.Duration())
	}
	if pingErr != nil {
		db.Close()
		err = fmt.Errorf("%w: ping failed for '%s': %v", ports.ErrDBConnection, dbPath, pingErr)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY churn under the Go driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite ledger ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		is_short INTEGER NOT NULL DEFAULT 0,
		amount REAL NOT NULL DEFAULT 0,
		open_rate REAL NOT NULL DEFAULT 0,
		stake_amount REAL NOT NULL DEFAULT 0,
		leverage REAL NOT NULL DEFAULT 1,
		stoploss REAL NOT NULL DEFAULT 0,
		stoploss_pct REAL NOT NULL DEFAULT 0,
		initial_stoploss REAL NOT NULL DEFAULT 0,
		initial_stoploss_pct REAL NOT NULL DEFAULT 0,
		is_open INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		exit_reason TEXT NOT NULL DEFAULT '',
		open_date TIMESTAMP NOT NULL,
		close_date TIMESTAMP DEFAULT NULL,
		close_rate REAL DEFAULT NULL,
		close_profit REAL DEFAULT NULL,
		close_profit_ratio REAL DEFAULT NULL,
		open_order_id TEXT DEFAULT NULL,
		stoploss_order_id TEXT DEFAULT NULL,
		needs_attention INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
		order_id TEXT NOT NULL,
		client_order_id TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		amount REAL NOT NULL DEFAULT 0,
		filled REAL NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		order_date TIMESTAMP NOT NULL,
		filled_date TIMESTAMP DEFAULT NULL,
		UNIQUE (trade_id, order_id)
	);

	CREATE TABLE IF NOT EXISTS pair_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		lock_time TIMESTAMP NOT NULL,
		lock_end TIMESTAMP NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_trades_is_open ON trades (is_open);
	CREATE INDEX IF NOT EXISTS idx_trades_pair_open ON trades (pair, is_open);
	CREATE INDEX IF NOT EXISTS idx_orders_trade ON orders (trade_id);
	CREATE INDEX IF NOT EXISTS idx_pair_locks_active ON pair_locks (active, lock_end);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// Create saves a new trade with its orders and returns the assigned ID.
func (r *Repository) Create(ctx context.Context, t *domain.Trade) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin create trade: %v", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO trades (pair, is_short, amount, open_rate, stake_amount, leverage,
	                    stoploss, stoploss_pct, initial_stoploss, initial_stoploss_pct,
	                    is_open, status, exit_reason, open_date, close_date, close_rate,
	                    close_profit, close_profit_ratio, open_order_id, stoploss_order_id,
	                    needs_attention)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, query,
		t.Pair, t.IsShort, t.Amount, t.OpenRate, t.StakeAmount, t.Leverage,
		t.Stoploss, t.StoplossPct, t.InitialStoploss, t.InitialStoplossPct,
		t.IsOpen, string(t.Status), string(t.ExitReason), t.OpenDate, nullTime(t.CloseDate),
		t.CloseRate, t.CloseProfit, t.CloseProfitRatio,
		nullString(t.OpenOrderID), nullString(t.StoplossOrderID), t.NeedsAttention)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for pair %s: %w", t.Pair, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade on %s: %w", t.Pair, err)
	}
	t.ID = id

	for _, o := range t.Orders {
		o.TradeID = id
		if err := upsertOrder(ctx, tx, o); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit create trade: %v", ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "pair": t.Pair})
	return id, nil
}

// Update modifies a trade and upserts its orders in one transaction.
func (r *Repository) Update(ctx context.Context, t *domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin update trade: %v", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback()

	const query = `
	UPDATE trades
	SET pair = ?, is_short = ?, amount = ?, open_rate = ?, stake_amount = ?, leverage = ?,
	    stoploss = ?, stoploss_pct = ?, initial_stoploss = ?, initial_stoploss_pct = ?,
	    is_open = ?, status = ?, exit_reason = ?, open_date = ?, close_date = ?,
	    close_rate = ?, close_profit = ?, close_profit_ratio = ?,
	    open_order_id = ?, stoploss_order_id = ?, needs_attention = ?
	WHERE id = ?`

	result, err := tx.ExecContext(ctx, query,
		t.Pair, t.IsShort, t.Amount, t.OpenRate, t.StakeAmount, t.Leverage,
		t.Stoploss, t.StoplossPct, t.InitialStoploss, t.InitialStoplossPct,
		t.IsOpen, string(t.Status), string(t.ExitReason), t.OpenDate, nullTime(t.CloseDate),
		t.CloseRate, t.CloseProfit, t.CloseProfitRatio,
		nullString(t.OpenOrderID), nullString(t.StoplossOrderID), t.NeedsAttention,
		t.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", t.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade ID %d: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", t.ID, ports.ErrTradeNotFound)
	}

	for _, o := range t.Orders {
		o.TradeID = t.ID
		if err := upsertOrder(ctx, tx, o); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit update trade %d: %v", ports.ErrUpdateFailed, t.ID, err)
	}
	return nil
}

// Delete removes a trade; its orders go with it via the cascade.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM trades WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete trade ID %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected deleting trade ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for delete: %w", id, ports.ErrTradeNotFound)
	}
	r.logger.Debug(ctx, "Trade deleted", map[string]interface{}{"tradeID": id})
	return nil
}

const tradeColumns = `
	id, pair, is_short, amount, open_rate, stake_amount, leverage,
	stoploss, stoploss_pct, initial_stoploss, initial_stoploss_pct,
	is_open, status, exit_reason, open_date, close_date,
	COALESCE(close_rate, 0), COALESCE(close_profit, 0), COALESCE(close_profit_ratio, 0),
	open_order_id, stoploss_order_id, needs_attention`

// FindByID retrieves a trade with its orders. Returns nil, nil if not found.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, err)
	}
	if err := r.loadOrders(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// FindOpen retrieves all open trades ordered by open time ascending.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE is_open = 1 ORDER BY open_date ASC`
	return r.queryTrades(ctx, query)
}

// FindOpenByPair retrieves the open trade for a pair, if any.
func (r *Repository) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE pair = ? AND is_open = 1`
	row := r.db.QueryRowContext(ctx, query, pair)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open trade for pair %s: %w", pair, err)
	}
	if err := r.loadOrders(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// FindAll retrieves all trades ordered by open time descending.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades ORDER BY open_date DESC`
	return r.queryTrades(ctx, query)
}

// TotalClosedProfit sums the realized profit of all closed trades.
func (r *Repository) TotalClosedProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(close_profit), 0) FROM trades WHERE is_open = 0`
	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum closed profit: %w", err)
	}
	return total, nil
}

// TotalOpenStake sums the stake committed to currently open trades.
func (r *Repository) TotalOpenStake(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(stake_amount), 0) FROM trades WHERE is_open = 1`
	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum open stake: %w", err)
	}
	return total, nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	for _, t := range trades {
		if err := r.loadOrders(ctx, t); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

func (r *Repository) loadOrders(ctx context.Context, t *domain.Trade) error {
	const query = `
	SELECT id, trade_id, order_id, client_order_id, side, kind, price, amount,
	       filled, cost, status, order_date, filled_date
	FROM orders WHERE trade_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, t.ID)
	if err != nil {
		return fmt.Errorf("failed to query orders for trade %d: %w", t.ID, err)
	}
	defer rows.Close()

	t.Orders = t.Orders[:0]
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return fmt.Errorf("failed to scan order for trade %d: %w", t.ID, err)
		}
		t.Orders = append(t.Orders, o)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating order rows for trade %d: %w", t.ID, err)
	}
	return nil
}

func upsertOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	const query = `
	INSERT INTO orders (trade_id, order_id, client_order_id, side, kind, price, amount,
	                    filled, cost, status, order_date, filled_date)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (trade_id, order_id) DO UPDATE SET
		price = excluded.price,
		amount = excluded.amount,
		filled = excluded.filled,
		cost = excluded.cost,
		status = excluded.status,
		filled_date = excluded.filled_date`

	result, err := tx.ExecContext(ctx, query,
		o.TradeID, o.OrderID, o.ClientOrderID, string(o.Side), string(o.Kind),
		o.Price, o.Amount, o.Filled, o.Cost, string(o.Status),
		o.OrderDate, nullTime(o.FilledDate))
	if err != nil {
		return fmt.Errorf("failed to upsert order %s for trade %d: %w", o.OrderID, o.TradeID, err)
	}
	if o.ID == 0 {
		if id, err := result.LastInsertId(); err == nil {
			o.ID = id
		}
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var status, exitReason string
	var closeDate sql.NullTime
	var openOrderID, stoplossOrderID sql.NullString
	err := s.Scan(
		&t.ID, &t.Pair, &t.IsShort, &t.Amount, &t.OpenRate, &t.StakeAmount, &t.Leverage,
		&t.Stoploss, &t.StoplossPct, &t.InitialStoploss, &t.InitialStoplossPct,
		&t.IsOpen, &status, &exitReason, &t.OpenDate, &closeDate,
		&t.CloseRate, &t.CloseProfit, &t.CloseProfitRatio,
		&openOrderID, &stoplossOrderID, &t.NeedsAttention)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Status = domain.TradeStatus(status)
	t.ExitReason = domain.ExitReason(exitReason)
	if closeDate.Valid {
		t.CloseDate = closeDate.Time
	}
	if openOrderID.Valid {
		t.OpenOrderID = &openOrderID.String
	}
	if stoplossOrderID.Valid {
		t.StoplossOrderID = &stoplossOrderID.String
	}
	return t, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var side, kind, status string
	var filledDate sql.NullTime
	err := s.Scan(
		&o.ID, &o.TradeID, &o.OrderID, &o.ClientOrderID, &side, &kind,
		&o.Price, &o.Amount, &o.Filled, &o.Cost, &status, &o.OrderDate, &filledDate)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	if filledDate.Valid {
		o.FilledDate = filledDate.Time
	}
	return o, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
