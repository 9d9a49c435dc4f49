package sqlite

import (
	"context"
	"fmt"
	"time"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

// LockRepository implements ports.PairLockRepository on top of the shared
// database handle.
type LockRepository struct {
	repo *Repository
}

// Locks returns the pair-lock view of the repository.
func (r *Repository) Locks() *LockRepository {
	return &LockRepository{repo: r}
}

// Create saves a new pair lock and returns its assigned ID.
func (l *LockRepository) Create(ctx context.Context, lock *domain.PairLock) (int64, error) {
	const query = `
	INSERT INTO pair_locks (pair, reason, lock_time, lock_end, active)
	VALUES (?, ?, ?, ?, ?)`

	result, err := l.repo.db.ExecContext(ctx, query,
		lock.Pair, lock.Reason, lock.LockTime, lock.LockEnd, lock.Active)
	if err != nil {
		return 0, fmt.Errorf("failed to insert pair lock for %s: %w", lock.Pair, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for pair lock on %s: %w", lock.Pair, err)
	}
	lock.ID = id
	l.repo.logger.Debug(ctx, "Pair lock created", map[string]interface{}{
		"lockID": id, "pair": lock.Pair, "until": lock.LockEnd,
	})
	return id, nil
}

// ActiveLocks retrieves locks active at the given instant. An empty pair
// returns locks for all pairs; otherwise locks covering the pair (including
// the wildcard) are returned.
func (l *LockRepository) ActiveLocks(ctx context.Context, pair string, now time.Time) (domain.PairLocks, error) {
	query := `
	SELECT id, pair, reason, lock_time, lock_end, active
	FROM pair_locks
	WHERE active = 1 AND lock_end > ?`
	args := []interface{}{now}
	if pair != "" {
		query += ` AND (pair = ? OR pair = ?)`
		args = append(args, pair, domain.WildcardPair)
	}

	rows, err := l.repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active locks for %q: %w", pair, err)
	}
	defer rows.Close()

	locks := make(domain.PairLocks, 0)
	for rows.Next() {
		lock := &domain.PairLock{}
		if err := rows.Scan(&lock.ID, &lock.Pair, &lock.Reason, &lock.LockTime, &lock.LockEnd, &lock.Active); err != nil {
			return nil, fmt.Errorf("failed to scan pair lock row: %w", err)
		}
		locks = append(locks, lock)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pair lock rows: %w", err)
	}
	return locks, nil
}

// Deactivate releases a lock by ID.
func (l *LockRepository) Deactivate(ctx context.Context, id int64) error {
	const query = `UPDATE pair_locks SET active = 0 WHERE id = ? AND active = 1`
	result, err := l.repo.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate lock ID %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected deactivating lock ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("lock ID %d not found or already released: %w", id, ports.ErrNotFound)
	}
	return nil
}

// DeactivatePair releases all active locks covering a pair and returns how
// many were released.
func (l *LockRepository) DeactivatePair(ctx context.Context, pair string, now time.Time) (int, error) {
	const query = `
	UPDATE pair_locks SET active = 0
	WHERE (pair = ? OR pair = ?) AND active = 1 AND lock_end > ?`

	result, err := l.repo.db.ExecContext(ctx, query, pair, domain.WildcardPair, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate locks for pair %s: %w", pair, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected deactivating locks for %s: %w", pair, err)
	}
	return int(rowsAffected), nil
}
