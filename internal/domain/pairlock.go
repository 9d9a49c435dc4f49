package domain

import "time"

// WildcardPair locks every pair when used in a PairLock.
const WildcardPair = "*"

// PairLock is a temporary prohibition on opening new trades for a pair.
// Multiple overlapping locks may exist for the same pair.
type PairLock struct {
	ID       int64
	Pair     string // Pair or WildcardPair
	Reason   string
	LockTime time.Time
	LockEnd  time.Time
	Active   bool
}

// IsActiveAt reports whether the lock applies at the given instant.
func (l *PairLock) IsActiveAt(now time.Time) bool {
	return l.Active && l.LockEnd.After(now)
}

// Covers reports whether the lock applies to the given pair.
func (l *PairLock) Covers(pair string) bool {
	return l.Pair == pair || l.Pair == WildcardPair
}

// PairLocks is a set of locks with pair-level queries.
type PairLocks []*PairLock

// IsPairLocked reports whether any active lock covers the pair, either
// directly or via the wildcard.
func (ls PairLocks) IsPairLocked(pair string, now time.Time) bool {
	for _, l := range ls {
		if l.Covers(pair) && l.IsActiveAt(now) {
			return true
		}
	}
	return false
}
