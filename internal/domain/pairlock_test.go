package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairLockCoverage(t *testing.T) {
	now := time.Now().UTC()
	direct := &PairLock{Pair: "ETH/USDT", Active: true, LockEnd: now.Add(time.Hour)}
	wildcard := &PairLock{Pair: WildcardPair, Active: true, LockEnd: now.Add(time.Hour)}

	assert.True(t, direct.Covers("ETH/USDT"))
	assert.False(t, direct.Covers("BTC/USDT"))
	assert.True(t, wildcard.Covers("BTC/USDT"))
}

func TestPairLockExpiry(t *testing.T) {
	now := time.Now().UTC()
	expired := &PairLock{Pair: "ETH/USDT", Active: true, LockEnd: now.Add(-time.Minute)}
	inactive := &PairLock{Pair: "ETH/USDT", Active: false, LockEnd: now.Add(time.Hour)}

	assert.False(t, expired.IsActiveAt(now))
	assert.False(t, inactive.IsActiveAt(now))
}

func TestIsPairLocked(t *testing.T) {
	now := time.Now().UTC()
	locks := PairLocks{
		{Pair: "ETH/USDT", Active: true, LockEnd: now.Add(-time.Minute)},
		{Pair: "BTC/USDT", Active: true, LockEnd: now.Add(time.Hour)},
	}

	assert.False(t, locks.IsPairLocked("ETH/USDT", now), "expired lock does not bind")
	assert.True(t, locks.IsPairLocked("BTC/USDT", now))

	locks = append(locks, &PairLock{Pair: WildcardPair, Active: true, LockEnd: now.Add(time.Hour)})
	assert.True(t, locks.IsPairLocked("ETH/USDT", now), "wildcard covers every pair")
}
