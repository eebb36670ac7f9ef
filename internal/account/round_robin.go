package account

import (
	"sync/atomic"
	"time"
)

// RoundRobinSelector cycles through accounts in order, skipping unavailable
// ones. Uses an atomic cursor for thread-safe operation without mutex
// overhead.
type RoundRobinSelector struct {
	cursor uint64
}

// NewRoundRobinSelector creates a new round-robin selector.
func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

// Select picks the next available account in round-robin order.
// Returns ErrNoAvailableAccount after a full loop finds nothing usable.
func (s *RoundRobinSelector) Select(accounts []Account, now time.Time) (int, error) {
	if len(accounts) == 0 {
		return -1, ErrNoAvailableAccount
	}

	next := atomic.AddUint64(&s.cursor, 1) - 1
	start := int(next % uint64(len(accounts)))

	for i := 0; i < len(accounts); i++ {
		idx := (start + i) % len(accounts)
		if accounts[idx].IsAvailable(now) {
			return idx, nil
		}
	}

	return -1, ErrNoAvailableAccount
}

// Name returns the strategy name.
func (s *RoundRobinSelector) Name() string {
	return StrategyRoundRobin
}
