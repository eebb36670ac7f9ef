package account

import (
	"sync/atomic"
	"time"
)

// Tie tolerance for the smart strategy. Accounts scoring within this distance
// of the best candidate rotate instead of the top scorer being hammered.
const smartTieTolerance = 1.0

// SmartSelector scores every available account and picks from the tie tier of
// near-best candidates in round-robin order. Scoring favors accounts with
// quota headroom, lapsing subscriptions, and long idle times.
type SmartSelector struct {
	cursor uint64
}

// NewSmartSelector creates a new smart selector.
func NewSmartSelector() *SmartSelector {
	return &SmartSelector{}
}

// Select scores the available accounts and returns one from the tie tier.
// Returns ErrNoAvailableAccount when nothing can serve.
func (s *SmartSelector) Select(accounts []Account, now time.Time) (int, error) {
	type scored struct {
		idx   int
		score float64
	}

	candidates := make([]scored, 0, len(accounts))
	best := -1.0
	for i := range accounts {
		if !accounts[i].IsAvailable(now) {
			continue
		}
		sc := accounts[i].Score(now)
		candidates = append(candidates, scored{idx: i, score: sc})
		if sc > best {
			best = sc
		}
	}
	if len(candidates) == 0 {
		return -1, ErrNoAvailableAccount
	}

	tier := candidates[:0]
	for _, c := range candidates {
		if best-c.score < smartTieTolerance {
			tier = append(tier, c)
		}
	}

	next := atomic.AddUint64(&s.cursor, 1) - 1
	return tier[int(next%uint64(len(tier)))].idx, nil
}

// Name returns the strategy name.
func (s *SmartSelector) Name() string {
	return StrategySmart
}
