package account

import "time"

// SingleSelector always prefers one pinned account, falling back to the
// first available account when the pinned one cannot serve. Pool guards
// SetPinned with its own lock.
type SingleSelector struct {
	pinnedID string
}

// NewSingleSelector creates a single-account selector pinned to the given
// account id. An empty id means no pin; the first available account wins.
func NewSingleSelector(pinnedID string) *SingleSelector {
	return &SingleSelector{pinnedID: pinnedID}
}

// SetPinned changes the pinned account id.
func (s *SingleSelector) SetPinned(id string) {
	s.pinnedID = id
}

// Select returns the pinned account if available, otherwise the first
// available account in pool order.
func (s *SingleSelector) Select(accounts []Account, now time.Time) (int, error) {
	if s.pinnedID != "" {
		for i := range accounts {
			if accounts[i].ID == s.pinnedID && accounts[i].IsAvailable(now) {
				return i, nil
			}
		}
	}

	for i := range accounts {
		if accounts[i].IsAvailable(now) {
			return i, nil
		}
	}

	return -1, ErrNoAvailableAccount
}

// Name returns the strategy name.
func (s *SingleSelector) Name() string {
	return StrategySingle
}
