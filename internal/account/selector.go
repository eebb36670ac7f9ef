package account

import (
	"errors"
	"fmt"
	"time"
)

// Selector defines the interface for account selection strategies.
// Implementations choose which account serves the next request.
type Selector interface {
	// Select chooses an account index from the candidates.
	// Returns ErrNoAvailableAccount if nothing can serve at now.
	Select(accounts []Account, now time.Time) (int, error)

	// Name returns the strategy name for logging and configuration.
	Name() string
}

// Common errors returned by selectors and Pool.
var (
	ErrNoAvailableAccount = errors.New("account: no available account")
	ErrAccountNotFound    = errors.New("account: account not found")
)

// Strategy constants for configuration.
const (
	StrategyRoundRobin = "round_robin"
	StrategySingle     = "single"
	StrategySmart      = "smart"
)

// NewSelector returns a Selector implementation for the given strategy name.
// An empty strategy defaults to StrategyRoundRobin. Unknown names are an
// error.
func NewSelector(strategy string) (Selector, error) {
	switch strategy {
	case StrategyRoundRobin, "":
		return NewRoundRobinSelector(), nil
	case StrategySingle:
		return NewSingleSelector(""), nil
	case StrategySmart:
		return NewSmartSelector(), nil
	default:
		return nil, fmt.Errorf("account: unknown strategy %q", strategy)
	}
}

// ValidStrategy reports whether name is a recognized strategy.
func ValidStrategy(name string) bool {
	switch name {
	case StrategyRoundRobin, StrategySingle, StrategySmart, "":
		return true
	}
	return false
}
