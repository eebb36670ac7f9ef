package account

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Consecutive unauthorized cooldowns before an account is treated as
// permanently forbidden rather than retried forever.
const unauthorizedForbidThreshold = 3

// Pool manages a set of upstream accounts with health tracking and
// strategy-based selection. All methods are safe for concurrent use.
//
// Lock scope never spans network I/O: Next returns a copy of the selected
// account and callers report outcomes back through RecordUsage,
// RecordSuccess, and RecordFailure.
type Pool struct {
	selector Selector
	accounts []Account
	index    map[string]int
	pinnedID string
	counter  uint64
	mu       sync.RWMutex

	unauthorizedStreak map[string]int
}

// NewPool creates a pool over the given accounts using the named strategy.
// Account order is preserved; duplicate ids keep the first occurrence.
func NewPool(accounts []Account, strategy string) (*Pool, error) {
	selector, err := NewSelector(strategy)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		selector:           selector,
		unauthorizedStreak: make(map[string]int),
	}
	p.setAccountsLocked(accounts)

	log.Info().
		Int("num_accounts", len(p.accounts)).
		Str("strategy", selector.Name()).
		Msg("Created account pool")

	return p, nil
}

// setAccountsLocked replaces the account slice and rebuilds the id index.
// Caller holds the write lock (or the pool is not yet shared).
func (p *Pool) setAccountsLocked(accounts []Account) {
	p.accounts = make([]Account, 0, len(accounts))
	p.index = make(map[string]int, len(accounts))
	for _, a := range accounts {
		if _, dup := p.index[a.ID]; dup {
			continue
		}
		p.index[a.ID] = len(p.accounts)
		p.accounts = append(p.accounts, a)
	}
}

// Next selects an account for the next request and bumps the request counter.
// The returned Account is a copy; mutations go through the Record methods.
// Returns ErrNoAvailableAccount when nothing can serve at now.
func (p *Pool) Next(now time.Time) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.selector.Select(p.accounts, now)
	if err != nil {
		log.Warn().
			Str("strategy", p.selector.Name()).
			Int("num_accounts", len(p.accounts)).
			Msg("No available account in pool")
		return Account{}, err
	}

	p.counter++
	acct := p.accounts[idx]

	log.Debug().
		Str("account_id", acct.ID).
		Str("email", acct.Email).
		Str("strategy", p.selector.Name()).
		Msg("Selected account from pool")

	return acct, nil
}

// RecordUsage credits a completed request's token total to the account.
func (p *Pool) RecordUsage(id string, tokens int64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.index[id]
	if !ok {
		return
	}
	p.accounts[idx].AddUsage(tokens, now)
}

// RecordSuccess clears transient failure state after a successful upstream
// response. A forbidden account stays forbidden.
func (p *Pool) RecordSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.index[id]
	if !ok {
		return
	}
	a := &p.accounts[idx]
	a.Active = true
	a.CooldownUntil = 0
	a.UnavailableReason = ""
	a.LastErrorStatus = 0
	delete(p.unauthorizedStreak, id)
}

// RecordFailure classifies an upstream failure status against the account.
//
//	401          -> 30 minute cooldown, reason "unauthorized"
//	402, 403     -> permanently forbidden, reason "payment_required"
//	429          -> 5 minute cooldown, reason "quota"
//	anything else -> transient, clears cooldown state
//
// Repeated 401s escalate: after three consecutive unauthorized cooldowns the
// account is forbidden within the pool. Returns true only for 402/403 so the
// caller can propagate the payment flag to the credential store.
func (p *Pool) RecordFailure(id string, status int, now time.Time) (forbidden bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.index[id]
	if !ok {
		return false
	}
	a := &p.accounts[idx]
	a.LastErrorStatus = status

	switch status {
	case 401:
		p.unauthorizedStreak[id]++
		if p.unauthorizedStreak[id] >= unauthorizedForbidThreshold {
			// Pool-local forbid; store propagation stays 402/403-only.
			a.Forbidden = true
			a.UnavailableReason = ReasonUnauthorized
		} else {
			a.CooldownUntil = now.Unix() + unauthorizedCooldownSecs
			a.UnavailableReason = ReasonUnauthorized
		}
	case 402, 403:
		a.Forbidden = true
		a.UnavailableReason = ReasonPaymentRequired
		forbidden = true
	case 429:
		a.CooldownUntil = now.Unix() + quotaCooldownSecs
		a.UnavailableReason = ReasonQuota
	default:
		a.CooldownUntil = 0
		a.UnavailableReason = ""
	}

	log.Warn().
		Str("account_id", id).
		Int("status", status).
		Str("reason", a.UnavailableReason).
		Bool("forbidden", a.Forbidden).
		Msg("Recorded account failure")

	return forbidden
}

// UpdateTokens installs freshly refreshed credentials on the account.
// An empty refresh token keeps the existing one (no rotation).
func (p *Pool) UpdateTokens(id, accessToken, refreshToken string, expiresAt int64, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.index[id]
	if !ok {
		return ErrAccountNotFound
	}
	a := &p.accounts[idx]
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.ExpiresAt = expiresAt
	a.LastRefresh = now.Unix()
	return nil
}

// ReplaceAll rebuilds the pool from the credential store's view of the
// accounts. Runtime state that only the pool knows survives for ids that
// persist: usage counters, last error status, the newest LastUsed, the
// forbidden flag, and cooldowns whose reason is account-level. Transient
// cooldowns drop so a store refresh doubles as a reset.
func (p *Pool) ReplaceAll(accounts []Account) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.accounts
	prevIndex := p.index
	p.setAccountsLocked(accounts)

	for id, oldIdx := range prevIndex {
		newIdx, ok := p.index[id]
		if !ok {
			delete(p.unauthorizedStreak, id)
			continue
		}
		old := prev[oldIdx]
		a := &p.accounts[newIdx]

		a.UsedQuota = old.UsedQuota
		a.TotalTokensUsed = old.TotalTokensUsed
		a.LastErrorStatus = old.LastErrorStatus
		if old.LastUsed > a.LastUsed {
			a.LastUsed = old.LastUsed
		}
		if old.Forbidden {
			a.Forbidden = true
		}
		switch old.UnavailableReason {
		case ReasonUnauthorized, ReasonPaymentRequired, ReasonQuota:
			a.CooldownUntil = old.CooldownUntil
			a.UnavailableReason = old.UnavailableReason
		}
	}

	for id := range p.unauthorizedStreak {
		if _, ok := p.index[id]; !ok {
			delete(p.unauthorizedStreak, id)
		}
	}

	log.Info().
		Int("num_accounts", len(p.accounts)).
		Msg("Rebuilt account pool from store")
}

// SetStrategy switches the selection strategy. The single strategy keeps the
// current pinned account id.
func (p *Pool) SetStrategy(strategy string) error {
	selector, err := NewSelector(strategy)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := selector.(*SingleSelector); ok {
		s.SetPinned(p.pinnedID)
	}
	p.selector = selector
	return nil
}

// SetPinned pins the account used by the single strategy.
func (p *Pool) SetPinned(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pinnedID = id
	if s, ok := p.selector.(*SingleSelector); ok {
		s.SetPinned(id)
	}
}

// Strategy returns the active strategy name.
func (p *Pool) Strategy() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selector.Name()
}

// Get returns a copy of the account with the given id.
func (p *Pool) Get(id string) (Account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx, ok := p.index[id]
	if !ok {
		return Account{}, false
	}
	return p.accounts[idx], true
}

// Accounts returns a copy of all pooled accounts in pool order.
func (p *Pool) Accounts() []Account {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// HasAvailable reports whether any account can serve at now.
func (p *Pool) HasAvailable(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return lo.SomeBy(p.accounts, func(a Account) bool {
		return a.IsAvailable(now)
	})
}
