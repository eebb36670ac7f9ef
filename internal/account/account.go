// Package account provides OAuth account pooling and selection for upstream
// request distribution.
//
// The account package holds the credential metadata for every pooled account
// and tracks its health: token expiry, cooldown windows set after upstream
// failures, permanent forbids, and usage counters. A Pool selects one account
// per request using a configurable strategy.
//
// Example usage:
//
//	pool := account.NewPool(accts, account.StrategyRoundRobin)
//	acct, err := pool.Next(time.Now())
//	if err == nil {
//	    // Dispatch using acct.AccessToken
//	}
package account

import (
	"time"

	"github.com/samber/mo"
)

// Unavailability reasons recorded on an account after a classified failure.
// Only these reasons survive a pool rebuild from the credential store.
const (
	ReasonUnauthorized    = "unauthorized"
	ReasonPaymentRequired = "payment_required"
	ReasonQuota           = "quota"
)

// Cooldown and refresh windows in seconds.
const (
	unauthorizedCooldownSecs = 1800
	quotaCooldownSecs        = 300
	refreshWindowSecs        = 300
)

// Account is the pooled credential record for a single upstream account.
// Accounts are plain values; all mutation happens inside Pool under its lock,
// and Pool hands out copies.
type Account struct {
	ID           string
	Email        string
	AccessToken  string
	RefreshToken string
	IDToken      string

	// Unix seconds. ExpiresAt is the access token expiry.
	ExpiresAt     int64
	LastUsed      int64 // 0 = never used
	LastRefresh   int64
	CooldownUntil int64

	// Upstream identity attached to outbound requests.
	UpstreamAccountID string
	UpstreamUserID    string
	OrganizationID    string

	Active    bool
	Forbidden bool

	// Failure bookkeeping.
	LastErrorStatus   int
	UnavailableReason string

	// Usage counters, process lifetime.
	UsedQuota       int64
	TotalTokensUsed int64

	// Quota window fill percentages reported by the upstream, when known.
	ShortWindowUsedPct mo.Option[float64]
	LongWindowUsedPct  mo.Option[float64]

	PlanType              string
	SubscriptionExpiresAt mo.Option[int64]

	Tag      string
	TagColor string
}

// IsExpired reports whether the access token has expired at now.
func (a *Account) IsExpired(now time.Time) bool {
	return a.ExpiresAt <= now.Unix()
}

// InCooldown reports whether the account is cooling down at now.
func (a *Account) InCooldown(now time.Time) bool {
	return a.CooldownUntil > now.Unix()
}

// NeedsRefresh reports whether the access token is within the refresh window.
// Already-expired tokens need a refresh too.
func (a *Account) NeedsRefresh(now time.Time) bool {
	return a.ExpiresAt-now.Unix() < refreshWindowSecs
}

// IsAvailable reports whether the account can serve a request at now.
func (a *Account) IsAvailable(now time.Time) bool {
	return a.Active && !a.Forbidden && !a.IsExpired(now) && !a.InCooldown(now)
}

// AddUsage records a completed request with the given token total.
func (a *Account) AddUsage(tokens int64, now time.Time) {
	a.UsedQuota += tokens
	a.TotalTokensUsed += tokens
	a.LastUsed = now.Unix()
}

// Score rates the account 0-100 for the smart strategy. Higher is better.
//
// Weights: short quota window 40, long quota window 15, subscription
// proximity 40, idleness 5. Accounts on lapsing subscriptions score higher so
// their remaining quota is burned before it expires.
func (a *Account) Score(now time.Time) float64 {
	var score float64
	if short, ok := a.ShortWindowUsedPct.Get(); ok {
		score = clampPct(100-short) / 100 * 40
	} else {
		score = 20
	}

	if long, ok := a.LongWindowUsedPct.Get(); ok {
		score += clampPct(100-long) / 100 * 15
	} else {
		score += 8
	}

	score += a.subscriptionScore(now)
	score += a.idleScore(now)
	return score
}

func (a *Account) subscriptionScore(now time.Time) float64 {
	expiry, ok := a.SubscriptionExpiresAt.Get()
	if !ok {
		return 0
	}
	daysLeft := float64(expiry-now.Unix()) / 86400
	switch {
	case daysLeft <= 0:
		return 40
	case daysLeft <= 3:
		return 38
	case daysLeft <= 7:
		return 30
	case daysLeft <= 15:
		return 18
	case daysLeft <= 30:
		return 8
	default:
		return 0
	}
}

func (a *Account) idleScore(now time.Time) float64 {
	if a.LastUsed == 0 {
		return 5
	}
	idle := float64(now.Unix() - a.LastUsed)
	factor := idle / 300
	if factor > 1 {
		factor = 1
	}
	return factor * 5
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
