package account

import "time"

// PoolStatus is a point-in-time aggregate view of the pool, served on the
// status endpoint and the management surface.
type PoolStatus struct {
	Strategy        string `json:"strategy"`
	TotalAccounts   int    `json:"total_accounts"`
	ActiveAccounts  int    `json:"active_accounts"`
	ExpiredAccounts int    `json:"expired_accounts"`
	CoolingAccounts int    `json:"cooling_accounts"`
	Unauthorized    int    `json:"unauthorized_accounts"`
	PaymentRequired int    `json:"payment_required_accounts"`
	RequestCount    uint64 `json:"total_requests_today"`
	TotalTokensUsed int64  `json:"total_tokens_used"`
	PinnedEmail     string `json:"selected_account_email,omitempty"`
}

// Status aggregates the pool state at now.
func (p *Pool) Status(now time.Time) PoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := PoolStatus{
		Strategy:      p.selector.Name(),
		TotalAccounts: len(p.accounts),
		RequestCount:  p.counter,
	}

	for i := range p.accounts {
		a := &p.accounts[i]
		st.TotalTokensUsed += a.TotalTokensUsed

		switch {
		case a.IsExpired(now):
			st.ExpiredAccounts++
		case a.InCooldown(now):
			st.CoolingAccounts++
		default:
			st.ActiveAccounts++
		}

		switch a.UnavailableReason {
		case ReasonUnauthorized:
			st.Unauthorized++
		case ReasonPaymentRequired:
			st.PaymentRequired++
		}
	}

	if p.selector.Name() == StrategySingle && p.pinnedID != "" {
		if idx, ok := p.index[p.pinnedID]; ok {
			st.PinnedEmail = p.accounts[idx].Email
		}
	}

	return st
}
