// Package store provides access to the credential store that owns the pooled
// account records. The gateway reads accounts from the store at startup and
// on demand, and writes back two kinds of changes: refreshed tokens and
// permanent forbids.
package store

import (
	"context"
	"errors"

	"github.com/jqwei/codex-relay/internal/account"
	"github.com/samber/mo"
)

// ErrAccountNotFound is returned when an account id is not in the store.
var ErrAccountNotFound = errors.New("store: account not found")

// Source is the persisted shape of one account record.
type Source struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`

	UpstreamAccountID string `json:"upstream_account_id"`
	UpstreamUserID    string `json:"upstream_user_id,omitempty"`
	OrganizationID    string `json:"organization_id,omitempty"`

	Active    bool `json:"is_active"`
	Forbidden bool `json:"is_forbidden"`

	LastUsed    int64 `json:"last_used,omitempty"`
	LastRefresh int64 `json:"last_refresh,omitempty"`

	ShortWindowUsedPct    *float64 `json:"short_window_used_percent,omitempty"`
	LongWindowUsedPct     *float64 `json:"long_window_used_percent,omitempty"`
	PlanType              string   `json:"plan_type,omitempty"`
	SubscriptionExpiresAt *int64   `json:"subscription_expires_at,omitempty"`

	Tag      string `json:"tag,omitempty"`
	TagColor string `json:"tag_color,omitempty"`
}

// Account converts the persisted record into a pool account.
func (s Source) Account() account.Account {
	a := account.Account{
		ID:                s.ID,
		Email:             s.Email,
		AccessToken:       s.AccessToken,
		RefreshToken:      s.RefreshToken,
		IDToken:           s.IDToken,
		ExpiresAt:         s.ExpiresAt,
		UpstreamAccountID: s.UpstreamAccountID,
		UpstreamUserID:    s.UpstreamUserID,
		OrganizationID:    s.OrganizationID,
		Active:            s.Active,
		Forbidden:         s.Forbidden,
		LastUsed:          s.LastUsed,
		LastRefresh:       s.LastRefresh,
		PlanType:          s.PlanType,
		Tag:               s.Tag,
		TagColor:          s.TagColor,
	}
	if s.ShortWindowUsedPct != nil {
		a.ShortWindowUsedPct = mo.Some(*s.ShortWindowUsedPct)
	}
	if s.LongWindowUsedPct != nil {
		a.LongWindowUsedPct = mo.Some(*s.LongWindowUsedPct)
	}
	if s.SubscriptionExpiresAt != nil {
		a.SubscriptionExpiresAt = mo.Some(*s.SubscriptionExpiresAt)
	}
	return a
}

// Store is the credential store consumed by the gateway.
type Store interface {
	// ListAccounts returns every persisted account.
	ListAccounts(ctx context.Context) ([]Source, error)

	// GetAccount returns the account with the given id, or ErrAccountNotFound.
	GetAccount(ctx context.Context, id string) (Source, error)

	// UpdateAccount persists the given record, matched by id.
	UpdateAccount(ctx context.Context, src Source) error
}

// MarkForbidden flags the account as forbidden in the store. Used when the
// upstream rejects an account with a payment failure.
func MarkForbidden(ctx context.Context, s Store, id string) error {
	src, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	src.Forbidden = true
	src.Active = false
	return s.UpdateAccount(ctx, src)
}

// SaveTokens writes refreshed credentials back to the store. An empty refresh
// token keeps the stored one.
func SaveTokens(ctx context.Context, s Store, id, accessToken, refreshToken string, expiresAt, refreshedAt int64) error {
	src, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	src.AccessToken = accessToken
	if refreshToken != "" {
		src.RefreshToken = refreshToken
	}
	src.ExpiresAt = expiresAt
	src.LastRefresh = refreshedAt
	return s.UpdateAccount(ctx, src)
}

// Accounts converts a slice of persisted records into pool accounts.
func Accounts(sources []Source) []account.Account {
	out := make([]account.Account, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Account())
	}
	return out
}
