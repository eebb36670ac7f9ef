// Package forward dispatches a single normalized request to the upstream on
// behalf of one pooled account.
//
// The forwarder is deliberately narrow: it selects an account, makes sure the
// account's token is fresh, rewrites the path and headers, and performs one
// HTTP exchange. It never retries on another account and never mutates pool
// health state; classification of the response belongs to the caller.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jqwei/codex-relay/internal/account"
	"github.com/jqwei/codex-relay/internal/oauth"
	"github.com/jqwei/codex-relay/internal/store"
)

// DefaultOrigin is the upstream the gateway fronts.
const DefaultOrigin = "https://chatgpt.com"

// Outbound header defaults applied when the caller did not set them.
const (
	defaultUserAgent  = "codex_cli_rs/0.98.0"
	defaultOpenAIBeta = "responses=experimental"
	defaultOriginator = "codex_cli_rs"
)

// upstreamPrefix is the path namespace the upstream actually serves.
const upstreamPrefix = "/backend-api/codex"

// Request is a normalized inbound request ready for dispatch.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte

	// Descriptive fields carried through for accounting.
	Format string
	Model  string
}

// Meta describes a dispatched request for downstream accounting. It is
// immutable once returned.
type Meta struct {
	AccountID    string
	AccountEmail string
	Format       string
	Model        string
	StartedAt    time.Time
}

// Forwarder dispatches requests for pool accounts.
type Forwarder struct {
	pool      *account.Pool
	refresher oauth.Refresher
	accounts  store.Store
	client    *http.Client
	origin    string
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithOrigin overrides the upstream origin. Used in tests.
func WithOrigin(origin string) Option {
	return func(f *Forwarder) {
		f.origin = strings.TrimSuffix(origin, "/")
	}
}

// WithClient overrides the HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Forwarder) {
		f.client = c
	}
}

// New creates a Forwarder over the given pool, refresher, and credential
// store. The default client has a 10 minute end-to-end timeout to bound
// stuck upstream connections without cutting long streams short.
func New(pool *account.Pool, refresher oauth.Refresher, accounts store.Store, opts ...Option) *Forwarder {
	f := &Forwarder{
		pool:      pool,
		refresher: refresher,
		accounts:  accounts,
		origin:    DefaultOrigin,
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward selects one account and performs the upstream exchange.
//
// Exactly one account serves the request; on upstream failure the error or
// status is reported back unchanged and the next request simply avoids the
// account once the caller has recorded the failure. The response body is not
// read here.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*http.Response, Meta, error) {
	now := time.Now()

	acct, err := f.pool.Next(now)
	if err != nil {
		return nil, Meta{}, ErrNoAvailableAccount
	}

	meta := Meta{
		AccountID:    acct.ID,
		AccountEmail: acct.Email,
		Format:       req.Format,
		Model:        req.Model,
		StartedAt:    now,
	}

	if acct.NeedsRefresh(now) {
		acct, err = f.refreshAccount(ctx, acct, now)
		if err != nil {
			return nil, meta, &ExecError{Op: "refresh", Err: err}
		}
	}

	upstreamPath, ok := MapPath(req.Path)
	if !ok {
		return nil, meta, &ExecError{Op: "route", Err: fmt.Errorf("path %q not proxied", req.Path)}
	}

	target := f.origin + upstreamPath
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	// The exchange is detached from the caller's context: a client disconnect
	// must not cancel the upstream body read, or usage accounting for the
	// drained stream is lost. The client timeout still bounds the call.
	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, meta, &ExecError{Op: "build", Err: err}
	}

	httpReq.Header = OutboundHeaders(req.Header, acct)

	log.Debug().
		Str("account_id", acct.ID).
		Str("method", req.Method).
		Str("path", upstreamPath).
		Str("format", req.Format).
		Msg("Forwarding request upstream")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, meta, &ExecError{Op: "dispatch", Err: err}
	}

	return resp, meta, nil
}

// refreshAccount refreshes the account's token and persists it to the pool
// and the credential store before dispatch. A stale token is never sent
// upstream.
func (f *Forwarder) refreshAccount(ctx context.Context, acct account.Account, now time.Time) (account.Account, error) {
	if acct.RefreshToken == "" {
		return acct, fmt.Errorf("account %s has no refresh token", acct.ID)
	}

	tok, err := f.refresher.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		return acct, err
	}

	if err := f.pool.UpdateTokens(acct.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt, now); err != nil {
		return acct, err
	}
	if err := store.SaveTokens(ctx, f.accounts, acct.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt, now.Unix()); err != nil {
		// Pool already holds the fresh token; a store write failure must not
		// fail the request.
		log.Error().
			Err(err).
			Str("account_id", acct.ID).
			Msg("Failed to persist refreshed tokens to store")
	}

	acct.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.RefreshToken = tok.RefreshToken
	}
	acct.ExpiresAt = tok.ExpiresAt

	log.Info().
		Str("account_id", acct.ID).
		Time("expires_at", time.Unix(tok.ExpiresAt, 0)).
		Msg("Refreshed account token before dispatch")

	return acct, nil
}

// MapPath translates an inbound path into the upstream namespace.
//
//	/v1/...                -> /backend-api/codex/...
//	/backend-api/codex/... -> unchanged
//
// Anything else is not proxied.
func MapPath(path string) (string, bool) {
	switch {
	case path == "/v1":
		return upstreamPrefix, true
	case strings.HasPrefix(path, "/v1/"):
		return upstreamPrefix + strings.TrimPrefix(path, "/v1"), true
	case path == upstreamPrefix, strings.HasPrefix(path, upstreamPrefix+"/"):
		return path, true
	default:
		return "", false
	}
}
