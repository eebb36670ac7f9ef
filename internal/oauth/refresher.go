// Package oauth refreshes upstream access tokens for pooled accounts.
package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Upstream OAuth defaults. The client id is the public one used by the CLI
// the upstream ships; there is no client secret.
const (
	DefaultTokenURL = "https://auth.openai.com/oauth/token"
	DefaultClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
)

// Token is the result of a successful refresh.
type Token struct {
	AccessToken  string
	RefreshToken string // empty when the server did not rotate it
	IDToken      string
	ExpiresAt    int64 // unix seconds
}

// Refresher exchanges a refresh token for fresh credentials.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// PermanentError wraps refresh failures that re-authentication alone can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("oauth: permanent refresh failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// ClientRefresher is a Refresher backed by golang.org/x/oauth2.
type ClientRefresher struct {
	config *oauth2.Config
}

// NewRefresher creates a refresher against the given token endpoint. Empty
// arguments fall back to the upstream defaults.
func NewRefresher(tokenURL, clientID string) *ClientRefresher {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	return &ClientRefresher{
		config: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Refresh exchanges the refresh token. Rotated refresh tokens are returned so
// the caller can persist them; failures that re-authentication alone can fix
// come back wrapped in PermanentError.
func (r *ClientRefresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	source := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	newToken, err := source.Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			return Token{}, &PermanentError{Err: err}
		}
		return Token{}, fmt.Errorf("oauth: refresh: %w", err)
	}

	tok := Token{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry.Unix(),
	}
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		tok.RefreshToken = newToken.RefreshToken
		log.Debug().Msg("Refresh token rotated by upstream")
	}
	if idToken, ok := newToken.Extra("id_token").(string); ok {
		tok.IDToken = idToken
	}

	log.Debug().
		Time("expires_at", time.Unix(tok.ExpiresAt, 0)).
		Msg("Refreshed access token")

	return tok, nil
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
