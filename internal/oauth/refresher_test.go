package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh(t *testing.T) {
	t.Run("exchanges refresh token for credentials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "rt-old", r.Form.Get("refresh_token"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"access_token": "at-new",
				"refresh_token": "rt-new",
				"id_token": "idt-new",
				"token_type": "Bearer",
				"expires_in": 3600
			}`))
		}))
		defer srv.Close()

		r := NewRefresher(srv.URL, "client-id")
		tok, err := r.Refresh(context.Background(), "rt-old")
		require.NoError(t, err)

		assert.Equal(t, "at-new", tok.AccessToken)
		assert.Equal(t, "rt-new", tok.RefreshToken)
		assert.Equal(t, "idt-new", tok.IDToken)
		assert.Greater(t, tok.ExpiresAt, int64(0))
	})

	t.Run("unrotated refresh token comes back empty", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"access_token": "at-new",
				"refresh_token": "rt-old",
				"token_type": "Bearer",
				"expires_in": 3600
			}`))
		}))
		defer srv.Close()

		r := NewRefresher(srv.URL, "client-id")
		tok, err := r.Refresh(context.Background(), "rt-old")
		require.NoError(t, err)
		assert.Empty(t, tok.RefreshToken)
	})

	t.Run("invalid_grant is a permanent failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
		}))
		defer srv.Close()

		r := NewRefresher(srv.URL, "client-id")
		_, err := r.Refresh(context.Background(), "rt-revoked")
		require.Error(t, err)

		var perm *PermanentError
		assert.True(t, errors.As(err, &perm))
	})

	t.Run("server error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		r := NewRefresher(srv.URL, "client-id")
		_, err := r.Refresh(context.Background(), "rt-old")
		require.Error(t, err)

		var perm *PermanentError
		assert.False(t, errors.As(err, &perm))
	})
}
