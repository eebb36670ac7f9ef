package account

import (
	"fmt"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

func newTestPool(t *testing.T, numAccounts int, strategy string) *Pool {
	t.Helper()

	accounts := make([]Account, numAccounts)
	for i := 0; i < numAccounts; i++ {
		accounts[i] = testAccount(fmt.Sprintf("acct-%d", i))
	}

	pool, err := NewPool(accounts, strategy)
	require.NoError(t, err)
	return pool
}

// Tests

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid strategy", func(t *testing.T) {
		pool := newTestPool(t, 3, StrategyRoundRobin)

		assert.Len(t, pool.Accounts(), 3)
		assert.Equal(t, StrategyRoundRobin, pool.Strategy())
	})

	t.Run("empty strategy defaults to round robin", func(t *testing.T) {
		pool := newTestPool(t, 1, "")
		assert.Equal(t, StrategyRoundRobin, pool.Strategy())
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		_, err := NewPool(nil, "fastest")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown strategy")
	})

	t.Run("drops duplicate account ids", func(t *testing.T) {
		a := testAccount("same")
		b := testAccount("same")
		b.Email = "second@example.com"

		pool, err := NewPool([]Account{a, b}, StrategyRoundRobin)
		require.NoError(t, err)

		accts := pool.Accounts()
		require.Len(t, accts, 1)
		assert.Equal(t, "same@example.com", accts[0].Email)
	})
}

func TestRoundRobinSelection(t *testing.T) {
	t.Run("covers every available account within N selections", func(t *testing.T) {
		const n = 5
		pool := newTestPool(t, n, StrategyRoundRobin)

		seen := make(map[string]bool)
		for i := 0; i < n; i++ {
			acct, err := pool.Next(testNow)
			require.NoError(t, err)
			seen[acct.ID] = true
		}
		assert.Len(t, seen, n)
	})

	t.Run("skips unavailable accounts", func(t *testing.T) {
		pool := newTestPool(t, 3, StrategyRoundRobin)
		pool.RecordFailure("acct-1", 429, testNow)

		for i := 0; i < 6; i++ {
			acct, err := pool.Next(testNow)
			require.NoError(t, err)
			assert.NotEqual(t, "acct-1", acct.ID)
		}
	})

	t.Run("errors when every account is unavailable", func(t *testing.T) {
		pool := newTestPool(t, 2, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 429, testNow)
		pool.RecordFailure("acct-1", 429, testNow)

		_, err := pool.Next(testNow)
		assert.ErrorIs(t, err, ErrNoAvailableAccount)
	})
}

func TestSingleSelection(t *testing.T) {
	t.Run("uses pinned account when available", func(t *testing.T) {
		pool := newTestPool(t, 3, StrategySingle)
		pool.SetPinned("acct-2")

		for i := 0; i < 4; i++ {
			acct, err := pool.Next(testNow)
			require.NoError(t, err)
			assert.Equal(t, "acct-2", acct.ID)
		}
	})

	t.Run("falls back to first available when pin is cooling", func(t *testing.T) {
		pool := newTestPool(t, 3, StrategySingle)
		pool.SetPinned("acct-2")
		pool.RecordFailure("acct-2", 429, testNow)

		acct, err := pool.Next(testNow)
		require.NoError(t, err)
		assert.Equal(t, "acct-0", acct.ID)
	})

	t.Run("pin survives a strategy switch", func(t *testing.T) {
		pool := newTestPool(t, 3, StrategyRoundRobin)
		pool.SetPinned("acct-1")
		require.NoError(t, pool.SetStrategy(StrategySingle))

		acct, err := pool.Next(testNow)
		require.NoError(t, err)
		assert.Equal(t, "acct-1", acct.ID)
	})
}

func TestSmartSelection(t *testing.T) {
	t.Run("alternates between equal-score accounts", func(t *testing.T) {
		pool := newTestPool(t, 2, StrategySmart)

		// Identical state, identical scores: selections must alternate.
		first, err := pool.Next(testNow)
		require.NoError(t, err)
		second, err := pool.Next(testNow)
		require.NoError(t, err)
		third, err := pool.Next(testNow)
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, first.ID, third.ID)
	})

	t.Run("pins to remaining account when the other cools down", func(t *testing.T) {
		pool := newTestPool(t, 2, StrategySmart)
		pool.RecordFailure("acct-0", 429, testNow)

		for i := 0; i < 4; i++ {
			acct, err := pool.Next(testNow)
			require.NoError(t, err)
			assert.Equal(t, "acct-1", acct.ID)
		}
	})

	t.Run("clearly better score wins every time", func(t *testing.T) {
		good := testAccount("good")
		good.ShortWindowUsedPct = mo.Some(0.0)
		bad := testAccount("bad")
		bad.ShortWindowUsedPct = mo.Some(95.0)

		pool, err := NewPool([]Account{bad, good}, StrategySmart)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			acct, err := pool.Next(testNow)
			require.NoError(t, err)
			assert.Equal(t, "good", acct.ID)
		}
	})
}

func TestRecordFailure(t *testing.T) {
	t.Run("401 sets a 30 minute unauthorized cooldown", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		forbidden := pool.RecordFailure("acct-0", 401, testNow)

		assert.False(t, forbidden)
		acct, ok := pool.Get("acct-0")
		require.True(t, ok)
		assert.Equal(t, testNow.Unix()+1800, acct.CooldownUntil)
		assert.Equal(t, ReasonUnauthorized, acct.UnavailableReason)
		assert.Equal(t, 401, acct.LastErrorStatus)
		assert.False(t, acct.Forbidden)
	})

	t.Run("429 sets a 5 minute quota cooldown", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 429, testNow)

		acct, _ := pool.Get("acct-0")
		assert.Equal(t, testNow.Unix()+300, acct.CooldownUntil)
		assert.Equal(t, ReasonQuota, acct.UnavailableReason)
	})

	t.Run("403 forbids permanently and reports it", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		forbidden := pool.RecordFailure("acct-0", 403, testNow)

		assert.True(t, forbidden)
		acct, _ := pool.Get("acct-0")
		assert.True(t, acct.Forbidden)
		assert.Equal(t, ReasonPaymentRequired, acct.UnavailableReason)
	})

	t.Run("402 behaves like 403", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		assert.True(t, pool.RecordFailure("acct-0", 402, testNow))
	})

	t.Run("other statuses clear cooldown state", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 429, testNow)
		pool.RecordFailure("acct-0", 500, testNow)

		acct, _ := pool.Get("acct-0")
		assert.Equal(t, int64(0), acct.CooldownUntil)
		assert.Empty(t, acct.UnavailableReason)
		assert.Equal(t, 500, acct.LastErrorStatus)
	})

	t.Run("three consecutive 401s forbid the account", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 401, testNow)
		pool.RecordFailure("acct-0", 401, testNow)
		forbidden := pool.RecordFailure("acct-0", 401, testNow)

		// Escalation stays pool-local, not propagated to the store.
		assert.False(t, forbidden)
		acct, _ := pool.Get("acct-0")
		assert.True(t, acct.Forbidden)
		assert.Equal(t, ReasonUnauthorized, acct.UnavailableReason)
	})

	t.Run("success resets the 401 streak", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 401, testNow)
		pool.RecordFailure("acct-0", 401, testNow)
		pool.RecordSuccess("acct-0")
		pool.RecordFailure("acct-0", 401, testNow)

		acct, _ := pool.Get("acct-0")
		assert.False(t, acct.Forbidden)
	})
}

func TestRecordSuccess(t *testing.T) {
	t.Run("clears transient failure state", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 429, testNow)
		pool.RecordSuccess("acct-0")

		acct, _ := pool.Get("acct-0")
		assert.True(t, acct.IsAvailable(testNow))
		assert.Equal(t, int64(0), acct.CooldownUntil)
		assert.Empty(t, acct.UnavailableReason)
		assert.Equal(t, 0, acct.LastErrorStatus)
	})

	t.Run("never clears forbidden", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 403, testNow)
		pool.RecordSuccess("acct-0")

		acct, _ := pool.Get("acct-0")
		assert.True(t, acct.Forbidden)
		assert.False(t, acct.IsAvailable(testNow))
	})
}

func TestUpdateTokens(t *testing.T) {
	t.Run("installs refreshed credentials", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		newExpiry := testNow.Unix() + 7200

		err := pool.UpdateTokens("acct-0", "at-new", "rt-new", newExpiry, testNow)
		require.NoError(t, err)

		acct, _ := pool.Get("acct-0")
		assert.Equal(t, "at-new", acct.AccessToken)
		assert.Equal(t, "rt-new", acct.RefreshToken)
		assert.Equal(t, newExpiry, acct.ExpiresAt)
		assert.Equal(t, testNow.Unix(), acct.LastRefresh)
	})

	t.Run("empty refresh token keeps the old one", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		err := pool.UpdateTokens("acct-0", "at-new", "", testNow.Unix()+7200, testNow)
		require.NoError(t, err)

		acct, _ := pool.Get("acct-0")
		assert.Equal(t, "rt-acct-0", acct.RefreshToken)
	})

	t.Run("unknown id is an error", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		err := pool.UpdateTokens("nope", "at", "rt", 0, testNow)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestReplaceAll(t *testing.T) {
	t.Run("preserves usage counters for surviving accounts", func(t *testing.T) {
		pool := newTestPool(t, 2, StrategyRoundRobin)
		pool.RecordUsage("acct-0", 5000, testNow)

		pool.ReplaceAll([]Account{testAccount("acct-0"), testAccount("acct-2")})

		acct, ok := pool.Get("acct-0")
		require.True(t, ok)
		assert.Equal(t, int64(5000), acct.UsedQuota)
		assert.Equal(t, int64(5000), acct.TotalTokensUsed)
		assert.Equal(t, testNow.Unix(), acct.LastUsed)

		_, gone := pool.Get("acct-1")
		assert.False(t, gone)
	})

	t.Run("keeps account-level cooldowns", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 429, testNow)

		pool.ReplaceAll([]Account{testAccount("acct-0")})

		acct, _ := pool.Get("acct-0")
		assert.Equal(t, ReasonQuota, acct.UnavailableReason)
		assert.Equal(t, testNow.Unix()+300, acct.CooldownUntil)
	})

	t.Run("keeps forbidden flag", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordFailure("acct-0", 403, testNow)

		pool.ReplaceAll([]Account{testAccount("acct-0")})

		acct, _ := pool.Get("acct-0")
		assert.True(t, acct.Forbidden)
	})

	t.Run("keeps newest last used timestamp", func(t *testing.T) {
		pool := newTestPool(t, 1, StrategyRoundRobin)
		pool.RecordUsage("acct-0", 100, testNow)

		replacement := testAccount("acct-0")
		replacement.LastUsed = testNow.Unix() - 9999
		pool.ReplaceAll([]Account{replacement})

		acct, _ := pool.Get("acct-0")
		assert.Equal(t, testNow.Unix(), acct.LastUsed)
	})
}

func TestPoolStatus(t *testing.T) {
	t.Run("aggregates availability buckets", func(t *testing.T) {
		pool := newTestPool(t, 4, StrategyRoundRobin)
		pool.RecordFailure("acct-1", 429, testNow)

		expired := testAccount("acct-3")
		expired.ExpiresAt = testNow.Unix() - 1
		pool.ReplaceAll([]Account{
			testAccount("acct-0"), testAccount("acct-1"),
			testAccount("acct-2"), expired,
		})

		st := pool.Status(testNow)
		assert.Equal(t, 4, st.TotalAccounts)
		assert.Equal(t, 2, st.ActiveAccounts)
		assert.Equal(t, 1, st.CoolingAccounts)
		assert.Equal(t, 1, st.ExpiredAccounts)
	})

	t.Run("counts requests and tokens", func(t *testing.T) {
		pool := newTestPool(t, 2, StrategyRoundRobin)
		_, _ = pool.Next(testNow)
		_, _ = pool.Next(testNow)
		pool.RecordUsage("acct-0", 1500, testNow)

		st := pool.Status(testNow)
		assert.Equal(t, uint64(2), st.RequestCount)
		assert.Equal(t, int64(1500), st.TotalTokensUsed)
	})

	t.Run("reports pinned email under single strategy", func(t *testing.T) {
		pool := newTestPool(t, 2, StrategySingle)
		pool.SetPinned("acct-1")

		st := pool.Status(testNow)
		assert.Equal(t, "acct-1@example.com", st.PinnedEmail)
	})
}
