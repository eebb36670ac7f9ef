package account

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Unix(1_760_000_000, 0).UTC()

func testAccount(id string) Account {
	return Account{
		ID:                id,
		Email:             id + "@example.com",
		AccessToken:       "at-" + id,
		RefreshToken:      "rt-" + id,
		ExpiresAt:         testNow.Unix() + 3600,
		UpstreamAccountID: "up-" + id,
		Active:            true,
	}
}

func TestAccountAvailability(t *testing.T) {
	t.Run("available when active with valid token", func(t *testing.T) {
		a := testAccount("a")
		assert.True(t, a.IsAvailable(testNow))
	})

	t.Run("unavailable when inactive", func(t *testing.T) {
		a := testAccount("a")
		a.Active = false
		assert.False(t, a.IsAvailable(testNow))
	})

	t.Run("unavailable when forbidden", func(t *testing.T) {
		a := testAccount("a")
		a.Forbidden = true
		assert.False(t, a.IsAvailable(testNow))
	})

	t.Run("unavailable when token expired", func(t *testing.T) {
		a := testAccount("a")
		a.ExpiresAt = testNow.Unix()
		assert.True(t, a.IsExpired(testNow))
		assert.False(t, a.IsAvailable(testNow))
	})

	t.Run("unavailable during cooldown", func(t *testing.T) {
		a := testAccount("a")
		a.CooldownUntil = testNow.Unix() + 60
		assert.True(t, a.InCooldown(testNow))
		assert.False(t, a.IsAvailable(testNow))
	})

	t.Run("available again once cooldown passes", func(t *testing.T) {
		a := testAccount("a")
		a.CooldownUntil = testNow.Unix() + 60
		later := testNow.Add(61 * time.Second)
		assert.True(t, a.IsAvailable(later))
	})
}

func TestAccountNeedsRefresh(t *testing.T) {
	t.Run("fresh token does not need refresh", func(t *testing.T) {
		a := testAccount("a")
		assert.False(t, a.NeedsRefresh(testNow))
	})

	t.Run("token inside refresh window needs refresh", func(t *testing.T) {
		a := testAccount("a")
		a.ExpiresAt = testNow.Unix() + 299
		assert.True(t, a.NeedsRefresh(testNow))
	})

	t.Run("expired token needs refresh", func(t *testing.T) {
		a := testAccount("a")
		a.ExpiresAt = testNow.Unix() - 10
		assert.True(t, a.NeedsRefresh(testNow))
	})
}

func TestAccountScore(t *testing.T) {
	t.Run("unknown windows use defaults", func(t *testing.T) {
		a := testAccount("a")
		// 20 (short default) + 8 (long default) + 0 (no subscription) + 5 (never used)
		assert.InDelta(t, 33, a.Score(testNow), 0.001)
	})

	t.Run("empty quota windows score highest", func(t *testing.T) {
		a := testAccount("a")
		a.ShortWindowUsedPct = mo.Some(0.0)
		a.LongWindowUsedPct = mo.Some(0.0)
		// 40 + 15 + 0 + 5
		assert.InDelta(t, 60, a.Score(testNow), 0.001)
	})

	t.Run("full quota windows score zero for quota", func(t *testing.T) {
		a := testAccount("a")
		a.ShortWindowUsedPct = mo.Some(100.0)
		a.LongWindowUsedPct = mo.Some(100.0)
		assert.InDelta(t, 5, a.Score(testNow), 0.001)
	})

	t.Run("lapsing subscription boosts score", func(t *testing.T) {
		a := testAccount("a")
		b := testAccount("b")
		a.SubscriptionExpiresAt = mo.Some(testNow.Unix() + 2*86400)
		b.SubscriptionExpiresAt = mo.Some(testNow.Unix() + 60*86400)
		assert.Greater(t, a.Score(testNow), b.Score(testNow))
	})

	t.Run("subscription tiers step down with days left", func(t *testing.T) {
		days := func(d int64) float64 {
			a := testAccount("a")
			a.SubscriptionExpiresAt = mo.Some(testNow.Unix() + d*86400)
			return a.subscriptionScore(testNow)
		}
		assert.Equal(t, 40.0, days(0))
		assert.Equal(t, 38.0, days(2))
		assert.Equal(t, 30.0, days(5))
		assert.Equal(t, 18.0, days(10))
		assert.Equal(t, 8.0, days(20))
		assert.Equal(t, 0.0, days(45))
	})

	t.Run("idle accounts score above recently used ones", func(t *testing.T) {
		idle := testAccount("a")
		busy := testAccount("b")
		idle.LastUsed = testNow.Unix() - 3600
		busy.LastUsed = testNow.Unix() - 5
		assert.Greater(t, idle.Score(testNow), busy.Score(testNow))
	})
}

func TestAddUsage(t *testing.T) {
	a := testAccount("a")
	a.AddUsage(1200, testNow)
	a.AddUsage(800, testNow.Add(time.Minute))

	assert.Equal(t, int64(2000), a.UsedQuota)
	assert.Equal(t, int64(2000), a.TotalTokensUsed)
	assert.Equal(t, testNow.Add(time.Minute).Unix(), a.LastUsed)
}
