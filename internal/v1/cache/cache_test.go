package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/artifactor-hq/collab-core/internal/v1/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) (*kv.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := kv.NewStore(mr.Addr(), "")
	require.NoError(t, err)
	return store, mr
}

func TestCacheSetGetMemoryOnly(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	ctx := context.Background()

	c.Set(ctx, "k1", json.RawMessage(`"v1"`), 0)

	v, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.JSONEq(t, `"v1"`, string(v))
}

func TestCacheGetMissingReturnsFalse(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestCacheExpiredEntryTreatedAsAbsent(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	ctx := context.Background()
	c.Set(ctx, "k1", json.RawMessage(`"v1"`), time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestCacheEvictsLRUWhenOverCapacity(t *testing.T) {
	c := New(12, time.Minute, 0, nil) // 12 bytes capacity: room for two 6-byte values
	ctx := context.Background()

	c.Set(ctx, "a", json.RawMessage(`"1234"`), 0)
	c.Set(ctx, "b", json.RawMessage(`"5678"`), 0)

	_, ok := c.Get(ctx, "a")
	require.True(t, ok) // touch a so it's most-recently-used

	c.Set(ctx, "c", json.RawMessage(`"9999"`), 0) // should evict b, not a

	_, aOK := c.Get(ctx, "a")
	_, bOK := c.Get(ctx, "b")
	_, cOK := c.Get(ctx, "c")
	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestCacheMemoryUsageTracksResidentBytes(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	ctx := context.Background()

	c.Set(ctx, "a", json.RawMessage(`"1234"`), 0)
	assert.Equal(t, int64(6), c.MemoryUsage())

	c.Delete(ctx, "a")
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestCacheDeleteByTagRemovesAllTagged(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	ctx := context.Background()

	c.Set(ctx, "a", json.RawMessage(`"1"`), 0, "group1")
	c.Set(ctx, "b", json.RawMessage(`"2"`), 0, "group1")
	c.Set(ctx, "c", json.RawMessage(`"3"`), 0, "group2")

	removed := c.DeleteByTag(ctx, "group1")
	assert.Equal(t, 2, removed)

	_, aOK := c.Get(ctx, "a")
	_, bOK := c.Get(ctx, "b")
	_, cOK := c.Get(ctx, "c")
	assert.False(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestCacheGetOrSetComputesOnMiss(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	ctx := context.Background()
	calls := 0

	factory := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`"computed"`), nil
	}

	v1, err := c.GetOrSet(ctx, "k", factory, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `"computed"`, string(v1))

	v2, err := c.GetOrSet(ctx, "k", factory, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `"computed"`, string(v2))
	assert.Equal(t, 1, calls)
}

func TestCacheGetOrSetPropagatesFactoryError(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	wantErr := errors.New("boom")
	_, err := c.GetOrSet(context.Background(), "k", func(context.Context) (json.RawMessage, error) {
		return nil, wantErr
	}, 0)
	assert.ErrorIs(t, err, wantErr)
}

func TestCacheTier2RoundTripAndPromotion(t *testing.T) {
	store, mr := newTestKV(t)
	defer mr.Close()
	defer store.Close()

	c := New(1<<20, time.Minute, time.Hour, store)
	ctx := context.Background()

	c.Set(ctx, "k1", json.RawMessage(`"v1"`), time.Minute)

	// Simulate Tier 1 eviction, confirm Tier 2 still serves it.
	c.Delete(ctx, "")   // no-op, sanity
	c.mu.Lock()
	el := c.entries["k1"]
	c.removeLocked(el)
	c.mu.Unlock()

	_, okTier1 := c.getTier1("k1")
	require.False(t, okTier1)

	v, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.JSONEq(t, `"v1"`, string(v))

	// Promoted back into tier 1.
	v2, ok := c.getTier1("k1")
	require.True(t, ok)
	assert.JSONEq(t, `"v1"`, string(v2))
}

func TestCacheDeleteByTagTier2(t *testing.T) {
	store, mr := newTestKV(t)
	defer mr.Close()
	defer store.Close()

	c := New(1<<20, time.Minute, time.Hour, store)
	ctx := context.Background()

	c.Set(ctx, "a", json.RawMessage(`"1"`), time.Minute, "grp")
	c.Set(ctx, "b", json.RawMessage(`"2"`), time.Minute, "grp")

	removed := c.DeleteByTag(ctx, "grp")
	assert.Equal(t, 2, removed)

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestCacheWarmPeriodicallyRefreshesValue(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n int
	factory := func(context.Context) (json.RawMessage, error) {
		n++
		data, _ := json.Marshal(n)
		return data, nil
	}

	// cron's @every schedule has one-second granularity, so the second
	// refresh lands within two seconds of the call.
	c.WarmPeriodically(ctx, "k", factory, time.Minute, time.Second)
	defer c.StopWarming("k")

	require.Eventually(t, func() bool {
		v, ok := c.Get(ctx, "k")
		if !ok {
			return false
		}
		var got int
		_ = json.Unmarshal(v, &got)
		return got >= 2
	}, 3*time.Second, 5*time.Millisecond)
}

func TestCacheClearEmptiesTier1(t *testing.T) {
	c := New(1<<20, time.Minute, 0, nil)
	ctx := context.Background()
	c.Set(ctx, "a", json.RawMessage(`"1"`), 0)
	c.Clear()

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.MemoryUsage())
}
