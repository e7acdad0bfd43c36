package tome

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCacheReadThrough(t *testing.T) {
	cache := NewQueryCache()
	key := NewQueryKey("books.search", "q=go", "limit=5")

	fetchCount := 0
	fetch := func(ctx context.Context) (any, error) {
		fetchCount += 1
		return []string{"the go programming language"}, nil
	}

	value, err := cache.Read(context.Background(), key, fetch)
	assert.Equal(t, err, nil)
	assert.Equal(t, value, []string{"the go programming language"})
	assert.Equal(t, fetchCount, 1)

	// fresh entry, no refetch
	value, err = cache.Read(context.Background(), key, fetch)
	assert.Equal(t, err, nil)
	assert.Equal(t, fetchCount, 1)

	cache.Invalidate(key)
	assert.Equal(t, cache.IsStale(key), true)

	// stale entry refetches
	value, err = cache.Read(context.Background(), key, fetch)
	assert.Equal(t, err, nil)
	assert.Equal(t, fetchCount, 2)
	assert.Equal(t, cache.IsStale(key), false)
}

func TestCacheReadFailureKeepsValue(t *testing.T) {
	cache := NewQueryCache()
	key := NewQueryKey("recommendations")

	cache.Set(key, []int64{7, 8})
	cache.Invalidate(key)

	value, err := cache.Read(context.Background(), key, func(ctx context.Context) (any, error) {
		return nil, errors.New("backend down")
	})
	assert.NotEqual(t, err, nil)
	// the previous value survives, still stale
	assert.Equal(t, value, []int64{7, 8})
	assert.Equal(t, cache.IsStale(key), true)
}

func TestCacheInvalidateIdempotent(t *testing.T) {
	cache := NewQueryCache()
	keyA := NewQueryKey("recommendations")
	keyB := NewQueryKey("dashboard.summary")

	cache.Set(keyA, "a")
	cache.Set(keyB, "b")

	notifyCount := map[QueryKey]int{}
	remove := cache.AddInvalidateCallback(func(key QueryKey) {
		notifyCount[key] += 1
	})
	defer remove()

	// repeated and reordered invalidations converge to the same staleness set
	cache.Invalidate(keyB)
	cache.Invalidate(keyA)
	cache.Invalidate(keyA)
	cache.Invalidate(keyB)

	assert.Equal(t, cache.IsStale(keyA), true)
	assert.Equal(t, cache.IsStale(keyB), true)
	assert.Equal(t, notifyCount[keyA], 1)
	assert.Equal(t, notifyCount[keyB], 1)
}

func TestCacheInvalidateMissingKey(t *testing.T) {
	cache := NewQueryCache()

	notified := false
	remove := cache.AddInvalidateCallback(func(key QueryKey) {
		notified = true
	})
	defer remove()

	// nothing cached, nothing to mark
	cache.Invalidate(NewQueryKey("missing"))
	assert.Equal(t, notified, false)
}

func TestCacheSnapshotRestore(t *testing.T) {
	cache := NewQueryCache()
	keyA := NewQueryKey("library")
	keyB := NewQueryKey("dashboard.summary")

	cache.Set(keyA, []string{"dune"})

	snapshot := cache.Snapshot(keyA, keyB)

	cache.Update(keyA, func(value any) any {
		books := value.([]string)
		return append(append([]string{}, books...), "hyperion")
	})
	cache.Update(keyB, func(value any) any {
		return "summary"
	})

	value, fresh := cache.Get(keyA)
	assert.Equal(t, value, []string{"dune", "hyperion"})
	assert.Equal(t, fresh, true)

	cache.Restore(snapshot)

	value, fresh = cache.Get(keyA)
	assert.Equal(t, value, []string{"dune"})
	assert.Equal(t, fresh, true)

	// keyB did not exist before the snapshot, so restore removes it
	_, fresh = cache.Get(keyB)
	assert.Equal(t, fresh, false)
}

func TestCallbackListAddRemove(t *testing.T) {
	callbacks := NewCallbackList[func()]()

	count := 0
	removeA := callbacks.Add(func() {
		count += 1
	})
	removeB := callbacks.Add(func() {
		count += 10
	})

	for _, callback := range callbacks.Get() {
		callback()
	}
	assert.Equal(t, count, 11)

	removeA()
	for _, callback := range callbacks.Get() {
		callback()
	}
	assert.Equal(t, count, 21)

	removeB()
	assert.Equal(t, len(callbacks.Get()), 0)
}
