package tome

import (
	"context"
	"strings"
	"sync"
)

// stable key for a cached query: resource name plus parameters
type QueryKey string

func NewQueryKey(resource string, params ...string) QueryKey {
	if len(params) == 0 {
		return QueryKey(resource)
	}
	return QueryKey(resource + "?" + strings.Join(params, "&"))
}

type InvalidateFunction = func(key QueryKey)

var cacheLog = LogFn(LogLevelDebug, "cache")

type cacheEntry struct {
	value    any
	stale    bool
	inFlight bool
}

// last-known query results plus the invalidation bus.
// values are treated as immutable: an edit returns a replacement value,
// it never mutates the cached value in place. that keeps snapshots exact
// so a rollback restores the pre-edit state bit for bit
type QueryCache struct {
	mutex sync.Mutex

	entries map[QueryKey]*cacheEntry

	invalidateCallbacks *CallbackList[InvalidateFunction]
}

func NewQueryCache() *QueryCache {
	return &QueryCache{
		entries:             map[QueryKey]*cacheEntry{},
		invalidateCallbacks: NewCallbackList[InvalidateFunction](),
	}
}

// returns the cached value and whether it is present and fresh
func (self *QueryCache) Get(key QueryKey) (any, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry, ok := self.entries[key]
	if !ok {
		return nil, false
	}
	return entry.value, !entry.stale
}

func (self *QueryCache) Set(key QueryKey, value any) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.entries[key] = &cacheEntry{
		value: value,
	}
}

func (self *QueryCache) IsInFlight(key QueryKey) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry, ok := self.entries[key]
	return ok && entry.inFlight
}

// read-through: returns the fresh cached value, or runs `fetch` when the
// entry is missing or stale and caches the result.
// a failed fetch leaves the previous value in place, still stale
func (self *QueryCache) Read(ctx context.Context, key QueryKey, fetch func(ctx context.Context) (any, error)) (any, error) {
	self.mutex.Lock()
	entry, ok := self.entries[key]
	if ok && !entry.stale {
		value := entry.value
		self.mutex.Unlock()
		cacheLog("hit %s", key)
		return value, nil
	}
	if !ok {
		entry = &cacheEntry{
			stale: true,
		}
		self.entries[key] = entry
	}
	entry.inFlight = true
	self.mutex.Unlock()

	cacheLog("fetch %s", key)
	value, err := fetch(ctx)

	self.mutex.Lock()
	defer self.mutex.Unlock()
	entry.inFlight = false
	if err != nil {
		return entry.value, err
	}
	entry.value = value
	entry.stale = false
	return value, nil
}

// applies an optimistic edit to the current value.
// the edit receives the cached value (nil when nothing is cached)
// and returns the replacement
func (self *QueryCache) Update(key QueryKey, edit func(value any) any) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry, ok := self.entries[key]
	if !ok {
		entry = &cacheEntry{}
		self.entries[key] = entry
	}
	entry.value = edit(entry.value)
}

// marks the key stale so the next read refetches. idempotent and
// commutative: repeated or reordered invalidations converge to the same
// staleness set. listeners fire only on the fresh-to-stale transition
func (self *QueryCache) Invalidate(key QueryKey) {
	self.mutex.Lock()
	entry, ok := self.entries[key]
	if !ok || entry.stale {
		self.mutex.Unlock()
		return
	}
	entry.stale = true
	self.mutex.Unlock()

	cacheLog("invalidate %s", key)
	for _, invalidateCallback := range self.invalidateCallbacks.Get() {
		invalidateCallback := invalidateCallback
		HandleError(func() {
			invalidateCallback(key)
		})
	}
}

func (self *QueryCache) IsStale(key QueryKey) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry, ok := self.entries[key]
	return ok && entry.stale
}

// returns a function to remove the callback
func (self *QueryCache) AddInvalidateCallback(invalidateCallback InvalidateFunction) func() {
	return self.invalidateCallbacks.Add(invalidateCallback)
}

type cacheSnapshotEntry struct {
	value   any
	stale   bool
	present bool
}

type CacheSnapshot struct {
	entries map[QueryKey]*cacheSnapshotEntry
}

// captures the exact state of `keys` so a rollback can restore it
func (self *QueryCache) Snapshot(keys ...QueryKey) *CacheSnapshot {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	snapshot := &CacheSnapshot{
		entries: map[QueryKey]*cacheSnapshotEntry{},
	}
	for _, key := range keys {
		if entry, ok := self.entries[key]; ok {
			snapshot.entries[key] = &cacheSnapshotEntry{
				value:   entry.value,
				stale:   entry.stale,
				present: true,
			}
		} else {
			snapshot.entries[key] = &cacheSnapshotEntry{}
		}
	}
	return snapshot
}

func (self *QueryCache) Restore(snapshot *CacheSnapshot) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for key, snapshotEntry := range snapshot.entries {
		if !snapshotEntry.present {
			delete(self.entries, key)
			continue
		}
		entry, ok := self.entries[key]
		if !ok {
			entry = &cacheEntry{}
			self.entries[key] = entry
		}
		entry.value = snapshotEntry.value
		entry.stale = snapshotEntry.stale
	}
}
