package tome

import (
	"context"

	"github.com/golang/glog"
)

type MutationOutcome int

const (
	MutationCommitted MutationOutcome = iota
	MutationRolledBack
	MutationDuplicateSuppressed
)

func (self MutationOutcome) String() string {
	switch self {
	case MutationCommitted:
		return "committed"
	case MutationRolledBack:
		return "rolled_back"
	default:
		return "duplicate_suppressed"
	}
}

// an optimistic edit against one cached query.
// the edit must return a replacement value, not mutate in place (see QueryCache)
type CacheEdit struct {
	Key  QueryKey
	Edit func(value any) any
}

// one attempted state change against the backend
type Mutation struct {
	Kind     OperationKind
	EntityId int64

	// applied before the remote call so the UI reflects the expected
	// end state without waiting on the network
	Edits []CacheEdit

	RemoteCall func(ctx context.Context) error

	// keys marked stale after the remote call succeeds, so the next read
	// refetches authoritative data. the optimistic edit is only a
	// latency-hiding projection; the refetch always wins
	InvalidateKeys []QueryKey

	OnCommit   func()
	OnRollback func(classification ErrorClassification)
}

type PendingMutation struct {
	MutationId Id
	Kind       OperationKind
	EntityId   int64
	Outcome    MutationOutcome
	// set when the outcome is rolled back
	Classification ErrorClassification
	Err            error
}

// enforces the commit/rollback contract once, instead of
// re-deriving it at every call site
type MutationCoordinator struct {
	tracker *EntityOperationTracker
	cache   *QueryCache
}

func NewMutationCoordinator(tracker *EntityOperationTracker, cache *QueryCache) *MutationCoordinator {
	return &MutationCoordinator{
		tracker: tracker,
		cache:   cache,
	}
}

func (self *MutationCoordinator) Tracker() *EntityOperationTracker {
	return self.tracker
}

func (self *MutationCoordinator) Cache() *QueryCache {
	return self.cache
}

// runs the mutation to settlement. while (kind, entity) is in flight an
// identical call returns a duplicate-suppressed outcome without touching
// the cache or the tracker, never a queued second attempt
func (self *MutationCoordinator) Mutate(ctx context.Context, mutation *Mutation) *PendingMutation {
	pending := &PendingMutation{
		MutationId: NewId(),
		Kind:       mutation.Kind,
		EntityId:   mutation.EntityId,
	}

	if !self.tracker.Begin(mutation.Kind, mutation.EntityId) {
		glog.V(1).Infof("[mutate]%s duplicate suppressed %s/%d\n", pending.MutationId, mutation.Kind, mutation.EntityId)
		pending.Outcome = MutationDuplicateSuppressed
		return pending
	}
	defer self.tracker.End(mutation.Kind, mutation.EntityId)

	editKeys := make([]QueryKey, 0, len(mutation.Edits))
	for _, edit := range mutation.Edits {
		editKeys = append(editKeys, edit.Key)
	}
	snapshot := self.cache.Snapshot(editKeys...)

	for _, edit := range mutation.Edits {
		self.cache.Update(edit.Key, edit.Edit)
	}

	err := mutation.RemoteCall(ctx)
	if err != nil {
		self.cache.Restore(snapshot)
		pending.Outcome = MutationRolledBack
		pending.Classification = Classify(err)
		pending.Err = err
		glog.Infof("[mutate]%s rollback %s/%d: %s\n", pending.MutationId, mutation.Kind, mutation.EntityId, err)
		if mutation.OnRollback != nil {
			HandleError(func() {
				mutation.OnRollback(pending.Classification)
			})
		}
		return pending
	}

	for _, key := range mutation.InvalidateKeys {
		self.cache.Invalidate(key)
	}
	pending.Outcome = MutationCommitted
	if mutation.OnCommit != nil {
		HandleError(func() {
			mutation.OnCommit()
		})
	}
	return pending
}

type MutateCallback = apiCallback[*PendingMutation]

func (self *MutationCoordinator) MutateAsync(ctx context.Context, mutation *Mutation, callback MutateCallback) {
	go func() {
		pending := self.Mutate(ctx, mutation)
		callback.Result(pending, pending.Err)
	}()
}
