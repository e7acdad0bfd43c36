package tome

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type OperationKind string

const (
	OperationAddBook       OperationKind = "adding"
	OperationDismiss       OperationKind = "dismissing"
	OperationFollow        OperationKind = "following"
	OperationUnfollow      OperationKind = "unfollowing"
	OperationCreateReading OperationKind = "creating_reading"
)

// in-flight markers keyed by (operation kind, entity id), partitioned by kind
// so independent affordances on the same entity never interfere.
// for every pair at most one mutation may be open at a time;
// `Begin` rejects the duplicate rather than queueing it
type EntityOperationTracker struct {
	mutex sync.Mutex

	active map[OperationKind]map[int64]bool
}

func NewEntityOperationTracker() *EntityOperationTracker {
	return &EntityOperationTracker{
		active: map[OperationKind]map[int64]bool{},
	}
}

// returns false and makes no change if the same pair is already in flight
func (self *EntityOperationTracker) Begin(kind OperationKind, entityId int64) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entityIds, ok := self.active[kind]
	if !ok {
		entityIds = map[int64]bool{}
		self.active[kind] = entityIds
	}
	if entityIds[entityId] {
		return false
	}
	entityIds[entityId] = true
	return true
}

// idempotent. safe to call with no matching entry
func (self *EntityOperationTracker) End(kind OperationKind, entityId int64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if entityIds, ok := self.active[kind]; ok {
		delete(entityIds, entityId)
		if len(entityIds) == 0 {
			delete(self.active, kind)
		}
	}
}

func (self *EntityOperationTracker) IsActive(kind OperationKind, entityId int64) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.active[kind][entityId]
}

func (self *EntityOperationTracker) ActiveCount(kind OperationKind) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.active[kind])
}

func (self *EntityOperationTracker) ActiveIds(kind OperationKind) []int64 {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entityIds := maps.Keys(self.active[kind])
	slices.Sort(entityIds)
	return entityIds
}
