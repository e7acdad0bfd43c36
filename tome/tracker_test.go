package tome

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestTrackerDuplicateBegin(t *testing.T) {
	tracker := NewEntityOperationTracker()

	assert.Equal(t, tracker.Begin(OperationDismiss, 7), true)
	// a second begin for the same pair is rejected until end
	assert.Equal(t, tracker.Begin(OperationDismiss, 7), false)
	assert.Equal(t, tracker.IsActive(OperationDismiss, 7), true)
	assert.Equal(t, tracker.ActiveCount(OperationDismiss), 1)

	tracker.End(OperationDismiss, 7)
	assert.Equal(t, tracker.IsActive(OperationDismiss, 7), false)
	assert.Equal(t, tracker.Begin(OperationDismiss, 7), true)
	tracker.End(OperationDismiss, 7)
}

func TestTrackerPartitionedByKind(t *testing.T) {
	tracker := NewEntityOperationTracker()

	// a follow spinner and a dismiss spinner on the same row never interfere
	assert.Equal(t, tracker.Begin(OperationFollow, 42), true)
	assert.Equal(t, tracker.Begin(OperationDismiss, 42), true)
	assert.Equal(t, tracker.IsActive(OperationFollow, 42), true)
	assert.Equal(t, tracker.IsActive(OperationDismiss, 42), true)

	tracker.End(OperationFollow, 42)
	assert.Equal(t, tracker.IsActive(OperationFollow, 42), false)
	assert.Equal(t, tracker.IsActive(OperationDismiss, 42), true)
}

func TestTrackerEndIdempotent(t *testing.T) {
	tracker := NewEntityOperationTracker()

	// end with no matching entry is safe
	tracker.End(OperationAddBook, 1)
	assert.Equal(t, tracker.IsActive(OperationAddBook, 1), false)

	assert.Equal(t, tracker.Begin(OperationAddBook, 1), true)
	tracker.End(OperationAddBook, 1)
	tracker.End(OperationAddBook, 1)
	assert.Equal(t, tracker.ActiveCount(OperationAddBook), 0)
}

func TestTrackerActiveIds(t *testing.T) {
	tracker := NewEntityOperationTracker()

	tracker.Begin(OperationFollow, 3)
	tracker.Begin(OperationFollow, 1)
	tracker.Begin(OperationFollow, 2)

	assert.Equal(t, tracker.ActiveIds(OperationFollow), []int64{1, 2, 3})
	assert.Equal(t, tracker.ActiveIds(OperationDismiss), []int64{})
}
