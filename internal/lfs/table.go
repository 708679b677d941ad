package lfs

import (
	"locutusfs/internal/logging"
)

var (
	tableLogger = logging.GetLogger().WithPrefix("table")
)

// Table is a fixed-size slot allocator. The slot index is the entry's global
// number; nil slots are free.
type Table[T any] struct {
	name  string
	slots []*T
	inUse uint32
}

// NewTable creates an empty table with size slots. The size never changes.
func NewTable[T any](name string, size uint32) *Table[T] {
	tableLogger.Debug("Creating %s table with %d slots", name, size)
	return &Table[T]{name: name, slots: make([]*T, size)}
}

// Size returns the fixed capacity
func (t *Table[T]) Size() uint32 { return uint32(len(t.slots)) }

// ItemsInUse returns the number of occupied slots
func (t *Table[T]) ItemsInUse() uint32 { return t.inUse }

// ItemsRemaining returns the number of free slots
func (t *Table[T]) ItemsRemaining() uint32 { return t.Size() - t.inUse }

// Allocate stores item in the lowest free slot and returns its index.
func (t *Table[T]) Allocate(item *T) (uint32, error) {
	if item == nil {
		panic("lfs: allocating nil item in " + t.name + " table")
	}
	if t.inUse == t.Size() {
		tableLogger.Debug("%s table full (%d slots)", t.name, t.Size())
		return 0, ErrCapacityExceeded
	}
	for i, slot := range t.slots {
		if slot == nil {
			t.slots[i] = item
			t.inUse++
			tableLogger.Trace("Allocated %s slot %d (%d/%d in use)", t.name, i, t.inUse, t.Size())
			return uint32(i), nil
		}
	}
	panic("lfs: " + t.name + " table in-use count out of sync with slots")
}

// Reserve stores item at an explicit index. Used when loading a snapshot.
func (t *Table[T]) Reserve(index uint32, item *T) error {
	if item == nil || index >= t.Size() || t.slots[index] != nil {
		return ErrSlotUnavailable
	}
	t.slots[index] = item
	t.inUse++
	tableLogger.Trace("Reserved %s slot %d", t.name, index)
	return nil
}

// Free releases the slot at index.
func (t *Table[T]) Free(index uint32) error {
	if index >= t.Size() || t.slots[index] == nil {
		tableLogger.Warn("Attempted to free unallocated %s slot %d", t.name, index)
		return ErrNotAllocated
	}
	t.slots[index] = nil
	t.inUse--
	tableLogger.Trace("Freed %s slot %d (%d/%d in use)", t.name, index, t.inUse, t.Size())
	return nil
}

// Get returns the item at index, if the slot is occupied.
func (t *Table[T]) Get(index uint32) (*T, bool) {
	if index >= t.Size() || t.slots[index] == nil {
		return nil, false
	}
	return t.slots[index], true
}

// Each calls fn for every occupied slot in index order.
func (t *Table[T]) Each(fn func(index uint32, item *T)) {
	for i, slot := range t.slots {
		if slot != nil {
			fn(uint32(i), slot)
		}
	}
}

// TableUsage is a read-only summary of one table.
type TableUsage struct {
	Size      uint32 `json:"size" yaml:"size"`
	InUse     uint32 `json:"in_use" yaml:"in_use"`
	Remaining uint32 `json:"remaining" yaml:"remaining"`
}

func (t *Table[T]) usage() TableUsage {
	return TableUsage{Size: t.Size(), InUse: t.ItemsInUse(), Remaining: t.ItemsRemaining()}
}
