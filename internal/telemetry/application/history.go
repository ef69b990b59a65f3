package application

import (
	"sync"
	"time"

	telemetry "ems-cloud/internal/telemetry/domain"
)

// DefaultHistoryCapacity bounds the in-memory window when no override
// is configured.
const DefaultHistoryCapacity = 1000

// HistoryBuffer is a fixed-capacity, insertion-ordered store of the
// most recent canonical records. Appends evict the oldest entry once
// the capacity is reached. All methods are safe for concurrent use;
// reads copy out a consistent view and never alias internal storage.
type HistoryBuffer struct {
	mu       sync.RWMutex
	records  []*telemetry.Record
	head     int
	size     int
	capacity int
}

// NewHistoryBuffer constructs a buffer. A non-positive capacity falls
// back to DefaultHistoryCapacity.
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryBuffer{
		records:  make([]*telemetry.Record, capacity),
		capacity: capacity,
	}
}

// Append inserts a record, evicting the oldest entry when full.
func (b *HistoryBuffer) Append(rec *telemetry.Record) {
	if b == nil || rec == nil {
		return
	}
	b.mu.Lock()
	tail := (b.head + b.size) % b.capacity
	b.records[tail] = rec
	if b.size < b.capacity {
		b.size++
	} else {
		b.head = (b.head + 1) % b.capacity
	}
	b.mu.Unlock()
}

// Latest returns the most recently appended record, or nil when empty.
func (b *HistoryBuffer) Latest() *telemetry.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return nil
	}
	return b.records[(b.head+b.size-1)%b.capacity]
}

// Recent returns the last min(limit, length) records, oldest first.
func (b *HistoryBuffer) Recent(limit int) []*telemetry.Record {
	if limit < 0 {
		limit = 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tailLocked(limit)
}

// Range returns records with ReceivedAt in [start, end], oldest first.
// When limit is positive and the range holds more entries, the most
// recent limit entries within the range are kept.
func (b *HistoryBuffer) Range(start, end time.Time, limit int) []*telemetry.Record {
	b.mu.RLock()
	matched := make([]*telemetry.Record, 0, b.size)
	for i := 0; i < b.size; i++ {
		rec := b.records[(b.head+i)%b.capacity]
		at := rec.ReceivedAt
		if at.Before(start) || at.After(end) {
			continue
		}
		matched = append(matched, rec)
	}
	b.mu.RUnlock()

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Len reports the current number of retained records.
func (b *HistoryBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity reports the fixed retention bound.
func (b *HistoryBuffer) Capacity() int {
	return b.capacity
}

// tailLocked copies out the last min(limit, size) records oldest-first.
// Callers must hold at least the read lock.
func (b *HistoryBuffer) tailLocked(limit int) []*telemetry.Record {
	n := limit
	if n > b.size {
		n = b.size
	}
	out := make([]*telemetry.Record, 0, n)
	for i := b.size - n; i < b.size; i++ {
		out = append(out, b.records[(b.head+i)%b.capacity])
	}
	return out
}
