package logger

import (
	"sync"

	"github.com/qowoz/hercules-ci-agent/buildtask"
)

// DefaultBusCapacity bounds an unconfigured Bus (spec §4.2). Configurable via
// task.Config.LogBusCapacity; kept here only as the fallback default.
const DefaultBusCapacity = 4096

// Bus is the in-process, bounded, multi-producer/single-consumer queue that
// sits between the worker's event pump (and the agent's own log statements)
// and the log shipper. Once full, the oldest discardable entry
// (buildtask.LogEntry.Discardable) is evicted to make room,
// and the eviction is counted. Activity records are never evicted; if the
// queue is full of nothing but activity records, Push blocks until the
// consumer drains it.
type Bus struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	cap      int
	entries  []buildtask.LogEntry
	dropped  uint64
	closed   bool
}

// NewBus returns a Bus with the given capacity. A capacity of 0 uses
// DefaultBusCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	b := &Bus{cap: capacity}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Push enqueues an entry. If the bus is full it first tries to evict the
// oldest discardable entry; if every queued entry is non-discardable, Push
// blocks until space is made by the consumer or the bus is closed.
func (b *Bus) Push(e buildtask.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for len(b.entries) >= b.cap {
		if idx := b.oldestDiscardableLocked(); idx >= 0 {
			b.entries = append(b.entries[:idx], b.entries[idx+1:]...)
			b.dropped++
			break
		}
		b.notFull.Wait()
		if b.closed {
			return
		}
	}

	b.entries = append(b.entries, e)
	b.notEmpty.Signal()
}

// oldestDiscardableLocked returns the index of the earliest discardable
// entry, or -1 if none exists. Caller must hold b.mu.
func (b *Bus) oldestDiscardableLocked() int {
	for i, e := range b.entries {
		if e.Discardable() {
			return i
		}
	}
	return -1
}

// PopMany blocks until at least one entry is available (or the bus is
// closed), then returns up to max queued entries, oldest first.
func (b *Bus) PopMany(max int) []buildtask.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.entries) == 0 && !b.closed {
		b.notEmpty.Wait()
	}
	if len(b.entries) == 0 {
		return nil
	}

	n := max
	if n <= 0 || n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]buildtask.LogEntry, n)
	copy(out, b.entries[:n])
	b.entries = b.entries[n:]
	b.notFull.Broadcast()
	return out
}

// Dropped returns the number of entries evicted for capacity so far.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close wakes any blocked Push or PopMany callers. Idempotent. After Close,
// Push is a no-op and PopMany drains whatever remains, then returns nil once
// empty.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}
