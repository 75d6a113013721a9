package exchange

import "sync"

// orderLocks hands out one mutex per order ID so the critical section of
// accept/cancel/expire is linearized per order while distinct orders proceed
// in parallel. Entries are reference counted and dropped when idle.
type orderLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the caller holds the order's writer lock and returns
// the matching release function.
func (l *orderLocks) acquire(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[orderID]
	if !ok {
		entry = &lockEntry{}
		l.entries[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, orderID)
		}
		l.mu.Unlock()
	}
}
