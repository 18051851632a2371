// Package ledger holds the per-contact unread-message counts for one user.
//
// The ledger is the only mutator of unread counts: live chat events call
// Increment, opening a conversation calls Reset, and the REST baseline calls
// Reconcile. Reconcile replaces the ledger wholesale: increments that
// arrived between issuing the baseline fetch and applying it are lost. That
// race is accepted: the surrounding app re-fetches counts periodically.
package ledger

import "sync"

// Ledger tracks unread counts keyed by contact id.
type Ledger struct {
	mu     sync.RWMutex
	counts map[string]int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// Reconcile replaces all counts with the fetched baseline. Entries with a
// zero count are kept so Count stays defined for known contacts.
func (l *Ledger) Reconcile(baseline map[string]int) {
	next := make(map[string]int, len(baseline))
	for id, n := range baseline {
		if n < 0 {
			n = 0
		}
		next[id] = n
	}
	l.mu.Lock()
	l.counts = next
	l.mu.Unlock()
}

// Increment adds one to a contact's unread count.
func (l *Ledger) Increment(contactID string) {
	l.mu.Lock()
	l.counts[contactID]++
	l.mu.Unlock()
}

// Reset zeroes a contact's unread count. Called when that contact becomes
// the active conversation.
func (l *Ledger) Reset(contactID string) {
	l.mu.Lock()
	l.counts[contactID] = 0
	l.mu.Unlock()
}

// Count returns the unread count for a contact (zero if unknown).
func (l *Ledger) Count(contactID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[contactID]
}

// Total returns the sum of all unread counts.
func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}

// Counts returns a copy of all per-contact counts.
func (l *Ledger) Counts() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.counts))
	for id, n := range l.counts {
		out[id] = n
	}
	return out
}
