// Package notify holds the notification collection and its unread count.
package notify

import (
	"sync"

	"github.com/craftlance/relay/internal/wire"
)

// Presenter owns the in-memory notification list, newest first. The unread
// count is derived from the list, except when the server has pushed an
// absolute count more recently than the last local mutation; that pushed
// value is then authoritative until markRead or markAllRead runs.
type Presenter struct {
	mu       sync.RWMutex
	items    []wire.Notification
	override *int
}

// New creates an empty presenter.
func New() *Presenter {
	return &Presenter{}
}

// Load replaces the collection with a REST-fetched baseline (expected newest
// first) and drops any pushed-count override.
func (p *Presenter) Load(items []wire.Notification) {
	p.mu.Lock()
	p.items = append([]wire.Notification(nil), items...)
	p.override = nil
	p.mu.Unlock()
}

// Add prepends a pushed notification. If a pushed absolute count is in
// effect it is advanced in step so it stays authoritative.
func (p *Presenter) Add(n wire.Notification) {
	p.mu.Lock()
	p.items = append([]wire.Notification{n}, p.items...)
	if p.override != nil && !n.Read {
		next := *p.override + 1
		p.override = &next
	}
	p.mu.Unlock()
}

// SetCount records a server-pushed absolute unread count. It overrides the
// derived count until the next local mutation.
func (p *Presenter) SetCount(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	p.override = &n
	p.mu.Unlock()
}

// MarkRead flips one notification to read. Idempotent: marking an already
// read notification changes nothing. Returns whether the entity went from
// unread to read.
func (p *Presenter) MarkRead(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.items {
		if p.items[i].ID != id {
			continue
		}
		if p.items[i].Read {
			return false
		}
		p.items[i].Read = true
		p.override = nil
		return true
	}
	return false
}

// MarkAllRead sets every notification to read and the unread count to zero,
// regardless of prior state.
func (p *Presenter) MarkAllRead() {
	p.mu.Lock()
	for i := range p.items {
		p.items[i].Read = true
	}
	p.override = nil
	p.mu.Unlock()
}

// UnreadCount returns the pushed absolute count if one is authoritative,
// otherwise the number of unread notifications held.
func (p *Presenter) UnreadCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.override != nil {
		return *p.override
	}
	n := 0
	for i := range p.items {
		if !p.items[i].Read {
			n++
		}
	}
	return n
}

// Notifications returns a copy of the collection, newest first.
func (p *Presenter) Notifications() []wire.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]wire.Notification(nil), p.items...)
}
