// Package roster holds the contact collection and its display ordering.
package roster

import (
	"sort"
	"strings"
	"sync"
)

// Contact is one chat peer. Unread is filled in from the ledger when a
// ranked view is produced; the roster itself never mutates it.
type Contact struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"display_name"`
	AvatarRef     string   `json:"avatar_ref,omitempty"`
	ProjectTitles []string `json:"project_titles,omitempty"`
	Unread        int      `json:"unread"`
}

// Roster is the set of known contacts, unique by id. Display order is not
// stored; it is computed by Rank on demand.
type Roster struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{contacts: make(map[string]Contact)}
}

// Reconcile replaces the collection with the REST-fetched baseline.
func (r *Roster) Reconcile(baseline []Contact) {
	next := make(map[string]Contact, len(baseline))
	for _, c := range baseline {
		next[c.ID] = c
	}
	r.mu.Lock()
	r.contacts = next
	r.mu.Unlock()
}

// Upsert adds or replaces a single contact.
func (r *Roster) Upsert(c Contact) {
	r.mu.Lock()
	r.contacts[c.ID] = c
	r.mu.Unlock()
}

// Remove drops a contact by id.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	delete(r.contacts, id)
	r.mu.Unlock()
}

// Get returns a contact and whether it exists.
func (r *Roster) Get(id string) (Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	return c, ok
}

// Len returns the number of contacts.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contacts)
}

// Ranked returns all contacts with Unread filled from counts, sorted by
// Rank's total order.
func (r *Roster) Ranked(counts map[string]int) []Contact {
	r.mu.RLock()
	out := make([]Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		c.Unread = counts[c.ID]
		out = append(out, c)
	}
	r.mu.RUnlock()

	Rank(out)
	return out
}

// Rank sorts contacts in place into the display order: unread count
// descending, then case-insensitive name ascending with unnamed contacts
// last, then id ascending. The order is total, so identical input always
// yields identical output.
func Rank(contacts []Contact) {
	sort.Slice(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		if a.Unread != b.Unread {
			return a.Unread > b.Unread
		}
		an := strings.ToLower(a.DisplayName)
		bn := strings.ToLower(b.DisplayName)
		if (an == "") != (bn == "") {
			return bn == ""
		}
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
}
