package notify

import (
	"testing"

	"github.com/craftlance/relay/internal/wire"
)

func unread(id string) wire.Notification {
	return wire.Notification{ID: id, Type: wire.NotificationNewMessage, Title: "t", Message: "m"}
}

func TestAddPrependsAndCounts(t *testing.T) {
	p := New()
	p.Add(unread("1"))
	p.Add(unread("2"))

	items := p.Notifications()
	if len(items) != 2 || items[0].ID != "2" {
		t.Errorf("items = %v, want newest first", items)
	}
	if got := p.UnreadCount(); got != 2 {
		t.Errorf("UnreadCount() = %d, want 2", got)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	p := New()
	p.Add(unread("1"))
	p.Add(unread("2"))

	if !p.MarkRead("1") {
		t.Error("first MarkRead should report a transition")
	}
	if got := p.UnreadCount(); got != 1 {
		t.Errorf("UnreadCount() = %d, want 1", got)
	}

	// Marking an already-read notification is a no-op.
	if p.MarkRead("1") {
		t.Error("second MarkRead should be a no-op")
	}
	if got := p.UnreadCount(); got != 1 {
		t.Errorf("UnreadCount() = %d, want 1 (unchanged)", got)
	}
}

func TestMarkReadUnknownID(t *testing.T) {
	p := New()
	if p.MarkRead("ghost") {
		t.Error("MarkRead on unknown id should be a no-op")
	}
}

func TestMarkAllRead(t *testing.T) {
	p := New()
	p.Add(unread("1"))
	p.Add(unread("2"))
	p.Add(wire.Notification{ID: "3", Read: true})
	p.SetCount(7)

	p.MarkAllRead()

	if got := p.UnreadCount(); got != 0 {
		t.Errorf("UnreadCount() = %d, want 0", got)
	}
	for _, n := range p.Notifications() {
		if !n.Read {
			t.Errorf("notification %s still unread", n.ID)
		}
	}
}

// A server-pushed absolute count overrides the derived count until the next
// local mutation.
func TestPushedCountIsAuthoritative(t *testing.T) {
	p := New()
	p.Add(unread("1"))

	p.SetCount(5)
	if got := p.UnreadCount(); got != 5 {
		t.Errorf("UnreadCount() = %d, want pushed 5", got)
	}

	// A pushed notification advances the authoritative count in step.
	p.Add(unread("2"))
	if got := p.UnreadCount(); got != 6 {
		t.Errorf("UnreadCount() = %d, want 6", got)
	}

	// A local mutation hands authority back to the derived count.
	p.MarkRead("1")
	if got := p.UnreadCount(); got != 1 {
		t.Errorf("UnreadCount() = %d, want derived 1", got)
	}
}

func TestSetCountClampsNegative(t *testing.T) {
	p := New()
	p.SetCount(-2)
	if got := p.UnreadCount(); got != 0 {
		t.Errorf("UnreadCount() = %d, want 0", got)
	}
}

func TestLoadReplacesBaselineAndDropsOverride(t *testing.T) {
	p := New()
	p.Add(unread("live"))
	p.SetCount(9)

	p.Load([]wire.Notification{
		{ID: "a", Read: false},
		{ID: "b", Read: true},
	})

	items := p.Notifications()
	if len(items) != 2 || items[0].ID != "a" {
		t.Errorf("items = %v, want REST baseline", items)
	}
	if got := p.UnreadCount(); got != 1 {
		t.Errorf("UnreadCount() = %d, want derived 1", got)
	}
}
