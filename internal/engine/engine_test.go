package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/craftlance/relay/internal/bus"
	"github.com/craftlance/relay/internal/roster"
	"github.com/craftlance/relay/internal/transport"
	"github.com/craftlance/relay/internal/wire"
)

// fakeSession records subscriptions and lets tests push events straight into
// the registered handlers, standing in for the transport read goroutine.
type fakeSession struct {
	handlers map[string]transport.Handler
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[string]transport.Handler)}
}

func (s *fakeSession) Subscribe(topic string, h transport.Handler) error {
	s.handlers[topic] = h
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSession) push(t *testing.T, topic string, payload any) {
	t.Helper()
	h, ok := s.handlers[topic]
	if !ok {
		t.Fatalf("no handler for topic %s", topic)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	h(raw)
}

type fakeBackend struct {
	contacts      []roster.Contact
	history       map[string][]wire.ChatMessage
	historyErr    error
	notifications []wire.Notification

	markedRead    []string
	markedAllRead int
}

func (b *fakeBackend) Contacts(context.Context) ([]roster.Contact, error) {
	return b.contacts, nil
}

func (b *fakeBackend) History(_ context.Context, otherUserID string) ([]wire.ChatMessage, error) {
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	return b.history[otherUserID], nil
}

func (b *fakeBackend) Notifications(context.Context) ([]wire.Notification, error) {
	return b.notifications, nil
}

func (b *fakeBackend) MarkNotificationRead(_ context.Context, id string) error {
	b.markedRead = append(b.markedRead, id)
	return nil
}

func (b *fakeBackend) MarkAllNotificationsRead(context.Context) error {
	b.markedAllRead++
	return nil
}

func newTestEngine(t *testing.T, backend *fakeBackend) (*Engine, *fakeSession) {
	t.Helper()
	sess := newFakeSession()
	e := New("me", sess, backend, bus.New(), zap.NewNop())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, sess
}

func chatMsg(id, sender, recipient, content string) wire.ChatMessage {
	return wire.ChatMessage{ID: id, SenderID: sender, RecipientID: recipient, Content: content}
}

func unreadOf(t *testing.T, e *Engine, id string) int {
	t.Helper()
	for _, c := range e.Contacts() {
		if c.ID == id {
			return c.Unread
		}
	}
	t.Fatalf("contact %s not found", id)
	return 0
}

func TestStartSubscribesUserTopics(t *testing.T) {
	_, sess := newTestEngine(t, &fakeBackend{})

	for _, topic := range wire.UserTopics("me") {
		if _, ok := sess.handlers[topic]; !ok {
			t.Errorf("missing subscription for %s", topic)
		}
	}
}

func TestBaselineReconcilesLedgerAndRoster(t *testing.T) {
	backend := &fakeBackend{
		contacts: []roster.Contact{
			{ID: "a", DisplayName: "Bella", Unread: 0},
			{ID: "b", DisplayName: "Ana", Unread: 2},
		},
		notifications: []wire.Notification{{ID: "n1"}},
	}
	e, _ := newTestEngine(t, backend)

	// Unread beats alphabetical: b first.
	contacts := e.Contacts()
	if contacts[0].ID != "b" || contacts[1].ID != "a" {
		t.Errorf("order = %v", contacts)
	}
	if e.UnreadTotal() != 2 {
		t.Errorf("UnreadTotal = %d, want 2", e.UnreadTotal())
	}
	if e.NotificationUnread() != 1 {
		t.Errorf("NotificationUnread = %d, want 1", e.NotificationUnread())
	}
}

// A live event from the active conversation is appended to the open view
// and does not increment any counter.
func TestEventFromActivePeerAppendsWithoutIncrement(t *testing.T) {
	backend := &fakeBackend{
		contacts: []roster.Contact{{ID: "a", DisplayName: "Ana"}},
		history:  map[string][]wire.ChatMessage{"a": {chatMsg("h1", "a", "me", "earlier")}},
	}
	e, sess := newTestEngine(t, backend)

	if _, err := e.OpenConversation(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	sess.push(t, wire.ChatTopic("me"), chatMsg("m1", "a", "me", "live"))

	conv := e.Conversation()
	if len(conv) != 2 || conv[1].Content != "live" {
		t.Errorf("conversation = %v", conv)
	}
	if got := unreadOf(t, e, "a"); got != 0 {
		t.Errorf("unread(a) = %d, want 0 (read as it arrived)", got)
	}
}

// A live event from a non-active sender increments that sender's counter;
// opening the conversation afterwards resets it to zero.
func TestEventFromOtherPeerIncrementsThenResetOnOpen(t *testing.T) {
	backend := &fakeBackend{
		contacts: []roster.Contact{{ID: "a"}, {ID: "c"}},
		history:  map[string][]wire.ChatMessage{"c": {}},
	}
	e, sess := newTestEngine(t, backend)

	if _, err := e.OpenConversation(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	sess.push(t, wire.ChatTopic("me"), chatMsg("m1", "c", "me", "ping"))
	if got := unreadOf(t, e, "c"); got != 1 {
		t.Errorf("unread(c) = %d, want 1", got)
	}
	if len(e.Conversation()) != 0 {
		t.Error("event from c must not enter a's open conversation")
	}

	if _, err := e.OpenConversation(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	if got := unreadOf(t, e, "c"); got != 0 {
		t.Errorf("unread(c) = %d, want 0 after opening", got)
	}
}

func TestDuplicateFrameSuppressed(t *testing.T) {
	backend := &fakeBackend{contacts: []roster.Contact{{ID: "c"}}}
	e, sess := newTestEngine(t, backend)

	msg := chatMsg("m1", "c", "me", "once")
	sess.push(t, wire.ChatTopic("me"), msg)
	sess.push(t, wire.ChatTopic("me"), msg) // redelivered after reconnect

	if got := unreadOf(t, e, "c"); got != 1 {
		t.Errorf("unread(c) = %d, want 1 (duplicate suppressed)", got)
	}
}

// The echo of our own message lands in the open conversation and counts
// nothing.
func TestOwnEchoAppendsWithoutIncrement(t *testing.T) {
	backend := &fakeBackend{
		contacts: []roster.Contact{{ID: "a"}},
		history:  map[string][]wire.ChatMessage{"a": {}},
	}
	e, sess := newTestEngine(t, backend)

	if _, err := e.OpenConversation(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	sess.push(t, wire.ChatTopic("me"), chatMsg("m1", "me", "a", "sent by us"))

	conv := e.Conversation()
	if len(conv) != 1 || conv[0].SenderID != "me" {
		t.Errorf("conversation = %v", conv)
	}
	if e.UnreadTotal() != 0 {
		t.Errorf("UnreadTotal = %d, want 0", e.UnreadTotal())
	}
}

func TestUnknownSenderGetsPlaceholderContact(t *testing.T) {
	e, sess := newTestEngine(t, &fakeBackend{})

	sess.push(t, wire.ChatTopic("me"), chatMsg("m1", "stranger", "me", "hello"))

	if got := unreadOf(t, e, "stranger"); got != 1 {
		t.Errorf("unread(stranger) = %d, want 1", got)
	}
}

func TestOpenConversationFailureLeavesStateUntouched(t *testing.T) {
	backend := &fakeBackend{
		contacts: []roster.Contact{{ID: "a"}, {ID: "c"}},
		history:  map[string][]wire.ChatMessage{"a": {chatMsg("h1", "a", "me", "old")}},
	}
	e, sess := newTestEngine(t, backend)

	if _, err := e.OpenConversation(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	sess.push(t, wire.ChatTopic("me"), chatMsg("m1", "c", "me", "ping"))

	backend.historyErr = errors.New("backend down")
	if _, err := e.OpenConversation(context.Background(), "c"); err == nil {
		t.Fatal("OpenConversation should fail")
	}

	if e.ActiveConversation() != "a" {
		t.Errorf("active = %q, want a", e.ActiveConversation())
	}
	if got := unreadOf(t, e, "c"); got != 1 {
		t.Errorf("unread(c) = %d, want 1 (no reset on failure)", got)
	}
}

func TestNotificationFlow(t *testing.T) {
	backend := &fakeBackend{}
	e, sess := newTestEngine(t, backend)

	sess.push(t, wire.NotifyTopic("me"), wire.Notification{ID: "n1", Type: wire.NotificationWorkApproved})
	sess.push(t, wire.NotifyTopic("me"), wire.Notification{ID: "n2", Type: wire.NotificationNewMessage})

	if got := e.NotificationUnread(); got != 2 {
		t.Fatalf("NotificationUnread = %d, want 2", got)
	}

	// Pushed absolute count wins until the next local mutation.
	sess.push(t, wire.NotifyCountTopic("me"), 9)
	if got := e.NotificationUnread(); got != 9 {
		t.Errorf("NotificationUnread = %d, want pushed 9", got)
	}

	e.MarkNotificationRead(context.Background(), "n1")
	if got := e.NotificationUnread(); got != 1 {
		t.Errorf("NotificationUnread = %d, want derived 1", got)
	}
	if len(backend.markedRead) != 1 || backend.markedRead[0] != "n1" {
		t.Errorf("backend markedRead = %v", backend.markedRead)
	}

	// Marking again is a no-op locally and remotely.
	e.MarkNotificationRead(context.Background(), "n1")
	if len(backend.markedRead) != 1 {
		t.Errorf("idempotent mark-read hit the backend again: %v", backend.markedRead)
	}

	e.MarkAllNotificationsRead(context.Background())
	if got := e.NotificationUnread(); got != 0 {
		t.Errorf("NotificationUnread = %d, want 0", got)
	}
	if backend.markedAllRead != 1 {
		t.Errorf("markedAllRead = %d, want 1", backend.markedAllRead)
	}
}

func TestCloseConversation(t *testing.T) {
	backend := &fakeBackend{
		contacts: []roster.Contact{{ID: "a"}},
		history:  map[string][]wire.ChatMessage{"a": {}},
	}
	e, sess := newTestEngine(t, backend)

	if _, err := e.OpenConversation(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	e.CloseConversation()

	// With no open conversation every inbound event counts as unread.
	sess.push(t, wire.ChatTopic("me"), chatMsg("m1", "a", "me", "hi"))
	if got := unreadOf(t, e, "a"); got != 1 {
		t.Errorf("unread(a) = %d, want 1", got)
	}
}

func TestStopSeversSession(t *testing.T) {
	backend := &fakeBackend{}
	e, sess := newTestEngine(t, backend)

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if !sess.closed {
		t.Error("session not closed")
	}
}
