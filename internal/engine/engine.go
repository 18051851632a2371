// Package engine is the client-side delivery and unread-state engine: it
// attaches one user's transport session to their topics, keeps the unread
// ledger and contact ordering consistent with REST baselines, and exposes
// snapshot views to the UI layer.
//
// All live mutation happens on the transport's single read goroutine, so
// event handling is serialized by construction. The only concurrent callers
// are UI operations (opening a conversation, marking notifications read),
// guarded by the engine mutex.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/craftlance/relay/internal/bus"
	"github.com/craftlance/relay/internal/ledger"
	"github.com/craftlance/relay/internal/notify"
	"github.com/craftlance/relay/internal/roster"
	"github.com/craftlance/relay/internal/transport"
	"github.com/craftlance/relay/internal/wire"
)

const seenCapacity = 512

// LiveSession is the transport surface the engine needs.
type LiveSession interface {
	Subscribe(topic string, h transport.Handler) error
	Close() error
}

// Backend is the REST collaborator surface the engine needs.
type Backend interface {
	Contacts(ctx context.Context) ([]roster.Contact, error)
	History(ctx context.Context, otherUserID string) ([]wire.ChatMessage, error)
	Notifications(ctx context.Context) ([]wire.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Engine drives one user's realtime state.
type Engine struct {
	userID    string
	session   LiveSession
	backend   Backend
	ledger    *ledger.Ledger
	roster    *roster.Roster
	presenter *notify.Presenter
	bus       *bus.Bus
	logger    *zap.Logger

	mu           sync.RWMutex
	active       string
	conversation []wire.ChatMessage
	seen         *seenSet
}

// New creates an engine for userID. Nothing is subscribed until Start.
func New(userID string, session LiveSession, backend Backend, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		userID:    userID,
		session:   session,
		backend:   backend,
		ledger:    ledger.New(),
		roster:    roster.New(),
		presenter: notify.New(),
		bus:       b,
		logger:    logger,
		seen:      newSeenSet(seenCapacity),
	}
}

// Start subscribes the session to the user's topics and loads the REST
// baselines. Subscriptions are registered first so nothing pushed during
// the baseline fetch is missed. The reconcile wins over any interim
// increments regardless.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.session.Subscribe(wire.ChatTopic(e.userID), e.handleChatEvent); err != nil {
		return err
	}
	if err := e.session.Subscribe(wire.NotifyTopic(e.userID), e.handleNotifyEvent); err != nil {
		return err
	}
	if err := e.session.Subscribe(wire.NotifyCountTopic(e.userID), e.handleCountEvent); err != nil {
		return err
	}
	return e.LoadBaseline(ctx)
}

// Stop severs the live session. No events are delivered afterwards.
func (e *Engine) Stop() error {
	return e.session.Close()
}

// LoadBaseline fetches the REST contact and notification baselines and
// reconciles local state wholesale (last reconcile wins).
func (e *Engine) LoadBaseline(ctx context.Context) error {
	contacts, err := e.backend.Contacts(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int, len(contacts))
	for _, c := range contacts {
		counts[c.ID] = c.Unread
	}
	e.roster.Reconcile(contacts)
	e.ledger.Reconcile(counts)
	e.publishView("view.contacts")

	notifications, err := e.backend.Notifications(ctx)
	if err != nil {
		return err
	}
	e.presenter.Load(notifications)
	e.publishView("view.notifications")

	e.logger.Info("baseline loaded",
		zap.Int("contacts", len(contacts)),
		zap.Int("notifications", len(notifications)))
	return nil
}

// handleChatEvent processes one pushed chat message: append it to the open
// conversation if it belongs there, and bump the sender's unread count if
// it does not. Duplicate frames are suppressed by message id.
func (e *Engine) handleChatEvent(payload json.RawMessage) {
	var msg wire.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Warn("malformed chat event dropped", zap.Error(err))
		return
	}

	e.mu.Lock()
	if e.seen.observe(msg.ID) {
		e.mu.Unlock()
		e.logger.Debug("duplicate frame suppressed", zap.String("msg_id", msg.ID))
		return
	}

	// The conversation peer: the sender for inbound messages, the
	// recipient for echoes of our own sends.
	peer := msg.SenderID
	fromSelf := msg.SenderID == e.userID
	if fromSelf {
		peer = msg.RecipientID
	}

	activePeer := peer == e.active
	if activePeer {
		e.conversation = append(e.conversation, msg)
	}
	e.mu.Unlock()

	// Messages for the open conversation are read as they arrive; only
	// events from other senders increment their counter.
	if !fromSelf && !activePeer {
		e.ledger.Increment(msg.SenderID)
		if _, known := e.roster.Get(msg.SenderID); !known {
			// First contact from a new peer; the next baseline fetch
			// fills in the profile fields.
			e.roster.Upsert(roster.Contact{ID: msg.SenderID})
		}
		e.publishView("view.contacts")
	}

	e.bus.Publish(bus.Event{Kind: "chat.message", Timestamp: time.Now(), Payload: msg})
	if activePeer {
		e.publishView("view.conversation")
	}
}

func (e *Engine) handleNotifyEvent(payload json.RawMessage) {
	var n wire.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		e.logger.Warn("malformed notification dropped", zap.Error(err))
		return
	}
	e.presenter.Add(n)
	e.bus.Publish(bus.Event{Kind: "notify.event", Timestamp: time.Now(), Payload: n})
	e.publishView("view.notifications")
}

func (e *Engine) handleCountEvent(payload json.RawMessage) {
	var count int
	if err := json.Unmarshal(payload, &count); err != nil {
		e.logger.Warn("malformed count event dropped", zap.Error(err))
		return
	}
	e.presenter.SetCount(count)
	e.bus.Publish(bus.Event{Kind: "notify.count", Timestamp: time.Now(), Payload: count})
	e.publishView("view.notifications")
}

// OpenConversation fetches the history with peerID, makes it the active
// conversation and zeroes its unread counter. The two effects are applied
// together: a failed history fetch leaves the previous conversation and the
// counter untouched.
func (e *Engine) OpenConversation(ctx context.Context, peerID string) ([]wire.ChatMessage, error) {
	history, err := e.backend.History(ctx, peerID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.active = peerID
	e.conversation = append([]wire.ChatMessage(nil), history...)
	e.mu.Unlock()

	e.ledger.Reset(peerID)
	e.publishView("view.contacts")
	e.publishView("view.conversation")
	return e.Conversation(), nil
}

// CloseConversation leaves the active conversation. In-flight sends are not
// cancelled.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	e.active = ""
	e.conversation = nil
	e.mu.Unlock()
	e.publishView("view.conversation")
}

// ActiveConversation returns the peer id of the open conversation, or "".
func (e *Engine) ActiveConversation() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Conversation returns a copy of the open conversation, oldest first.
func (e *Engine) Conversation() []wire.ChatMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]wire.ChatMessage(nil), e.conversation...)
}

// Contacts returns the ranked contact list with current unread counts.
func (e *Engine) Contacts() []roster.Contact {
	return e.roster.Ranked(e.ledger.Counts())
}

// UnreadTotal returns the sum of per-contact unread message counts.
func (e *Engine) UnreadTotal() int {
	return e.ledger.Total()
}

// Notifications returns the notification list, newest first.
func (e *Engine) Notifications() []wire.Notification {
	return e.presenter.Notifications()
}

// NotificationUnread returns the displayed unread-notification count.
func (e *Engine) NotificationUnread() int {
	return e.presenter.UnreadCount()
}

// MarkNotificationRead marks one notification read locally and mirrors the
// change to the backend. The local mutation is authoritative for the view;
// a failed REST call is logged and corrected by the next baseline.
func (e *Engine) MarkNotificationRead(ctx context.Context, id string) {
	if !e.presenter.MarkRead(id) {
		return
	}
	e.publishView("view.notifications")
	if err := e.backend.MarkNotificationRead(ctx, id); err != nil {
		e.logger.Warn("mark-read not persisted", zap.String("id", id), zap.Error(err))
	}
}

// MarkAllNotificationsRead marks everything read locally and on the backend.
func (e *Engine) MarkAllNotificationsRead(ctx context.Context) {
	e.presenter.MarkAllRead()
	e.publishView("view.notifications")
	if err := e.backend.MarkAllNotificationsRead(ctx); err != nil {
		e.logger.Warn("mark-all-read not persisted", zap.Error(err))
	}
}

func (e *Engine) publishView(kind string) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
}
