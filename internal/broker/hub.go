// Package broker is the relay server: it authenticates websocket sessions,
// attaches them to their own per-user topics, and fans pushed events out to
// every live session of the target user. Nothing is buffered for
// disconnected users; clients resubscribe and re-fetch baselines on
// reconnect.
package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/craftlance/relay/internal/wire"
)

// ErrBadToken is returned by an Authenticator for an invalid token.
var ErrBadToken = errors.New("broker: invalid token")

// Authenticator validates a bearer token and returns the user it belongs
// to. Topic names are derived from this result, never from client input.
type Authenticator func(token string) (userID string, err error)

// Hub is the per-user topic registry. One user may hold several concurrent
// sessions (multiple tabs); every event is fanned out to all of them.
type Hub struct {
	auth   Authenticator
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]map[*session]struct{}
}

// NewHub creates a hub using auth to admit sessions.
func NewHub(auth Authenticator, logger *zap.Logger) *Hub {
	return &Hub{
		auth:     auth,
		logger:   logger,
		sessions: make(map[string]map[*session]struct{}),
	}
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	set, ok := h.sessions[s.userID]
	if !ok {
		set = make(map[*session]struct{})
		h.sessions[s.userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	sessionsActive.Inc()
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	if set, ok := h.sessions[s.userID]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			sessionsActive.Dec()
		}
		if len(set) == 0 {
			delete(h.sessions, s.userID)
		}
	}
	h.mu.Unlock()
}

// SessionCount reports the number of live sessions for a user.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Route delivers a chat message to the recipient's chat topic and echoes it
// on the sender's, which is the only delivery confirmation the sender gets.
func (h *Hub) Route(msg wire.ChatMessage) {
	h.publish(msg.RecipientID, wire.ChatTopic(msg.RecipientID), msg)
	if msg.SenderID != msg.RecipientID {
		h.publish(msg.SenderID, wire.ChatTopic(msg.SenderID), msg)
	}
	messagesRouted.Inc()
}

// PushNotification delivers a notification on the user's notification topic.
func (h *Hub) PushNotification(userID string, n wire.Notification) {
	h.publish(userID, wire.NotifyTopic(userID), n)
}

// PushUnreadCount delivers an authoritative unread-notification count on the
// user's count topic.
func (h *Hub) PushUnreadCount(userID string, count int) {
	h.publish(userID, wire.NotifyCountTopic(userID), count)
}

// publish fans an event frame out to every session of the topic's user that
// has subscribed to the topic.
func (h *Hub) publish(userID, topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode event payload", zap.Error(err), zap.String("topic", topic))
		return
	}
	frame, err := json.Marshal(wire.Frame{Op: wire.OpEvent, Topic: topic, Payload: raw})
	if err != nil {
		h.logger.Error("encode event frame", zap.Error(err), zap.String("topic", topic))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[userID] {
		if !s.subscribed(topic) {
			continue
		}
		select {
		case s.send <- frame:
		default:
			framesDropped.Inc()
			h.logger.Warn("outbound queue full, frame dropped",
				zap.String("user", s.userID), zap.String("topic", topic))
		}
	}
}

// handleFrame processes one inbound frame from a session.
func (h *Hub) handleFrame(s *session, frame wire.Frame) {
	switch frame.Op {
	case wire.OpSubscribe:
		// A session may only attach to its own user's topics.
		if !ownTopic(s.userID, frame.Topic) {
			h.logger.Warn("subscription to foreign topic rejected",
				zap.String("user", s.userID), zap.String("topic", frame.Topic))
			s.reject(frame.Topic, "topic not available to this session")
			return
		}
		s.subscribe(frame.Topic)

	case wire.OpPublish:
		if frame.Topic != wire.SendMessageDest {
			s.reject(frame.Topic, "unknown destination")
			return
		}
		var msg wire.ChatMessage
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			s.reject(frame.Topic, "malformed message")
			return
		}
		if msg.RecipientID == "" {
			s.reject(frame.Topic, "missing recipient")
			return
		}
		// The sender identity comes from the session, not the payload.
		msg.SenderID = s.userID
		if msg.TimestampMs == 0 {
			msg.TimestampMs = time.Now().UnixMilli()
		}
		h.Route(msg)

	default:
		s.reject(frame.Topic, "unexpected op")
	}
}

func ownTopic(userID, topic string) bool {
	for _, t := range wire.UserTopics(userID) {
		if t == topic {
			return true
		}
	}
	return false
}
