package broker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/craftlance/relay/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendQueueDepth = 128
)

// session is one live websocket connection of one authenticated user.
type session struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]struct{}

	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *session {
	return &session{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendQueueDepth),
		logger: logger,
		topics: make(map[string]struct{}),
	}
}

func (s *session) subscribe(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *session) subscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

// reject queues an error frame for a bad client request.
func (s *session) reject(topic, reason string) {
	raw, err := json.Marshal(wire.Frame{Op: wire.OpError, Topic: topic, Error: reason})
	if err != nil {
		return
	}
	select {
	case s.send <- raw:
	default:
		framesDropped.Inc()
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.hub.unregister(s)
		close(s.send)
	})
}

// readLoop pumps inbound frames into the hub until the connection breaks.
func (s *session) readLoop() {
	defer func() {
		s.close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("read failed", zap.String("user", s.userID), zap.Error(err))
			}
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.reject("", "malformed frame")
			continue
		}
		s.hub.handleFrame(s, frame)
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
