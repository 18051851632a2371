// Package transport owns the long-lived websocket connection to the relay
// server for a single authenticated user: it establishes it, authenticates
// it, and re-establishes it after failure, re-issuing all topic
// subscriptions on every successful (re)connection since the relay buffers
// nothing across disconnects.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/craftlance/relay/internal/bus"
	"github.com/craftlance/relay/internal/config"
	"github.com/craftlance/relay/internal/status"
	"github.com/craftlance/relay/internal/wire"
)

var (
	// ErrAuthentication means the relay rejected the token. Fatal for the
	// session; the user must log in again.
	ErrAuthentication = errors.New("transport: authentication rejected")
	// ErrTransport is a socket-level failure. Recoverable by retry.
	ErrTransport = errors.New("transport: connection failed")
	// ErrClosed is returned for operations on a torn-down session.
	ErrClosed = errors.New("transport: session closed")
	// ErrNotConnected is returned when publishing while the session is
	// between connections.
	ErrNotConnected = errors.New("transport: not connected")
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 1 << 20
)

// Handler consumes the payload of one pushed event for a subscribed topic.
// Handlers run on the session's single read goroutine, in frame order.
type Handler func(payload json.RawMessage)

// Session is one live connection for one authenticated user.
type Session struct {
	userID  string
	token   string
	url     string
	retry   config.Retry
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]Handler
	closed   bool
	pingStop chan struct{}
}

// NewSession creates a session for userID authenticating with token. Nothing
// is dialed until Connect.
func NewSession(url, userID, token string, retry config.Retry, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Session {
	return &Session{
		userID:   userID,
		token:    token,
		url:      url,
		retry:    retry,
		machine:  m,
		bus:      b,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string]Handler),
	}
}

// UserID returns the authenticated user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// State returns the current connection state.
func (s *Session) State() status.State { return s.machine.Current() }

// Connect dials and authenticates the relay, then starts the read loop.
// A rejected token fails with ErrAuthentication; socket-level failures fail
// with ErrTransport.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if err := s.machine.Transition(status.Connecting); err != nil {
		return err
	}

	conn, err := s.dial(ctx)
	if err != nil {
		s.machine.Fail(err)
		return err
	}

	s.install(conn)
	if err := s.resubscribe(); err != nil {
		s.machine.Fail(err)
		conn.Close()
		return err
	}
	_ = s.machine.Transition(status.Connected)

	go s.readLoop(conn)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthentication
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return conn, nil
}

// Subscribe attaches handler to a topic. The subscription is sent now if
// connected and re-issued automatically after every reconnect.
func (s *Session) Subscribe(topic string, handler Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.handlers[topic] = handler
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.writeFrame(wire.Frame{Op: wire.OpSubscribe, Topic: topic})
}

// Publish sends payload to a server-side destination. Fire-and-forget: a nil
// return means the frame was handed to the socket, not that it was
// delivered.
func (s *Session) Publish(destination string, payload any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: encode payload: %w", err)
	}
	return s.writeFrame(wire.Frame{Op: wire.OpPublish, Topic: destination, Payload: raw})
}

// Close tears the session down. No events are delivered afterwards; any
// in-flight Publish fails with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	}
	s.machine.Fail(nil)
	return nil
}

func (s *Session) install(conn *websocket.Conn) {
	s.mu.Lock()
	if s.pingStop != nil {
		close(s.pingStop)
	}
	s.conn = conn
	s.pingStop = make(chan struct{})
	stop := s.pingStop
	s.mu.Unlock()

	go s.pingLoop(conn, stop)
}

// resubscribe re-issues every recorded subscription on the current
// connection.
func (s *Session) resubscribe() error {
	s.mu.Lock()
	topics := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		topics = append(topics, t)
	}
	s.mu.Unlock()

	for _, t := range topics {
		if err := s.writeFrame(wire.Frame{Op: wire.OpSubscribe, Topic: t}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writeFrame(f wire.Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (s *Session) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// readLoop pumps frames until the connection breaks, then runs the
// reconnect policy. It is the only goroutine that invokes handlers, so all
// downstream state mutation is serialized.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadLimit(maxFrameSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		err := s.pump(conn)
		conn.Close()

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		s.logger.Warn("connection lost, reconnecting", zap.Error(err))
		next, rcErr := s.reconnect()
		if rcErr != nil {
			s.machine.Fail(rcErr)
			s.bus.Publish(bus.Event{
				Kind:      "session.failed",
				Timestamp: time.Now(),
				Payload:   rcErr,
			})
			return
		}
		conn = next
	}
}

func (s *Session) pump(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame wire.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Warn("malformed frame dropped", zap.Error(err))
			continue
		}

		switch frame.Op {
		case wire.OpEvent:
			s.dispatch(frame)
		case wire.OpError:
			s.logger.Warn("relay rejected frame", zap.String("topic", frame.Topic), zap.String("error", frame.Error))
		default:
			s.logger.Warn("unexpected frame op", zap.String("op", string(frame.Op)))
		}
	}
}

func (s *Session) dispatch(frame wire.Frame) {
	s.mu.Lock()
	handler := s.handlers[frame.Topic]
	s.mu.Unlock()

	if handler == nil {
		s.logger.Warn("event for unknown topic dropped", zap.String("topic", frame.Topic))
		return
	}
	handler(frame.Payload)
}

// reconnect retries the dial with exponential backoff up to the configured
// bound, re-issuing subscriptions on success. A single dropped connection is
// never surfaced to the user; only policy exhaustion or a token rejection is.
func (s *Session) reconnect() (*websocket.Conn, error) {
	if err := s.machine.Transition(status.Connecting); err != nil {
		return nil, err
	}

	delay := time.Duration(s.retry.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(s.retry.MaxDelayMs) * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		time.Sleep(delay)
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		conn, err := s.dial(context.Background())
		if err != nil {
			if errors.Is(err, ErrAuthentication) {
				// Credentials are no longer valid; retrying cannot help.
				return nil, err
			}
			lastErr = err
			s.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.retry.MaxAttempts),
				zap.Error(err))
			continue
		}

		s.install(conn)
		if err := s.resubscribe(); err != nil {
			lastErr = err
			conn.Close()
			continue
		}
		_ = s.machine.Transition(status.Connected)
		s.logger.Info("reconnected", zap.Int("attempt", attempt))
		return conn, nil
	}

	if lastErr == nil {
		lastErr = ErrTransport
	}
	return nil, fmt.Errorf("retry policy exhausted after %d attempts: %w", s.retry.MaxAttempts, lastErr)
}
