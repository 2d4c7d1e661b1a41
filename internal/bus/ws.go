package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket subscriber behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// wsFrame is the wire format for signal frames: {"signal": "prices.updated"}.
type wsFrame struct {
	Signal string `json:"signal"`
}

// WSSubscriber receives signal frames from an external feed over a
// WebSocket and fans them out to local subscribers. Frames carry only a
// signal name, so a dropped connection loses nothing that a fresh delivery
// after reconnect would not replace.
type WSSubscriber struct {
	endpoint string
	config   WSConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	subs   map[string][]chan struct{}
	subsMu sync.Mutex

	reconnecting atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Subscriber = (*WSSubscriber)(nil)

// NewWSSubscriber connects to the endpoint and starts the read and ping
// loops.
func NewWSSubscriber(ctx context.Context, endpoint string, config *WSConfig, logger *log.Logger) (*WSSubscriber, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &WSSubscriber{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		subs:     make(map[string][]chan struct{}),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// connect establishes WebSocket connection.
func (s *WSSubscriber) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// Subscribe registers a local channel for the signal. The channel is closed
// when ctx is cancelled or the subscriber shuts down.
func (s *WSSubscriber) Subscribe(ctx context.Context, signal string) (<-chan struct{}, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("subscriber closed")
	}

	ch := make(chan struct{}, 1)

	s.subsMu.Lock()
	s.subs[signal] = append(s.subs[signal], ch)
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.remove(signal, ch)
		case <-s.done:
		}
	}()

	return ch, nil
}

// Close shuts down the connection and closes all subscriber channels.
func (s *WSSubscriber) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.subsMu.Lock()
	for signal, chans := range s.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(s.subs, signal)
	}
	s.subsMu.Unlock()

	s.wg.Wait()
	return nil
}

// readLoop reads frames and dispatches them to subscribers.
func (s *WSSubscriber) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect attempts to re-establish the connection after a read failure.
func (s *WSSubscriber) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.Printf("[bus] ws reconnect failed: %v", err)
		return
	}
	s.logger.Printf("[bus] ws reconnected to %s", s.endpoint)
}

func (s *WSSubscriber) handleMessage(message []byte) {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil || frame.Signal == "" {
		return
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs[frame.Signal] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *WSSubscriber) remove(signal string, ch chan struct{}) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	chans := s.subs[signal]
	for i, c := range chans {
		if c == ch {
			s.subs[signal] = append(chans[:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *WSSubscriber) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
