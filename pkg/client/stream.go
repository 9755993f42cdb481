package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/server/api"
)

const (
	maxReconnectBackoff     = 30 * time.Second
	initialReconnectBackoff = 1 * time.Second
	pingInterval            = 30 * time.Second
	pongTimeout             = 60 * time.Second
)

// Stream follows /v1/stream, reconnecting with jittered exponential backoff
// and re-subscribing after each reconnect.
type Stream struct {
	url            string
	categories     []string
	logger         *logging.Logger
	conn           *websocket.Conn
	mu             sync.RWMutex
	updates        chan api.PriceUpdateMessage
	closed         chan struct{}
	closeOnce      sync.Once
	reconnectDelay time.Duration
	initialDelay   time.Duration
}

// NewStream creates a stream client for the server at baseURL (http or ws
// scheme). An empty categories list subscribes to everything.
func NewStream(baseURL string, categories []string, logger *logging.Logger) *Stream {
	url := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	if !strings.HasSuffix(url, "/v1/stream") {
		url += "/v1/stream"
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Stream{
		url:            url,
		categories:     categories,
		logger:         logger.With("component", "stream"),
		updates:        make(chan api.PriceUpdateMessage, 100),
		closed:         make(chan struct{}),
		reconnectDelay: initialReconnectBackoff,
		initialDelay:   initialReconnectBackoff,
	}
}

// Start begins the connection loop.
func (s *Stream) Start(ctx context.Context) {
	s.logger.Info("Starting stream client", "url", s.url)
	go s.loop(ctx)
}

// Updates returns the channel of received price updates.
func (s *Stream) Updates() <-chan api.PriceUpdateMessage {
	return s.updates
}

// Close stops the stream.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.logger.Warn("Failed to connect to stream", "error", err)

			// Jitter is a random value in [0, reconnectDelay/2).
			jitter := time.Duration(rand.Int63n(int64(s.reconnectDelay)/2 + 1))
			wait := s.reconnectDelay + jitter

			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case <-time.After(wait):
				s.reconnectDelay *= 2
				if s.reconnectDelay > maxReconnectBackoff {
					s.reconnectDelay = maxReconnectBackoff
				}
				continue
			}
		}

		s.reconnectDelay = s.initialDelay

		if err := s.readLoop(ctx); err != nil {
			s.logger.Warn("Stream read error", "error", err)
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	categories := s.categories
	if len(categories) == 0 {
		categories = []string{"*"}
	}
	if err := conn.WriteJSON(api.StreamMessage{Type: "subscribe", Categories: categories}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Stream connected and subscribed", "categories", categories)
	return nil
}

func (s *Stream) readLoop(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNoConnection
	}
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	messageCh := make(chan api.PriceUpdateMessage, 10)
	errorCh := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

			var msg api.PriceUpdateMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Debug("Skipping undecodable stream message", "error", err)
				continue
			}
			// Acknowledgements and pongs share the socket.
			if msg.Type != "price_update" {
				continue
			}
			select {
			case messageCh <- msg:
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		case <-pingTicker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			s.mu.Unlock()
			if err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		case err := <-errorCh:
			return err
		case msg := <-messageCh:
			select {
			case s.updates <- msg:
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closed:
				return nil
			}
		}
	}
}
