package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/server/aggregator"
)

const (
	pingInterval = 54 * time.Second
	readDeadline = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// StreamHub fans fresh aggregations out to WebSocket subscribers.
type StreamHub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*streamClient]bool

	updates chan *aggregator.AggregatedPrice
}

type streamClient struct {
	conn          *websocket.Conn
	send          chan []byte
	hub           *StreamHub
	subscribedAll bool
	categories    map[string]bool
	mu            sync.RWMutex
}

// StreamMessage is a client control message.
type StreamMessage struct {
	Type       string   `json:"type"` // "subscribe", "unsubscribe", "ping"
	Categories []string `json:"categories"`
}

// PriceUpdateMessage is sent to subscribed clients.
type PriceUpdateMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Card      CardRef     `json:"card"`
	Price     PriceUpdate `json:"price"`
}

// CardRef identifies the card a price update is for.
type CardRef struct {
	Name           string `json:"name"`
	SetName        string `json:"setName,omitempty"`
	CardNumber     string `json:"cardNumber,omitempty"`
	GradingCompany string `json:"gradingCompany,omitempty"`
	Grade          string `json:"grade,omitempty"`
	ExternalID     string `json:"externalId,omitempty"`
}

// PriceUpdate is the priced part of an update.
type PriceUpdate struct {
	MarketPrice  *float64 `json:"market_price"`
	LowestListed *float64 `json:"lowest_listed"`
	Confidence   int      `json:"confidence"`
	Sources      []string `json:"sources"`
	Category     string   `json:"category"`
	ProductID    string   `json:"product_id,omitempty"`
}

// NewStreamHub creates a hub. Call Run to start broadcasting.
func NewStreamHub(logger *logging.Logger) *StreamHub {
	return &StreamHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*streamClient]bool),
		updates: make(chan *aggregator.AggregatedPrice, 100),
	}
}

// Publish queues an aggregation for broadcast. It never blocks the caller;
// updates are dropped when the queue is full. Its signature matches
// aggregator.Listener.
func (h *StreamHub) Publish(p *aggregator.AggregatedPrice) {
	if p == nil {
		return
	}
	select {
	case h.updates <- p:
	default:
		h.logger.Warn("Update channel full, dropping price update", "name", p.Query.Name)
	}
}

// Run broadcasts queued updates until ctx is done, then disconnects clients.
func (h *StreamHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case p := <-h.updates:
			h.broadcast(p)
		}
	}
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and registers the client.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &streamClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           h,
		subscribedAll: true,
		categories:    make(map[string]bool),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()

	h.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr().String())
}

func (h *StreamHub) register(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *StreamHub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *StreamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func newPriceUpdate(p *aggregator.AggregatedPrice, now time.Time) PriceUpdateMessage {
	sources := p.Sources
	if sources == nil {
		sources = []string{}
	}
	return PriceUpdateMessage{
		Type:      "price_update",
		Timestamp: now.UTC().Format(time.RFC3339),
		Card: CardRef{
			Name:           p.Query.Name,
			SetName:        p.Query.SetName,
			CardNumber:     p.Query.CardNumber,
			GradingCompany: p.Query.GradingCompany,
			Grade:          p.Query.Grade,
			ExternalID:     p.Query.ExternalID,
		},
		Price: PriceUpdate{
			MarketPrice:  nullFloat(p.MarketPrice),
			LowestListed: nullFloat(p.LowestListed),
			Confidence:   p.Confidence,
			Sources:      sources,
			Category:     string(p.Category),
			ProductID:    p.ProductID,
		},
	}
}

func (h *StreamHub) broadcast(p *aggregator.AggregatedPrice) {
	data, err := json.Marshal(newPriceUpdate(p, time.Now()))
	if err != nil {
		h.logger.Error("Failed to marshal price update", "error", err)
		return
	}

	category := string(p.Category)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.shouldReceive(category) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Client send buffer full, skipping update")
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *streamClient) handleMessage(data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Categories)
		c.reply(map[string]interface{}{"type": "subscribed", "categories": c.subscriptions()})
	case "unsubscribe":
		c.unsubscribe(msg.Categories)
		c.reply(map[string]interface{}{"type": "unsubscribed", "categories": c.subscriptions()})
	case "ping":
		c.reply(map[string]string{"type": "pong"})
	default:
		c.hub.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

func isWildcard(categories []string) bool {
	return len(categories) == 0 || (len(categories) == 1 && categories[0] == "*")
}

func (c *streamClient) subscribe(categories []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isWildcard(categories) {
		c.subscribedAll = true
		c.categories = make(map[string]bool)
		return
	}
	c.subscribedAll = false
	for _, cat := range categories {
		c.categories[strings.ToLower(cat)] = true
	}
}

func (c *streamClient) unsubscribe(categories []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isWildcard(categories) {
		c.subscribedAll = false
		c.categories = make(map[string]bool)
		return
	}
	for _, cat := range categories {
		delete(c.categories, strings.ToLower(cat))
	}
}

func (c *streamClient) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subscribedAll {
		return []string{"*"}
	}
	out := make([]string, 0, len(c.categories))
	for cat := range c.categories {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

func (c *streamClient) shouldReceive(category string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribedAll || c.categories[category]
}

// reply may race with unregister closing send; the hub lock guards that.
func (c *streamClient) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
