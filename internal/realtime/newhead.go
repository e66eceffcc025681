package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// NewHeadSubscriber is an optional `eth_subscribe("newHeads")` listener
// used only to shorten the realtime poller's wait between
// eth_getBlockByNumber("latest") calls (spec.md §4.F): it never replaces
// the poll-and-reconcile algorithm, since a missed or out-of-order
// notification must never cause a block to go unprocessed. Grounded on
// the teacher's internal/ingestion/websocket.go, generalized from a
// `logs` topic/address subscription to a bare `newHeads` subscription.
type NewHeadSubscriber struct {
	url  string
	conn *websocket.Conn
	mu   sync.Mutex

	subscriptionID string
	requestID      atomic.Int64

	nudge chan struct{}
	done  chan struct{}

	connected atomic.Bool
}

// NewNewHeadSubscriber builds a subscriber for wsURL. Connect must be
// called before Subscribe/ReadNotifications.
func NewNewHeadSubscriber(wsURL string) *NewHeadSubscriber {
	return &NewHeadSubscriber{
		url:   wsURL,
		nudge: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Connect dials the websocket endpoint.
func (c *NewHeadSubscriber) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("realtime: dialing websocket: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.conn = conn
	c.connected.Store(true)
	log.Info().Str("url", c.url).Msg("newHeads subscriber connected")
	return nil
}

// Close closes the connection.
func (c *NewHeadSubscriber) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.connected.Store(false)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *NewHeadSubscriber) IsConnected() bool {
	return c.connected.Load()
}

// Subscribe sends an eth_subscribe("newHeads") request.
func (c *NewHeadSubscriber) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("realtime: not connected")
	}

	id := c.requestID.Add(1)
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "eth_subscribe",
		"params":  []interface{}{"newHeads"},
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("realtime: writing subscribe request: %w", err)
	}
	return nil
}

// Nudges returns a channel that receives a value each time a newHeads
// notification arrives. It is always non-blocking (capacity 1, dropping
// redundant nudges) since its only purpose is to wake an idle poller
// early, not to carry payload.
func (c *NewHeadSubscriber) Nudges() <-chan struct{} {
	return c.nudge
}

// ReadNotifications reads frames until the connection closes, pushing a
// nudge for every newHeads notification. Errors here are non-fatal to the
// realtime syncer: the poll loop keeps working on its own schedule.
func (c *NewHeadSubscriber) ReadNotifications(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("realtime: connection closed")
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connected.Store(false)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("realtime: reading message: %w", err)
		}

		var msg struct {
			ID     *int64          `json:"id"`
			Result json.RawMessage `json:"result"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warn().Err(err).Msg("realtime: failed to parse newHeads frame")
			continue
		}

		if msg.ID != nil && msg.Result != nil {
			var subID string
			if json.Unmarshal(msg.Result, &subID) == nil && subID != "" {
				c.mu.Lock()
				c.subscriptionID = subID
				c.mu.Unlock()
			}
			continue
		}

		if msg.Method == "eth_subscription" {
			select {
			case c.nudge <- struct{}{}:
			default:
			}
		}
	}
}

// StartPingLoop keeps the connection alive with periodic pings.
func (c *NewHeadSubscriber) StartPingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Msg("realtime: newHeads ping failed")
			}
		}
	}
}
