// Package venue implements the WebSocket client the equity engine and
// settlement coordinator use to push balance, freeze and covered-funds
// frames to a venue (it only writes; nothing is read back), grounded on the
// subscribe/authenticate/reconnect client shape used elsewhere in the
// example corpus for exchange connectivity (gorilla/websocket with a JSON
// envelope, cenkalti/backoff for reconnect).
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xvault/settlement/internal/fixedpoint"
)

// Message is the wire envelope for every frame exchanged with a venue.
type Message struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id,omitempty"`
	Equity    int64           `json:"equity,omitempty"`
	Sequence  int64           `json:"sequence,omitempty"`
	Amount    int64           `json:"amount,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Client is a single venue's WebSocket connection. It implements
// equity.VenueAdapter (SetUserBalance, FreezeNewOrders) and
// settlement.VenueForwarder (ForwardCoveredFunds) against one venue each.
type Client struct {
	name     string
	endpoint string
	log      zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	dialTimeout time.Duration
}

// New creates a Client for one venue. Dial is lazy: the first Send
// establishes the connection, and every Send reconnects with exponential
// backoff if the connection has dropped.
func New(name, endpoint string, log zerolog.Logger) *Client {
	return &Client{
		name:        name,
		endpoint:    endpoint,
		log:         log.With().Str("venue", name).Logger(),
		dialTimeout: 5 * time.Second,
	}
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	var conn *websocket.Conn
	op := func() error {
		dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
		dc, _, err := dialer.DialContext(ctx, c.endpoint, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", c.endpoint, err)
		}
		conn = dc
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(eb, ctx)); err != nil {
		return nil, err
	}

	c.conn = conn
	return conn, nil
}

func (c *Client) send(ctx context.Context, msg Message) error {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// SetUserBalance pushes a user's recomputed cross-venue equity and
// strictly-increasing sequence number to the venue.
func (c *Client) SetUserBalance(ctx context.Context, user uuid.UUID, equity int64, sequence int64) error {
	err := c.send(ctx, Message{Type: "set_balance", UserID: user.String(), Equity: equity, Sequence: sequence})
	if err != nil {
		c.log.Warn().Err(err).Str("user", user.String()).Msg("set_balance push failed")
	}
	return err
}

// FreezeNewOrders tells the venue to stop accepting new orders for user
// because their cross-venue margin is overspent.
func (c *Client) FreezeNewOrders(ctx context.Context, user uuid.UUID) error {
	err := c.send(ctx, Message{Type: "freeze", UserID: user.String()})
	if err != nil {
		c.log.Warn().Err(err).Str("user", user.String()).Msg("freeze push failed")
	}
	return err
}

// ForwardCoveredFunds returns an amount covered by the insurance
// waterfall back to the venue that reported the shortfall.
func (c *Client) ForwardCoveredFunds(ctx context.Context, venue string, user uuid.UUID, amount fixedpoint.Money) error {
	return c.send(ctx, Message{Type: "covered_funds", UserID: user.String(), Amount: int64(amount)})
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
