package marketfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// ErrMalformedMessage marks an inbound frame that could not be decoded.
// The connection stays usable after it.
var ErrMalformedMessage = errors.New("malformed feed message")

// ErrNotConnected is returned by operations issued before Connect.
var ErrNotConnected = errors.New("feed not connected")

// KeepaliveFrame is the text frame sent on every ping tick.
const KeepaliveFrame = "PING"

const writeWait = 10 * time.Second

// Client implements a MarketStream over one WebSocket connection.
type Client struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// New creates a feed client for url.
func New(url string) drepo.MarketStream {
	return &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
	}
}

// Connect establishes the WebSocket connection, replacing any previous one.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

type subscribeMessage struct {
	InstrumentIDs []string `json:"instrumentIds"`
}

// Subscribe sends one subscription message listing every instrument id.
func (c *Client) Subscribe(_ context.Context, instrumentIDs []string) error {
	return c.write(func(conn *websocket.Conn) error {
		return conn.WriteJSON(subscribeMessage{InstrumentIDs: instrumentIDs})
	})
}

// Ping sends the keepalive text frame.
func (c *Client) Ping(_ context.Context) error {
	return c.write(func(conn *websocket.Conn) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(KeepaliveFrame))
	})
}

func (c *Client) write(fn func(*websocket.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := fn(c.conn); err != nil {
		return fmt.Errorf("feed write: %w", err)
	}
	return nil
}

type deltaMessage struct {
	InstrumentID string          `json:"instrumentId"`
	NewPrice     json.RawMessage `json:"newPrice"`
	Timestamp    int64           `json:"timestamp,omitempty"` // ms
}

// Next blocks until a price delta arrives. Keepalive frames are skipped.
// A frame that cannot be decoded returns an error wrapping ErrMalformedMessage.
func (c *Client) Next(ctx context.Context) (models.PriceDelta, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return models.PriceDelta{}, ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return models.PriceDelta{}, ctx.Err()
			}
			return models.PriceDelta{}, fmt.Errorf("feed read: %w", err)
		}
		if isKeepalive(b) {
			continue
		}
		return Decode(b)
	}
}

// Decode parses a delta frame. newPrice may be a JSON number or a quoted number.
func Decode(b []byte) (models.PriceDelta, error) {
	var m deltaMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return models.PriceDelta{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.InstrumentID == "" || len(m.NewPrice) == 0 {
		return models.PriceDelta{}, fmt.Errorf("%w: missing instrumentId or newPrice", ErrMalformedMessage)
	}
	price, err := parsePrice(m.NewPrice)
	if err != nil {
		return models.PriceDelta{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return models.PriceDelta{}, fmt.Errorf("%w: newPrice %v out of range", ErrMalformedMessage, price)
	}
	d := models.PriceDelta{InstrumentID: m.InstrumentID, Price: price}
	if m.Timestamp > 0 {
		d.Timestamp = time.UnixMilli(m.Timestamp)
	}
	return d, nil
}

func parsePrice(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("newPrice: %w", err)
	}
	return strconv.ParseFloat(s, 64)
}

func isKeepalive(b []byte) bool {
	b = bytes.TrimSpace(b)
	return bytes.EqualFold(b, []byte("PING")) || bytes.EqualFold(b, []byte("PONG"))
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}
