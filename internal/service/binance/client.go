// Package binance streams 1-minute klines for one symbol over the Binance websocket API.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	drepo "BotArena/internal/domain/repository"
	applogger "BotArena/pkg/logger"

	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("binance: not connected")

// Client implements a PriceStream backed by the Binance kline websocket.
type Client struct {
	websocketURL   string
	symbol         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *applogger.Logger

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
	mu      sync.RWMutex
	conn    *websocket.Conn
	nextID  int
}

var _ drepo.PriceStream = (*Client)(nil)

// New creates a kline stream for symbol (e.g. "btcusdt").
func New(websocketURL, symbol string, reconnectDelay, pingInterval time.Duration, log *applogger.Logger) *Client {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		websocketURL:   strings.TrimRight(websocketURL, "/"),
		symbol:         strings.ToLower(symbol),
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log.With("binance"),
	}
}

func (c *Client) streamName() string { return c.symbol + "@kline_1m" }

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("connected", applogger.String("url", c.websocketURL))
	return nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Subscribe asks for the symbol's 1-minute kline stream.
func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.nextID++
	req := subscribeRequest{Method: "SUBSCRIBE", Params: []string{c.streamName()}, ID: c.nextID}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.streamName(), err)
	}
	c.log.Info("subscribed", applogger.String("stream", c.streamName()))
	return nil
}

type kline struct {
	Symbol    string `json:"s"`
	CloseTime int64  `json:"T"`
	Close     string `json:"c"`
	Closed    bool   `json:"x"`
}

type klineEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	K         kline  `json:"k"`
}

// ParseKline decodes a kline frame. ok is false for any other frame (subscription acks, pongs).
func ParseKline(b []byte) (models.PriceTick, bool) {
	var ev klineEvent
	if err := json.Unmarshal(b, &ev); err != nil || ev.Event != "kline" {
		return models.PriceTick{}, false
	}
	price, err := strconv.ParseFloat(ev.K.Close, 64)
	if err != nil || price <= 0 {
		return models.PriceTick{}, false
	}
	ms := ev.EventTime
	if ev.K.Closed && ev.K.CloseTime > 0 {
		ms = ev.K.CloseTime
	}
	return models.PriceTick{
		PricePoint: models.PricePoint{Time: time.UnixMilli(ms).UTC(), Price: price},
		Closed:     ev.K.Closed,
	}, true
}

// Read streams kline updates and at most one error. Both channels close when the connection drops or ctx ends.
func (c *Client) Read(ctx context.Context) (<-chan models.PriceTick, <-chan error) {
	ticks := make(chan models.PriceTick, 256)
	errs := make(chan error, 1)
	conn := c.current()

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if conn == nil || c.current() != conn {
					return
				}
				c.writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.writeMu.Unlock()
			}
		}
	}()

	// read loop
	go func() {
		defer close(ticks)
		defer close(errs)
		if conn == nil {
			errs <- errNotConnected
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("binance read: %w", err)
				}
				return
			}
			t, ok := ParseKline(b)
			if !ok {
				continue
			}
			select {
			case ticks <- t:
			case <-ctx.Done():
				return
			default:
				// drop on backpressure; the next update supersedes it
			}
		}
	}()

	return ticks, errs
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) IsConnected() bool { return c.current() != nil }

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}
