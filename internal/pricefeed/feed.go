// Package pricefeed delivers the reference mid price for the watched
// instrument. The primary source is the exchange's allMids websocket
// stream; a REST polling quoter serves as fallback when the stream is
// stale or down.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"perp-ritual-lab/internal/observability"
)

// DefaultWSEndpoint is the exchange's public websocket endpoint.
const DefaultWSEndpoint = "wss://api.hyperliquid.xyz/ws"

// ErrStale means no fresh price has arrived within the staleness bound.
var ErrStale = errors.New("pricefeed: price is stale")

// Config configures the websocket feed.
type Config struct {
	Endpoint string
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the keepalive cadence.
	PingInterval time.Duration
	// ReadTimeout bounds a single read; the stream pushes mids roughly
	// once per second, so a quiet minute means the connection is dead.
	ReadTimeout time.Duration
	// WriteTimeout bounds subscribe and ping writes.
	WriteTimeout time.Duration
	// Staleness is how old a cached price may be before Quote refuses it.
	Staleness time.Duration
}

// DefaultConfig returns the production feed configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:          DefaultWSEndpoint,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Staleness:         15 * time.Second,
	}
}

type midsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

type subscribeMessage struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
}

func allMidsSubscription() subscribeMessage {
	var m subscribeMessage
	m.Method = "subscribe"
	m.Subscription.Type = "allMids"
	return m
}

// latestPrice is the cached observation; stored atomically so Quote
// never contends with the read loop.
type latestPrice struct {
	price float64
	at    time.Time
}

// Feed maintains a websocket subscription to the allMids channel and
// caches the latest mid for one symbol. It reconnects with exponential
// backoff and resubscribes after every reconnect.
type Feed struct {
	symbol string
	config Config
	logger *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	latest     atomic.Pointer[latestPrice]
	reconnects atomic.Uint64

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewFeed connects, subscribes, and starts the read and ping loops.
func NewFeed(ctx context.Context, symbol string, config Config, logger *log.Logger) (*Feed, error) {
	if logger == nil {
		logger = log.Default()
	}
	f := &Feed{
		symbol: symbol,
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// connect dials and subscribes. Caller must not hold connMu.
func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(allMidsSubscription()); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

// Quote returns the latest cached mid, refusing stale or absent data.
func (f *Feed) Quote(_ context.Context) (float64, error) {
	p := f.latest.Load()
	if p == nil {
		return 0, fmt.Errorf("%w: no price received yet", ErrStale)
	}
	if age := time.Since(p.at); age > f.config.Staleness {
		return 0, fmt.Errorf("%w: last update %s ago", ErrStale, age.Round(time.Millisecond))
	}
	return p.price, nil
}

// Reconnects returns how many times the feed has reconnected.
func (f *Feed) Reconnects() uint64 {
	return f.reconnects.Load()
}

// Close shuts the feed down and waits for the loops to exit.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

func (f *Feed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			f.logger.Printf("feed read error, reconnecting: %v", err)
			f.reconnect(reconnectDelay)

			reconnectDelay *= 2
			if reconnectDelay > f.config.MaxReconnectDelay {
				reconnectDelay = f.config.MaxReconnectDelay
			}
			continue
		}

		reconnectDelay = f.config.ReconnectDelay
		f.handleMessage(message)
	}
}

// reconnect tears down the dead connection, waits out the backoff
// delay, and dials again. Runs on the read loop goroutine so there is
// never more than one reconnect in flight.
func (f *Feed) reconnect(delay time.Duration) {
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	select {
	case <-f.done:
		return
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		f.logger.Printf("feed reconnect failed: %v", err)
		return
	}
	f.reconnects.Add(1)
	observability.RecordFeedReconnect()
}

func (f *Feed) handleMessage(message []byte) {
	var msg midsMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Channel != "allMids" {
		return
	}

	raw, ok := msg.Data.Mids[f.symbol]
	if !ok {
		return
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 || math.IsInf(price, 0) {
		return
	}

	f.latest.Store(&latestPrice{price: price, at: time.Now()})
}

func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}
