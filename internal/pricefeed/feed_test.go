package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.Staleness = time.Second
	return cfg
}

// midsServer upgrades each connection, verifies the subscribe message,
// and hands the connection to serve.
func midsServer(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub subscribeMessage
		if err := json.Unmarshal(msg, &sub); err != nil {
			t.Errorf("unmarshal subscribe: %v", err)
			return
		}
		if sub.Method != "subscribe" || sub.Subscription.Type != "allMids" {
			t.Errorf("unexpected subscribe message: %+v", sub)
			return
		}

		serve(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func writeMids(conn *websocket.Conn, mids map[string]string) error {
	var msg midsMessage
	msg.Channel = "allMids"
	msg.Data.Mids = mids
	return conn.WriteJSON(msg)
}

func waitForQuote(t *testing.T, feed *Feed) float64 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if px, err := feed.Quote(context.Background()); err == nil {
			return px
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no quote arrived")
	return 0
}

func TestFeed_QuotesLatestMid(t *testing.T) {
	url := midsServer(t, func(conn *websocket.Conn) {
		writeMids(conn, map[string]string{"BTC": "68000.5", "ETH": "3500"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed, err := NewFeed(context.Background(), "BTC", testConfig(url), nil)
	require.NoError(t, err)
	defer feed.Close()

	assert.InDelta(t, 68000.5, waitForQuote(t, feed), 1e-9)
}

func TestFeed_QuoteBeforeFirstMessageIsStale(t *testing.T) {
	url := midsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed, err := NewFeed(context.Background(), "BTC", testConfig(url), nil)
	require.NoError(t, err)
	defer feed.Close()

	_, err = feed.Quote(context.Background())
	assert.ErrorIs(t, err, ErrStale)
}

func TestFeed_IgnoresMalformedAndForeignMessages(t *testing.T) {
	url := midsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(map[string]any{"channel": "trades", "data": "x"})
		writeMids(conn, map[string]string{"BTC": "nope"})
		writeMids(conn, map[string]string{"BTC": "-1"})
		writeMids(conn, map[string]string{"ETH": "3500"})
		writeMids(conn, map[string]string{"BTC": "68100"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed, err := NewFeed(context.Background(), "BTC", testConfig(url), nil)
	require.NoError(t, err)
	defer feed.Close()

	assert.InDelta(t, 68100, waitForQuote(t, feed), 1e-9)
}

func TestFeed_ReconnectsAndResubscribes(t *testing.T) {
	conns := 0
	url := midsServer(t, func(conn *websocket.Conn) {
		conns++
		if conns == 1 {
			// Drop the first connection right after the subscribe.
			conn.Close()
			return
		}
		writeMids(conn, map[string]string{"BTC": "68200"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed, err := NewFeed(context.Background(), "BTC", testConfig(url), nil)
	require.NoError(t, err)
	defer feed.Close()

	assert.InDelta(t, 68200, waitForQuote(t, feed), 1e-9)
	assert.GreaterOrEqual(t, feed.Reconnects(), uint64(1))
}

type stubMidPricer struct {
	price float64
	err   error
	calls int
}

func (s *stubMidPricer) MidPrice(context.Context, string) (float64, error) {
	s.calls++
	return s.price, s.err
}

type stubQuoter struct {
	price float64
	err   error
}

func (s *stubQuoter) Quote(context.Context) (float64, error) { return s.price, s.err }

func TestPollingQuoter(t *testing.T) {
	pricer := &stubMidPricer{price: 68000}
	q := NewPollingQuoter(pricer, "BTC")

	px, err := q.Quote(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 68000, px, 1e-9)
	assert.Equal(t, 1, pricer.calls)
}

func TestFallbackQuoter(t *testing.T) {
	t.Run("primary healthy", func(t *testing.T) {
		q := NewFallbackQuoter(&stubQuoter{price: 1}, &stubQuoter{price: 2}, nil)
		px, err := q.Quote(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 1, px, 1e-9)
	})

	t.Run("primary stale", func(t *testing.T) {
		q := NewFallbackQuoter(&stubQuoter{err: ErrStale}, &stubQuoter{price: 2}, nil)
		px, err := q.Quote(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 2, px, 1e-9)
	})

	t.Run("both down", func(t *testing.T) {
		secondaryErr := errors.New("rest down")
		q := NewFallbackQuoter(&stubQuoter{err: ErrStale}, &stubQuoter{err: secondaryErr}, nil)
		_, err := q.Quote(context.Background())
		assert.ErrorIs(t, err, secondaryErr)
	})
}
