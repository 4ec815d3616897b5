package ritual

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-ritual-lab/internal/domain"
)

func TestSnapshot(t *testing.T) {
	sess := &domain.TradeSession{
		ID:              "snap-1",
		Side:            domain.SideLong,
		MarginUSD:       5,
		Leverage:        40,
		TPMultiple:      0.5,
		TargetProfitUSD: 2.5,
		EntryPrice:      68000,
		LiqPrice:        66300,
		TargetPrice:     68850,
		CurrentPrice:    68850,
		LuckPath:        []float64{0.5, 1.0},
		Status:          domain.StatusSuccess,
		StartedAt:       1700000000000,
		EndedAt:         1700000060000,
	}

	snap := Snapshot(sess, "BTC")
	assert.Equal(t, "snap-1", snap.SessionID)
	assert.Equal(t, "BTC", snap.Symbol)
	assert.Equal(t, "LONG", snap.Side)
	assert.InDelta(t, 1.0, snap.Luck, 1e-9)
	assert.InDelta(t, 2.5, snap.PnLUSD, 1e-6)
	assert.Equal(t, "2023-11-14T22:13:20Z", snap.StartedAt)
	assert.Equal(t, "2023-11-14T22:14:20Z", snap.EndedAt)
}

func TestSnapshot_RunningSessionHasNoEndTime(t *testing.T) {
	sess := &domain.TradeSession{
		ID:        "snap-2",
		Side:      domain.SideShort,
		Status:    domain.StatusRunning,
		StartedAt: 1700000000000,
	}

	snap := Snapshot(sess, "BTC")
	assert.Empty(t, snap.EndedAt)
}

func TestHTTPReporter_PostsSnapshot(t *testing.T) {
	var received TradeSnapshot
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := NewHTTPReporter(server.URL)
	err := reporter.Report(context.Background(), TradeSnapshot{SessionID: "push-1", Status: "success"})
	require.NoError(t, err)
	assert.Equal(t, "push-1", received.SessionID)
}

func TestHTTPReporter_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	reporter := NewHTTPReporter(server.URL)
	err := reporter.Report(context.Background(), TradeSnapshot{SessionID: "push-2"})
	assert.ErrorContains(t, err, "502")
}
