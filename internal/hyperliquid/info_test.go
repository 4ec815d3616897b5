package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInfoServer(t *testing.T, handle func(reqType string, body map[string]any) any) (*Info, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info", r.URL.Path)
		calls++
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reqType, _ := body["type"].(string)
		require.NoError(t, json.NewEncoder(w).Encode(handle(reqType, body)))
	}))
	t.Cleanup(server.Close)
	return NewInfo(NewClient(server.URL, WithMaxRetries(0))), &calls
}

func TestResolveInstrument_CachedAfterFirstLookup(t *testing.T) {
	info, calls := newInfoServer(t, func(reqType string, _ map[string]any) any {
		require.Equal(t, "meta", reqType)
		return []map[string]any{{
			"universe": []map[string]any{
				{"name": "BTC", "szDecimals": 5},
				{"name": "ETH", "szDecimals": 4},
			},
		}}
	})

	first, err := info.ResolveInstrument(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 0, first.AssetIndex)
	assert.Equal(t, 5, first.SzDecimals)

	second, err := info.ResolveInstrument(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, *calls, "meta must be fetched once per process")
}

func TestResolveInstrument_UnknownAsset(t *testing.T) {
	info, _ := newInfoServer(t, func(string, map[string]any) any {
		return []map[string]any{{"universe": []map[string]any{{"name": "ETH", "szDecimals": 4}}}}
	})

	_, err := info.ResolveInstrument(context.Background(), "BTC")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestMidPrice_Valid(t *testing.T) {
	info, _ := newInfoServer(t, func(reqType string, _ map[string]any) any {
		require.Equal(t, "allMids", reqType)
		return map[string]string{"BTC": "68000.5", "ETH": "3500"}
	})

	px, err := info.MidPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 68000.5, px, 1e-9)
}

func TestMidPrice_RejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing symbol": {"ETH": "3500"},
		"non-numeric":    {"BTC": "nope"},
		"zero":           {"BTC": "0"},
		"negative":       {"BTC": "-1"},
	}
	for name, mids := range cases {
		t.Run(name, func(t *testing.T) {
			info, _ := newInfoServer(t, func(string, map[string]any) any { return mids })
			_, err := info.MidPrice(context.Background(), "BTC")
			assert.ErrorIs(t, err, ErrPriceUnavailable)
		})
	}
}

func TestCandleSnapshot(t *testing.T) {
	info, _ := newInfoServer(t, func(reqType string, body map[string]any) any {
		require.Equal(t, "candleSnapshot", reqType)
		req := body["req"].(map[string]any)
		require.Equal(t, "BTC", req["coin"])
		require.Equal(t, "1m", req["interval"])
		return []map[string]any{
			{"t": 1700000000000, "T": 1700000059999, "s": "BTC", "i": "1m",
				"o": "68000", "c": "68100", "h": "68150", "l": "67990", "v": "12.5", "n": 42},
		}
	})

	candles, err := info.CandleSnapshot(context.Background(), "BTC", "1m", 1700000000000, 1700003600000)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(1700000000000), candles[0].OpenTimeMs)
	assert.InDelta(t, 68000, candles[0].Open, 1e-9)
	assert.InDelta(t, 68150, candles[0].High, 1e-9)
}

func TestAccountState(t *testing.T) {
	info, _ := newInfoServer(t, func(reqType string, body map[string]any) any {
		require.Equal(t, "clearinghouseState", reqType)
		require.Equal(t, "0xabc", body["user"])
		return map[string]any{
			"withdrawable": "123.45",
			"assetPositions": []map[string]any{
				{"position": map[string]any{"coin": "ETH", "szi": "1.5", "entryPx": "3500"}},
				{"position": map[string]any{"coin": "BTC", "szi": "-0.003", "entryPx": "68000"}},
			},
		}
	})

	state, err := info.AccountState(context.Background(), "0xabc", "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 123.45, state.WithdrawableUSD, 1e-9)
	assert.InDelta(t, -0.003, state.PositionSize, 1e-9)
}
