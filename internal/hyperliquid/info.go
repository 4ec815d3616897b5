package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"perp-ritual-lab/internal/domain"
)

// ErrPriceUnavailable means the reference price could not be obtained or
// was non-finite/non-positive. Order submission is blocked until a valid
// price is available; live tick loops skip the tick and retry.
var ErrPriceUnavailable = errors.New("hyperliquid: reference price unavailable")

// ErrAssetNotFound means the symbol is missing from the exchange universe.
var ErrAssetNotFound = errors.New("hyperliquid: asset not found in meta")

// Info wraps the read-only info endpoint and caches instrument metadata.
// Instrument resolution happens at most once per symbol per process; the
// cached value is immutable afterward.
type Info struct {
	client *Client

	mu          sync.Mutex
	instruments map[string]domain.Instrument
}

// NewInfo creates an Info facade over the client.
func NewInfo(client *Client) *Info {
	return &Info{
		client:      client,
		instruments: make(map[string]domain.Instrument),
	}
}

// ResolveInstrument looks up the asset index and size decimals for a
// symbol, caching the result for the process lifetime.
func (i *Info) ResolveInstrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	i.mu.Lock()
	if inst, ok := i.instruments[symbol]; ok {
		i.mu.Unlock()
		return inst, nil
	}
	i.mu.Unlock()

	var meta []metaResponse
	if err := i.client.postInfo(ctx, map[string]any{"type": "meta"}, &meta); err != nil {
		return domain.Instrument{}, fmt.Errorf("fetch meta: %w", err)
	}
	if len(meta) == 0 {
		return domain.Instrument{}, fmt.Errorf("fetch meta: empty universe")
	}

	for idx, asset := range meta[0].Universe {
		if asset.Name == symbol {
			inst := domain.Instrument{
				Symbol:     symbol,
				AssetIndex: idx,
				SzDecimals: asset.SzDecimals,
			}
			i.mu.Lock()
			if cached, ok := i.instruments[symbol]; ok {
				inst = cached // first writer wins
			} else {
				i.instruments[symbol] = inst
			}
			i.mu.Unlock()
			return inst, nil
		}
	}
	return domain.Instrument{}, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
}

// AllMids returns the current mid price of every instrument, keyed by
// symbol, as decimal strings.
func (i *Info) AllMids(ctx context.Context) (map[string]string, error) {
	var mids map[string]string
	if err := i.client.postInfo(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		return nil, fmt.Errorf("fetch mids: %w", err)
	}
	return mids, nil
}

// MidPrice returns the validated mid price for one symbol. Non-finite or
// non-positive values are rejected as ErrPriceUnavailable.
func (i *Info) MidPrice(ctx context.Context, symbol string) (float64, error) {
	mids, err := i.AllMids(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	raw, ok := mids[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no mid for %s", ErrPriceUnavailable, symbol)
	}
	px, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(px) || math.IsInf(px, 0) || px <= 0 {
		return 0, fmt.Errorf("%w: invalid mid %q", ErrPriceUnavailable, raw)
	}
	return px, nil
}

// CandleSnapshot fetches OHLC candles for the symbol over [startMs, endMs].
func (i *Info) CandleSnapshot(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]domain.Candle, error) {
	payload := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      symbol,
			"interval":  interval,
			"startTime": startMs,
			"endTime":   endMs,
		},
	}
	var wire []candleWire
	if err := i.client.postInfo(ctx, payload, &wire); err != nil {
		return nil, fmt.Errorf("fetch candle snapshot: %w", err)
	}

	candles := make([]domain.Candle, 0, len(wire))
	for _, c := range wire {
		candles = append(candles, domain.Candle{
			OpenTimeMs: c.OpenTimeMs,
			Open:       parseFloatOrZero(c.Open),
			High:       parseFloatOrZero(c.High),
			Low:        parseFloatOrZero(c.Low),
			Close:      parseFloatOrZero(c.Close),
		})
	}
	return candles, nil
}

// AccountState is the subset of clearinghouse state the app consumes.
type AccountState struct {
	WithdrawableUSD float64
	// PositionSize is the signed open position in base units for the
	// queried symbol; zero when flat.
	PositionSize float64
}

// AccountState fetches withdrawable balance and the open position size
// for the symbol at the given address.
func (i *Info) AccountState(ctx context.Context, address, symbol string) (AccountState, error) {
	payload := map[string]any{"type": "clearinghouseState", "user": address}
	var state clearinghouseState
	if err := i.client.postInfo(ctx, payload, &state); err != nil {
		return AccountState{}, fmt.Errorf("fetch clearinghouse state: %w", err)
	}

	out := AccountState{WithdrawableUSD: parseFloatOrZero(state.Withdrawable)}
	for _, ap := range state.AssetPositions {
		if ap.Position.Coin == symbol {
			out.PositionSize = parseFloatOrZero(ap.Position.Szi)
			break
		}
	}
	return out, nil
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
