package pricefeed

import (
	"context"
	"sync"

	"perp-ritual-lab/internal/domain"
)

// CandleSeries maintains the OHLC view for the run chart: a snapshot
// load followed by live tick merging. A tick inside the last candle's
// bucket extends it; a tick past the bucket boundary rolls a new candle.
type CandleSeries struct {
	mu         sync.Mutex
	intervalMs int64
	max        int
	candles    []domain.Candle
}

// NewCandleSeries creates a series with the given bucket width, keeping
// at most max candles.
func NewCandleSeries(intervalMs int64, max int) *CandleSeries {
	if intervalMs <= 0 {
		intervalMs = 60_000
	}
	if max <= 0 {
		max = 120
	}
	return &CandleSeries{intervalMs: intervalMs, max: max}
}

// Load replaces the series with a snapshot, oldest first.
func (s *CandleSeries) Load(candles []domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candles = append(s.candles[:0], candles...)
	s.trim()
}

// Apply merges one live tick. Ticks older than the last candle's bucket
// are dropped; the snapshot already covers them.
func (s *CandleSeries) Apply(tsMs int64, price float64) {
	if price <= 0 {
		return
	}
	bucket := tsMs - tsMs%s.intervalMs

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.candles) == 0 || bucket > s.candles[len(s.candles)-1].OpenTimeMs {
		s.candles = append(s.candles, domain.Candle{
			OpenTimeMs: bucket,
			Open:       price,
			High:       price,
			Low:        price,
			Close:      price,
		})
		s.trim()
		return
	}

	last := &s.candles[len(s.candles)-1]
	if bucket < last.OpenTimeMs {
		return
	}
	if price > last.High {
		last.High = price
	}
	if price < last.Low {
		last.Low = price
	}
	last.Close = price
}

// Candles returns a copy of the series, oldest first.
func (s *CandleSeries) Candles() []domain.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Candle(nil), s.candles...)
}

func (s *CandleSeries) trim() {
	if len(s.candles) > s.max {
		s.candles = append(s.candles[:0], s.candles[len(s.candles)-s.max:]...)
	}
}

// TappedQuoter forwards quotes and reports each good one to a callback,
// so the candle series sees every price the watch loop sees.
type TappedQuoter struct {
	inner Quoter
	tap   func(price float64)
}

// NewTappedQuoter wraps a quoter with a per-quote callback.
func NewTappedQuoter(inner Quoter, tap func(price float64)) *TappedQuoter {
	return &TappedQuoter{inner: inner, tap: tap}
}

func (q *TappedQuoter) Quote(ctx context.Context) (float64, error) {
	price, err := q.inner.Quote(ctx)
	if err == nil && q.tap != nil {
		q.tap(price)
	}
	return price, err
}

var _ Quoter = (*TappedQuoter)(nil)
