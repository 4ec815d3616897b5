package pricefeed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-ritual-lab/internal/domain"
)

func TestCandleSeries_ApplyExtendsCurrentBucket(t *testing.T) {
	series := NewCandleSeries(60_000, 10)

	series.Apply(120_000, 100)
	series.Apply(130_000, 105)
	series.Apply(150_000, 95)

	candles := series.Candles()
	require.Len(t, candles, 1)
	assert.Equal(t, int64(120_000), candles[0].OpenTimeMs)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 105.0, candles[0].High)
	assert.Equal(t, 95.0, candles[0].Low)
	assert.Equal(t, 95.0, candles[0].Close)
}

func TestCandleSeries_ApplyRollsNewBucket(t *testing.T) {
	series := NewCandleSeries(60_000, 10)

	series.Apply(120_000, 100)
	series.Apply(185_000, 110) // next minute bucket

	candles := series.Candles()
	require.Len(t, candles, 2)
	assert.Equal(t, int64(180_000), candles[1].OpenTimeMs)
	assert.Equal(t, 110.0, candles[1].Open)
	assert.Equal(t, 110.0, candles[1].Close)
}

func TestCandleSeries_DropsLateAndInvalidTicks(t *testing.T) {
	series := NewCandleSeries(60_000, 10)

	series.Apply(180_000, 100)
	series.Apply(120_000, 999) // before the current bucket
	series.Apply(185_000, 0)   // invalid price

	candles := series.Candles()
	require.Len(t, candles, 1)
	assert.Equal(t, 100.0, candles[0].High)
	assert.Equal(t, 100.0, candles[0].Close)
}

func TestCandleSeries_LoadThenMerge(t *testing.T) {
	series := NewCandleSeries(60_000, 10)
	series.Load([]domain.Candle{
		{OpenTimeMs: 60_000, Open: 90, High: 92, Low: 89, Close: 91},
		{OpenTimeMs: 120_000, Open: 91, High: 93, Low: 90, Close: 92},
	})

	series.Apply(130_000, 94) // extends the snapshot's last candle

	candles := series.Candles()
	require.Len(t, candles, 2)
	assert.Equal(t, 94.0, candles[1].High)
	assert.Equal(t, 94.0, candles[1].Close)
}

func TestCandleSeries_TrimsToMax(t *testing.T) {
	series := NewCandleSeries(60_000, 3)

	for i := int64(0); i < 5; i++ {
		series.Apply(i*60_000, float64(100+i))
	}

	candles := series.Candles()
	require.Len(t, candles, 3)
	assert.Equal(t, int64(120_000), candles[0].OpenTimeMs)
	assert.Equal(t, int64(240_000), candles[2].OpenTimeMs)
}

func TestTappedQuoter_ReportsGoodQuotesOnly(t *testing.T) {
	var seen []float64
	inner := &stubQuoter{}
	tapped := NewTappedQuoter(inner, func(price float64) { seen = append(seen, price) })

	inner.price = 68000
	_, err := tapped.Quote(context.Background())
	require.NoError(t, err)

	inner.err = errors.New("feed down")
	_, err = tapped.Quote(context.Background())
	require.Error(t, err)

	assert.Equal(t, []float64{68000}, seen)
}
