package pricefeed

import (
	"context"
	"errors"
	"log"

	"perp-ritual-lab/internal/observability"
)

// Quoter returns the current reference price.
type Quoter interface {
	Quote(ctx context.Context) (float64, error)
}

// MidPricer fetches a mid price over REST (see hyperliquid.Info).
type MidPricer interface {
	MidPrice(ctx context.Context, symbol string) (float64, error)
}

// PollingQuoter quotes by hitting the REST info endpoint every call.
type PollingQuoter struct {
	prices MidPricer
	symbol string
}

func NewPollingQuoter(prices MidPricer, symbol string) *PollingQuoter {
	return &PollingQuoter{prices: prices, symbol: symbol}
}

func (p *PollingQuoter) Quote(ctx context.Context) (float64, error) {
	return p.prices.MidPrice(ctx, p.symbol)
}

// FallbackQuoter prefers the primary source and falls through to the
// secondary when the primary reports a stale or failed quote.
type FallbackQuoter struct {
	primary   Quoter
	secondary Quoter
	logger    *log.Logger
}

func NewFallbackQuoter(primary, secondary Quoter, logger *log.Logger) *FallbackQuoter {
	if logger == nil {
		logger = log.Default()
	}
	return &FallbackQuoter{primary: primary, secondary: secondary, logger: logger}
}

func (q *FallbackQuoter) Quote(ctx context.Context) (float64, error) {
	price, err := q.primary.Quote(ctx)
	if err == nil {
		observability.RecordQuote("primary")
		return price, nil
	}
	if errors.Is(err, ErrStale) {
		q.logger.Printf("primary quote stale, falling back: %v", err)
	} else {
		q.logger.Printf("primary quote failed, falling back: %v", err)
	}

	price, err = q.secondary.Quote(ctx)
	if err == nil {
		observability.RecordQuote("fallback")
	}
	return price, err
}

var (
	_ Quoter = (*Feed)(nil)
	_ Quoter = (*PollingQuoter)(nil)
	_ Quoter = (*FallbackQuoter)(nil)
)
