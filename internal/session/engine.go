// Package session owns the trade-session state machine: a session is
// created from a confirmed fill, ingests price ticks while running, and
// settles into exactly one terminal status.
package session

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/pricing"
)

// OpenParams are the user-chosen ritual parameters.
type OpenParams struct {
	Side       domain.TradeSide
	MarginUSD  float64
	Leverage   float64
	TPMultiple float64
}

// NewFromFill builds a running session from a confirmed fill. Margin and
// target profit are corrected from the actual fill price and size, and
// the boundary prices are fixed here, never recomputed afterward.
func NewFromFill(params OpenParams, fillPx, fillSize float64, orderID int64, now time.Time) *domain.TradeSession {
	actualMargin := fillSize * fillPx / params.Leverage
	actualTargetProfit := actualMargin * params.TPMultiple

	return &domain.TradeSession{
		ID:              uuid.NewString(),
		Date:            now.Format("2006-01-02"),
		Side:            params.Side,
		MarginUSD:       actualMargin,
		Leverage:        params.Leverage,
		TPMultiple:      params.TPMultiple,
		TargetProfitUSD: actualTargetProfit,
		EntryPrice:      fillPx,
		LiqPrice:        pricing.LiquidationPrice(fillPx, params.Side, params.Leverage),
		TargetPrice:     pricing.TargetPrice(fillPx, params.Side, actualTargetProfit, params.Leverage, actualMargin),
		CurrentPrice:    fillPx,
		LuckPath:        []float64{0.5},
		OrderID:         orderID,
		Status:          domain.StatusRunning,
		StartedAt:       now.UnixMilli(),
	}
}

// Engine evaluates price ticks against a session's boundaries. All state
// transitions go through the engine's mutex, so concurrent detectors can
// race safely: the first to settle wins and later calls are no-ops.
type Engine struct {
	mu sync.Mutex
	s  *domain.TradeSession

	now func() time.Time
}

// New wraps a session in an engine. The session may be freshly created
// or restored from persistence (resumption re-attaches the tick loop to
// the existing boundary prices without re-triggering a fill).
func New(s *domain.TradeSession) *Engine {
	return &Engine{s: s, now: time.Now}
}

// Session returns a snapshot copy of the session.
func (e *Engine) Session() domain.TradeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := *e.s
	snap.LuckPath = append([]float64(nil), e.s.LuckPath...)
	return snap
}

// Settled reports whether the session has reached a terminal status.
func (e *Engine) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Status.Terminal()
}

// Tick ingests one price observation. Returns the session status after
// the tick and whether this tick settled the session. Ticks after
// settlement and invalid prices are dropped.
//
// Liquidation is checked before take-profit: when one tick satisfies
// both boundaries, the more severe outcome wins.
func (e *Engine) Tick(price float64) (domain.SessionStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.Status.Terminal() {
		return e.s.Status, false
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return e.s.Status, false
	}

	e.s.CurrentPrice = price
	luck := pricing.Luck(price, e.s.LiqPrice, e.s.TargetPrice, e.s.Side)
	e.s.LuckPath = append(e.s.LuckPath, luck)

	if e.crossedLiquidation(price) {
		e.settle(domain.StatusFail)
		return domain.StatusFail, true
	}
	if e.crossedTarget(price) {
		e.settle(domain.StatusSuccess)
		return domain.StatusSuccess, true
	}
	return domain.StatusRunning, false
}

func (e *Engine) crossedLiquidation(price float64) bool {
	if e.s.Side == domain.SideLong {
		return price <= e.s.LiqPrice
	}
	return price >= e.s.LiqPrice
}

func (e *Engine) crossedTarget(price float64) bool {
	if e.s.Side == domain.SideLong {
		return price >= e.s.TargetPrice
	}
	return price <= e.s.TargetPrice
}

// Abort settles the session as aborted. Returns false when the session
// already reached a terminal status.
func (e *Engine) Abort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.Status.Terminal() {
		return false
	}
	e.settle(domain.StatusAborted)
	return true
}

// ResolveVanishedPosition settles a running session whose exchange
// position disappeared before a price crossing was observed (the resting
// take-profit executed, or the exchange liquidated the position between
// polls). The outcome is inferred from which boundary the last observed
// price sits closer to. Returns the status and whether this call settled
// the session.
func (e *Engine) ResolveVanishedPosition() (domain.SessionStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.Status.Terminal() {
		return e.s.Status, false
	}

	luck := pricing.Luck(e.s.CurrentPrice, e.s.LiqPrice, e.s.TargetPrice, e.s.Side)
	if luck > 0.5 {
		e.settle(domain.StatusSuccess)
		return domain.StatusSuccess, true
	}
	e.settle(domain.StatusFail)
	return domain.StatusFail, true
}

// settle marks the terminal status. Caller holds the mutex.
func (e *Engine) settle(status domain.SessionStatus) {
	e.s.Status = status
	e.s.EndedAt = e.now().UnixMilli()
}
