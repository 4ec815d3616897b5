// Package ritual orchestrates one trading ritual end to end: validate
// the user's pick, place the entry and take-profit orders, watch the
// session to settlement, and apply the crown reward.
package ritual

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/hyperliquid"
	"perp-ritual-lab/internal/observability"
	"perp-ritual-lab/internal/pricing"
	"perp-ritual-lab/internal/reward"
	"perp-ritual-lab/internal/session"
	"perp-ritual-lab/internal/storage"
)

// Desk errors.
var (
	ErrSessionActive       = errors.New("ritual: a session is already running")
	ErrNoSession           = errors.New("ritual: no running session")
	ErrDailyLimitReached   = errors.New("ritual: daily session limit reached")
	ErrInsufficientBalance = errors.New("ritual: insufficient withdrawable balance")
	ErrBelowMinNotional    = errors.New("ritual: order notional below exchange minimum")
	ErrInvalidParams       = errors.New("ritual: invalid session parameters")
)

// OrderGateway places and cancels exchange orders. Satisfied by
// hyperliquid.Gateway.
type OrderGateway interface {
	PlaceMarketOrderWithTakeProfit(ctx context.Context, isBuy bool, size, referencePx, takeProfitPx float64) (hyperliquid.EntryWithTP, error)
	ClosePositionAtMarket(ctx context.Context, positionSize, referencePx float64) (hyperliquid.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID int64) error
}

// AccountReader reads prices and account state. Satisfied by
// hyperliquid.Info.
type AccountReader interface {
	MidPrice(ctx context.Context, symbol string) (float64, error)
	AccountState(ctx context.Context, address, symbol string) (hyperliquid.AccountState, error)
}

// Config holds the desk's trading constraints.
type Config struct {
	Symbol        string
	WalletAddress string

	// MaxSessionsPerDay bounds settled sessions per calendar day;
	// zero disables the limit.
	MaxSessionsPerDay int
	// MinNotionalUSD is the exchange's minimum order value.
	MinNotionalUSD float64
	// MinTPMultiple is the smallest accepted target-profit multiple.
	MinTPMultiple float64
	// MaxLeverage bounds the leverage choice.
	MaxLeverage float64
	// HistoryKeep is how many settled sessions to retain; zero disables
	// pruning.
	HistoryKeep int
	// AbortWait bounds how long an abort waits for the position to
	// disappear after the closing order.
	AbortWait time.Duration
	// TickInterval is the watch cadence, used to timestamp luck samples
	// when the session is archived.
	TickInterval time.Duration
}

// DefaultConfig returns the production constraints for one instrument.
func DefaultConfig(symbol, walletAddress string) Config {
	return Config{
		Symbol:            symbol,
		WalletAddress:     walletAddress,
		MaxSessionsPerDay: 1,
		MinNotionalUSD:    10,
		MinTPMultiple:     0.05,
		MaxLeverage:       100,
		HistoryKeep:       500,
		AbortWait:         10 * time.Second,
		TickInterval:      3 * time.Second,
	}
}

// Desk runs rituals. At most one session is active at a time; opening,
// aborting, and finalizing are serialized through the desk mutex while
// tick processing stays inside the session engine.
type Desk struct {
	gateway  OrderGateway
	account  AccountReader
	sessions storage.SessionStore
	crowns   storage.CrownStore
	luck     storage.LuckTimeseriesStore // optional
	reporter TradeReporter               // optional
	config   Config
	logger   *log.Logger
	now      func() time.Time

	mu        sync.Mutex
	engine    *session.Engine
	tpOrderID int64 // resting take-profit order, 0 if none
}

// NewDesk creates a desk. luck and reporter may be nil.
func NewDesk(gateway OrderGateway, account AccountReader, sessions storage.SessionStore, crowns storage.CrownStore, luck storage.LuckTimeseriesStore, reporter TradeReporter, config Config, logger *log.Logger) *Desk {
	if logger == nil {
		logger = log.Default()
	}
	return &Desk{
		gateway:  gateway,
		account:  account,
		sessions: sessions,
		crowns:   crowns,
		luck:     luck,
		reporter: reporter,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Resume re-attaches the desk to a persisted running session, typically
// after a restart. Returns false when there is nothing to resume.
func (d *Desk) Resume(ctx context.Context) (bool, error) {
	d.mu.Lock()
	if d.engine != nil {
		d.mu.Unlock()
		return false, ErrSessionActive
	}

	sess, err := d.sessions.LoadCurrent(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		d.mu.Unlock()
		return false, nil
	}
	if err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("load current session: %w", err)
	}

	d.engine = session.New(sess)
	d.mu.Unlock()

	if sess.Status.Terminal() {
		// Crash between settlement and archival: finish the bookkeeping
		// instead of resuming the watch.
		d.logger.Printf("found settled session %s in current slot, archiving", sess.ID)
		d.Finalize(ctx, *sess)
		return false, nil
	}

	d.logger.Printf("resumed session %s (%s %s at %.2f)", sess.ID, sess.Side, d.config.Symbol, sess.EntryPrice)
	return true, nil
}

// Open validates the pick, places the entry and take-profit orders, and
// starts the session from the confirmed fill.
func (d *Desk) Open(ctx context.Context, params session.OpenParams) (*domain.TradeSession, error) {
	if err := d.validate(params); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine != nil && !d.engine.Settled() {
		return nil, ErrSessionActive
	}

	now := d.now()
	if d.config.MaxSessionsPerDay > 0 {
		count, err := d.sessions.CountByDate(ctx, now.Format("2006-01-02"))
		if err != nil {
			return nil, fmt.Errorf("check daily limit: %w", err)
		}
		if count >= d.config.MaxSessionsPerDay {
			return nil, ErrDailyLimitReached
		}
	}

	state, err := d.account.AccountState(ctx, d.config.WalletAddress, d.config.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch account state: %w", err)
	}
	if state.WithdrawableUSD < params.MarginUSD {
		return nil, fmt.Errorf("%w: have %.2f, need %.2f", ErrInsufficientBalance, state.WithdrawableUSD, params.MarginUSD)
	}

	referencePx, err := d.account.MidPrice(ctx, d.config.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch reference price: %w", err)
	}

	notional := params.MarginUSD * params.Leverage
	if notional < d.config.MinNotionalUSD {
		return nil, fmt.Errorf("%w: %.2f < %.2f", ErrBelowMinNotional, notional, d.config.MinNotionalUSD)
	}
	size := notional / referencePx
	isBuy := params.Side == domain.SideLong

	targetProfit := params.MarginUSD * params.TPMultiple
	targetPx := pricing.TargetPrice(referencePx, params.Side, targetProfit, params.Leverage, params.MarginUSD)

	result, err := d.gateway.PlaceMarketOrderWithTakeProfit(ctx, isBuy, size, referencePx, targetPx)
	observability.RecordOrder("entry", err != nil || result.Entry.Err != "")
	if err != nil {
		return nil, fmt.Errorf("place entry order: %w", err)
	}
	if result.Entry.Err != "" {
		return nil, fmt.Errorf("%w: %s", hyperliquid.ErrOrderRejected, result.Entry.Err)
	}
	if result.Entry.Filled == nil {
		return nil, hyperliquid.ErrOrderUnfilled
	}
	fill := result.Entry.Filled

	d.tpOrderID = 0
	switch {
	case result.TakeProfit == nil:
		d.logger.Printf("no take-profit status returned, watcher is the only exit")
	case result.TakeProfit.Err != "":
		// The entry fill stands; the watcher settles the session even
		// without a resting take-profit.
		d.logger.Printf("take-profit rejected, continuing without it: %s", result.TakeProfit.Err)
	case result.TakeProfit.Resting != nil:
		d.tpOrderID = result.TakeProfit.Resting.OrderID
	}

	sess := session.NewFromFill(params, fill.AvgPx, fill.TotalSz, fill.OrderID, now)
	d.engine = session.New(sess)

	if err := d.sessions.SaveCurrent(ctx, sess); err != nil {
		d.logger.Printf("persist opened session failed (will retry on next tick): %v", err)
	}
	d.report(ctx, sess)

	d.logger.Printf("opened session %s: %s %s margin=%.2f lev=%.0fx entry=%.2f liq=%.2f target=%.2f",
		sess.ID, sess.Side, d.config.Symbol, sess.MarginUSD, sess.Leverage,
		sess.EntryPrice, sess.LiqPrice, sess.TargetPrice)
	return copySession(sess), nil
}

func (d *Desk) validate(params session.OpenParams) error {
	if params.Side != domain.SideLong && params.Side != domain.SideShort {
		return fmt.Errorf("%w: side %q", ErrInvalidParams, params.Side)
	}
	if params.MarginUSD <= 0 {
		return fmt.Errorf("%w: margin must be positive", ErrInvalidParams)
	}
	if params.Leverage < 1 || params.Leverage > d.config.MaxLeverage {
		return fmt.Errorf("%w: leverage %.0f outside [1, %.0f]", ErrInvalidParams, params.Leverage, d.config.MaxLeverage)
	}
	if params.TPMultiple < d.config.MinTPMultiple {
		return fmt.Errorf("%w: target multiple %.2f below %.2f", ErrInvalidParams, params.TPMultiple, d.config.MinTPMultiple)
	}
	return nil
}

// Engine exposes the active session engine for the watch loop. Returns
// ErrNoSession when no session is running.
func (d *Desk) Engine() (*session.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine == nil {
		return nil, ErrNoSession
	}
	return d.engine, nil
}

// CurrentSession returns a snapshot of the active session.
func (d *Desk) CurrentSession() (domain.TradeSession, bool) {
	d.mu.Lock()
	engine := d.engine
	d.mu.Unlock()
	if engine == nil {
		return domain.TradeSession{}, false
	}
	return engine.Session(), true
}

// Abort flattens the position and settles the session as aborted.
// Best-effort on the exchange side: close failures are logged and the
// session is finalized regardless, so the user is never stuck.
func (d *Desk) Abort(ctx context.Context) (domain.TradeSession, error) {
	d.mu.Lock()
	engine := d.engine
	tpOrderID := d.tpOrderID
	d.mu.Unlock()

	if engine == nil {
		return domain.TradeSession{}, ErrNoSession
	}
	if !engine.Abort() {
		return engine.Session(), ErrNoSession
	}

	if tpOrderID != 0 {
		if err := d.gateway.CancelOrder(ctx, tpOrderID); err != nil {
			d.logger.Printf("cancel take-profit %d failed: %v", tpOrderID, err)
		}
	}
	d.flatten(ctx)

	snap := engine.Session()
	d.Finalize(ctx, snap)
	return snap, nil
}

// flatten closes any open position and waits, bounded, for it to
// disappear.
func (d *Desk) flatten(ctx context.Context) {
	state, err := d.account.AccountState(ctx, d.config.WalletAddress, d.config.Symbol)
	if err != nil {
		d.logger.Printf("abort: read position failed: %v", err)
		return
	}
	if state.PositionSize == 0 {
		return
	}

	referencePx, err := d.account.MidPrice(ctx, d.config.Symbol)
	if err != nil {
		d.logger.Printf("abort: reference price unavailable: %v", err)
		return
	}

	status, err := d.gateway.ClosePositionAtMarket(ctx, state.PositionSize, referencePx)
	observability.RecordOrder("close", err != nil || status.Err != "")
	if err != nil {
		d.logger.Printf("abort: close order failed: %v", err)
		return
	}
	if status.Err != "" {
		d.logger.Printf("abort: close order rejected: %s", status.Err)
		return
	}

	deadline := d.now().Add(d.config.AbortWait)
	for d.now().Before(deadline) {
		state, err := d.account.AccountState(ctx, d.config.WalletAddress, d.config.Symbol)
		if err == nil && state.PositionSize == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
	d.logger.Printf("abort: position still open after %s", d.config.AbortWait)
}

// Finalize archives a settled session exactly once: history append,
// current-slot clear, luck archive, crown award, backend report.
func (d *Desk) Finalize(ctx context.Context, snap domain.TradeSession) {
	if !snap.Status.Terminal() {
		return
	}

	d.mu.Lock()
	if d.engine == nil {
		d.mu.Unlock()
		return
	}
	if current := d.engine.Session(); current.ID != snap.ID {
		d.mu.Unlock()
		return
	}
	d.engine = nil
	d.tpOrderID = 0
	d.mu.Unlock()

	observability.RecordSettlement(string(snap.Status), d.now().Unix())

	if err := d.sessions.AppendHistory(ctx, &snap); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		d.logger.Printf("archive session %s failed: %v", snap.ID, err)
	}
	if err := d.sessions.ClearCurrent(ctx); err != nil {
		d.logger.Printf("clear current session failed: %v", err)
	}
	if d.config.HistoryKeep > 0 {
		if err := d.sessions.PruneHistory(ctx, d.config.HistoryKeep); err != nil {
			d.logger.Printf("prune history failed: %v", err)
		}
	}
	d.archiveLuck(ctx, &snap)
	d.award(ctx, &snap)
	d.report(ctx, &snap)

	d.logger.Printf("session %s settled as %s (pnl %.2f USD)", snap.ID, snap.Status, snap.PnLUSD(snap.CurrentPrice))
}

// archiveLuck persists the luck path. Samples carry no individual
// timestamps in the session, so they are spaced at the tick interval
// from the session start.
func (d *Desk) archiveLuck(ctx context.Context, snap *domain.TradeSession) {
	if d.luck == nil || len(snap.LuckPath) == 0 {
		return
	}

	stepMs := d.config.TickInterval.Milliseconds()
	if stepMs <= 0 {
		stepMs = 3000
	}
	points := make([]*domain.LuckPoint, 0, len(snap.LuckPath))
	for i, luck := range snap.LuckPath {
		points = append(points, &domain.LuckPoint{
			SessionID:   snap.ID,
			TimestampMs: snap.StartedAt + int64(i)*stepMs,
			Price:       snap.CurrentPrice,
			Luck:        luck,
		})
	}
	if err := d.luck.InsertBulk(ctx, points); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		d.logger.Printf("archive luck path failed: %v", err)
		observability.RecordDBError("clickhouse", "luck_insert")
	}
}

// award applies the crown reward for the settled session.
func (d *Desk) award(ctx context.Context, snap *domain.TradeSession) {
	inv, err := d.crowns.Inventory(ctx)
	if err != nil {
		d.logger.Printf("load crown inventory failed, skipping award: %v", err)
		return
	}

	next, event := reward.Award(inv, snap.Status, snap.TPMultiple, d.now())
	if err := d.crowns.SaveInventory(ctx, next); err != nil {
		d.logger.Printf("save crown inventory failed: %v", err)
		return
	}
	if err := d.crowns.SaveEvent(ctx, event); err != nil {
		d.logger.Printf("save crown event failed: %v", err)
	}
	observability.RecordAward(string(event.AwardedTierID), event.AwardedCount, len(event.Upgrades))

	d.logger.Printf("awarded %s (+%d promotions)", event.AwardedTierID, len(event.Upgrades))
}

func copySession(s *domain.TradeSession) *domain.TradeSession {
	c := *s
	c.LuckPath = append([]float64(nil), s.LuckPath...)
	return &c
}
