package session

import (
	"context"
	"log"
	"time"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/observability"
)

// Quoter supplies the reference price for tick evaluation.
type Quoter interface {
	Quote(ctx context.Context) (float64, error)
}

// PositionChecker reports the signed open position size for the traded
// instrument; zero means flat.
type PositionChecker interface {
	OpenPositionSize(ctx context.Context) (float64, error)
}

// Saver persists the running session between ticks. Failures are
// tolerated: the session continues in memory and the write is retried
// on the next mutation.
type Saver interface {
	SaveCurrent(ctx context.Context, s *domain.TradeSession) error
}

// RunnerConfig configures the tick loop.
type RunnerConfig struct {
	// TickInterval is the price poll cadence.
	TickInterval time.Duration
	// PositionInterval is the open-position poll cadence; zero disables
	// the position detector.
	PositionInterval time.Duration
}

// DefaultRunnerConfig returns the production cadence.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		TickInterval:     3 * time.Second,
		PositionInterval: 15 * time.Second,
	}
}

// Runner drives one session to settlement: it polls the reference price
// and the open position, feeds the engine, and persists progress. The
// two detectors race; the engine's terminal guard makes whichever fires
// first authoritative.
type Runner struct {
	engine    *Engine
	quoter    Quoter
	positions PositionChecker // optional
	saver     Saver           // optional
	config    RunnerConfig
	logger    *log.Logger

	// OnSettle is invoked exactly once, after the settling write, with a
	// snapshot of the terminal session.
	OnSettle func(ctx context.Context, s domain.TradeSession)
}

// NewRunner creates a runner for one engine. positions and saver may be
// nil when the corresponding concern is absent.
func NewRunner(engine *Engine, quoter Quoter, positions PositionChecker, saver Saver, config RunnerConfig, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		engine:    engine,
		quoter:    quoter,
		positions: positions,
		saver:     saver,
		config:    config,
		logger:    logger,
	}
}

// Run loops until the session settles or the context is cancelled.
// Returns the final session snapshot.
func (r *Runner) Run(ctx context.Context) domain.TradeSession {
	priceTicker := time.NewTicker(r.config.TickInterval)
	defer priceTicker.Stop()

	var positionC <-chan time.Time
	if r.positions != nil && r.config.PositionInterval > 0 {
		positionTicker := time.NewTicker(r.config.PositionInterval)
		defer positionTicker.Stop()
		positionC = positionTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return r.engine.Session()

		case <-priceTicker.C:
			if r.priceStep(ctx) {
				return r.finish(ctx)
			}

		case <-positionC:
			if r.positionStep(ctx) {
				return r.finish(ctx)
			}
		}
	}
}

// priceStep fetches one price and feeds it to the engine. A fetch
// failure or invalid price skips the tick; the next interval retries.
func (r *Runner) priceStep(ctx context.Context) (settled bool) {
	price, err := r.quoter.Quote(ctx)
	if err != nil {
		r.logger.Printf("price tick skipped: %v", err)
		observability.RecordTickSkipped("quote_failed")
		return false
	}

	status, settledNow := r.engine.Tick(price)
	snap := r.engine.Session()
	observability.RecordTick(price, snap.LastLuck(), snap.PnLUSD(price))
	if status == domain.StatusRunning {
		r.persist(ctx)
	}
	return settledNow
}

// positionStep settles the session when the exchange position vanished
// out from under a still-running session.
func (r *Runner) positionStep(ctx context.Context) (settled bool) {
	if r.engine.Settled() {
		return false
	}
	size, err := r.positions.OpenPositionSize(ctx)
	if err != nil {
		r.logger.Printf("position poll skipped: %v", err)
		return false
	}
	if size != 0 {
		return false
	}

	status, settledNow := r.engine.ResolveVanishedPosition()
	if settledNow {
		r.logger.Printf("position vanished, settled as %s", status)
	}
	return settledNow
}

func (r *Runner) finish(ctx context.Context) domain.TradeSession {
	r.persist(ctx)
	snap := r.engine.Session()
	if r.OnSettle != nil {
		r.OnSettle(ctx, snap)
	}
	return snap
}

// persist writes the session best-effort; storage being unreachable must
// not interrupt the run.
func (r *Runner) persist(ctx context.Context) {
	if r.saver == nil {
		return
	}
	snap := r.engine.Session()
	if err := r.saver.SaveCurrent(ctx, &snap); err != nil {
		r.logger.Printf("session save failed (will retry next tick): %v", err)
	}
}
