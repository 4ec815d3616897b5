package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-ritual-lab/internal/domain"
)

type scriptedQuoter struct {
	mu     sync.Mutex
	script []quoteStep
	idx    int
}

type quoteStep struct {
	price float64
	err   error
}

func (q *scriptedQuoter) Quote(context.Context) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	step := q.script[q.idx]
	if q.idx < len(q.script)-1 {
		q.idx++ // last step repeats
	}
	return step.price, step.err
}

type stubPositions struct {
	mu   sync.Mutex
	size float64
	err  error
}

func (p *stubPositions) OpenPositionSize(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, p.err
}

type recordingSaver struct {
	mu     sync.Mutex
	saves  []domain.TradeSession
	failOn int // 1-based call index to fail, 0 never
	calls  int
}

func (s *recordingSaver) SaveCurrent(_ context.Context, sess *domain.TradeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn != 0 && s.calls == s.failOn {
		return errors.New("storage down")
	}
	s.saves = append(s.saves, *sess)
	return nil
}

func (s *recordingSaver) last(t *testing.T) domain.TradeSession {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.saves)
	return s.saves[len(s.saves)-1]
}

func fastConfig() RunnerConfig {
	return RunnerConfig{TickInterval: time.Millisecond, PositionInterval: 5 * time.Millisecond}
}

func runToSettlement(t *testing.T, r *Runner) domain.TradeSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap := r.Run(ctx)
	require.NoError(t, ctx.Err(), "runner did not settle in time")
	return snap
}

func TestRunner_SettlesOnTargetCross(t *testing.T) {
	engine := New(newLongSession(t))
	quoter := &scriptedQuoter{script: []quoteStep{
		{price: 68000}, {price: 68200}, {price: 68850},
	}}
	saver := &recordingSaver{}

	var settled []domain.TradeSession
	r := NewRunner(engine, quoter, nil, saver, fastConfig(), nil)
	r.OnSettle = func(_ context.Context, s domain.TradeSession) {
		settled = append(settled, s)
	}

	snap := runToSettlement(t, r)

	assert.Equal(t, domain.StatusSuccess, snap.Status)
	require.Len(t, settled, 1, "OnSettle fires exactly once")
	assert.Equal(t, domain.StatusSuccess, settled[0].Status)
	assert.Equal(t, domain.StatusSuccess, saver.last(t).Status, "terminal state is persisted")
}

func TestRunner_SettlesOnLiquidation(t *testing.T) {
	engine := New(newLongSession(t))
	quoter := &scriptedQuoter{script: []quoteStep{
		{price: 67000}, {price: 66300},
	}}

	r := NewRunner(engine, quoter, nil, nil, fastConfig(), nil)
	snap := runToSettlement(t, r)
	assert.Equal(t, domain.StatusFail, snap.Status)
}

func TestRunner_PriceFetchFailureSkipsTick(t *testing.T) {
	engine := New(newLongSession(t))
	quoter := &scriptedQuoter{script: []quoteStep{
		{price: 68000},
		{err: errors.New("feed down")},
		{err: errors.New("feed down")},
		{price: 68850},
	}}

	r := NewRunner(engine, quoter, nil, nil, fastConfig(), nil)
	snap := runToSettlement(t, r)

	assert.Equal(t, domain.StatusSuccess, snap.Status)
	// Failed fetches contribute nothing to the luck path: seed plus the
	// two good ticks.
	assert.Len(t, snap.LuckPath, 3)
}

func TestRunner_VanishedPositionSettles(t *testing.T) {
	engine := New(newLongSession(t))
	engine.Tick(68700) // luck well above 0.5

	// Price holds steady below target; only the position poll can end it.
	quoter := &scriptedQuoter{script: []quoteStep{{price: 68700}}}
	positions := &stubPositions{size: 0}

	r := NewRunner(engine, quoter, positions, nil, fastConfig(), nil)
	snap := runToSettlement(t, r)
	assert.Equal(t, domain.StatusSuccess, snap.Status)
}

func TestRunner_PositionPollErrorIsSkipped(t *testing.T) {
	engine := New(newLongSession(t))
	quoter := &scriptedQuoter{script: []quoteStep{
		{price: 68000}, {price: 68000}, {price: 68000},
		{price: 68000}, {price: 68000}, {price: 68000},
		{price: 68850},
	}}
	positions := &stubPositions{err: errors.New("info down")}

	r := NewRunner(engine, quoter, positions, nil, fastConfig(), nil)
	snap := runToSettlement(t, r)
	assert.Equal(t, domain.StatusSuccess, snap.Status)
}

func TestRunner_SaverFailureDoesNotStopRun(t *testing.T) {
	engine := New(newLongSession(t))
	quoter := &scriptedQuoter{script: []quoteStep{
		{price: 68000}, {price: 68200}, {price: 68850},
	}}
	saver := &recordingSaver{failOn: 1}

	r := NewRunner(engine, quoter, nil, saver, fastConfig(), nil)
	snap := runToSettlement(t, r)

	assert.Equal(t, domain.StatusSuccess, snap.Status)
	assert.Equal(t, domain.StatusSuccess, saver.last(t).Status)
}

func TestRunner_ContextCancelReturnsCurrentState(t *testing.T) {
	engine := New(newLongSession(t))
	quoter := &scriptedQuoter{script: []quoteStep{{price: 68100}}}

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(engine, quoter, nil, nil, fastConfig(), nil)

	done := make(chan domain.TradeSession, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case snap := <-done:
		assert.Equal(t, domain.StatusRunning, snap.Status)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}
