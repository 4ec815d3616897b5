package domain

// TradeSide is the direction of a ritual position.
type TradeSide string

const (
	SideLong  TradeSide = "LONG"
	SideShort TradeSide = "SHORT"
)

// SessionStatus is the lifecycle state of a trade session.
// A session is created running and reaches exactly one terminal state.
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusSuccess SessionStatus = "success"
	StatusFail    SessionStatus = "fail"
	StatusAborted SessionStatus = "aborted"
)

// Terminal reports whether the status is a terminal outcome.
func (s SessionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFail || s == StatusAborted
}

// TradeSession is one ritual: a confirmed entry fill watched until a
// boundary is crossed or the user aborts.
//
// EntryPrice, LiqPrice, and TargetPrice are fixed when the session is
// created from the fill and never recomputed afterward.
type TradeSession struct {
	ID   string // opaque id (uuid)
	Date string // calendar day bucket, YYYY-MM-DD

	Side            TradeSide
	MarginUSD       float64
	Leverage        float64
	TPMultiple      float64 // target profit / margin
	TargetProfitUSD float64

	EntryPrice  float64
	LiqPrice    float64
	TargetPrice float64

	CurrentPrice float64
	LuckPath     []float64 // normalized [0,1] samples, oldest first
	OrderID      int64     // broker order id, 0 if unknown

	Status    SessionStatus
	StartedAt int64 // unix ms
	EndedAt   int64 // unix ms, 0 while running
}

// Notional returns margin * leverage.
func (t *TradeSession) Notional() float64 {
	return t.MarginUSD * t.Leverage
}

// PnLUSD returns the signed profit at the given price.
func (t *TradeSession) PnLUSD(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	change := (price - t.EntryPrice) / t.EntryPrice
	if t.Side == SideShort {
		change = -change
	}
	return t.Notional() * change
}

// LastLuck returns the most recent luck sample, or 0.5 when the path is empty.
func (t *TradeSession) LastLuck() float64 {
	if len(t.LuckPath) == 0 {
		return 0.5
	}
	return t.LuckPath[len(t.LuckPath)-1]
}
