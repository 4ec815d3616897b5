package domain

// Candle is one OHLC bucket from the exchange candle snapshot.
type Candle struct {
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
}

// LuckPoint is one normalized position-in-range sample for a session.
// It is a display derivative and carries no settlement authority.
type LuckPoint struct {
	SessionID   string
	TimestampMs int64
	Price       float64
	Luck        float64 // [0,1], 0 at liquidation, 1 at target
}

// Instrument is exchange metadata for the traded perp, resolved once per
// process lifetime and immutable afterward.
type Instrument struct {
	Symbol     string // e.g. "BTC"
	AssetIndex int    // position in the exchange universe
	SzDecimals int    // size precision for wire encoding
}
