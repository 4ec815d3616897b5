package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/observability"
	"perp-ritual-lab/internal/signing"
)

// Order entry errors.
var (
	// ErrOrderRejected means the exchange returned an error status for
	// the order. Surfaced verbatim; never retried automatically since a
	// retry would carry a stale nonce and price.
	ErrOrderRejected = errors.New("hyperliquid: order rejected")

	// ErrOrderUnfilled means the order rested instead of filling, which
	// breaks the instant-fill contract of a market-style entry.
	ErrOrderUnfilled = errors.New("hyperliquid: order not filled")
)

// Fill is a confirmed immediate execution.
type Fill struct {
	AvgPx   float64
	TotalSz float64
	OrderID int64
}

// RestingOrder is an order accepted onto the book.
type RestingOrder struct {
	OrderID int64
}

// OrderStatus is the defensively parsed per-order result. Exactly one of
// Filled, Resting, or Err is meaningful.
type OrderStatus struct {
	Filled  *Fill
	Resting *RestingOrder
	Err     string
}

// EntryWithTP is the result of a paired entry + take-profit submission.
// The two statuses are independent: the take-profit can fail while the
// entry fill stands.
type EntryWithTP struct {
	Entry      OrderStatus
	TakeProfit *OrderStatus // nil if the response omitted it
}

// Gateway translates trade intents into signed exchange actions.
type Gateway struct {
	client     *Client
	info       *Info
	signer     *signing.Signer
	instrument domain.Instrument
	vault      *signing.Address
	logger     *log.Logger

	// nonce returns a strictly increasing nonce; wall-clock milliseconds
	// in production, injectable for tests.
	nonce func() uint64
}

// NewGateway creates a Gateway for one instrument. The instrument must
// already be resolved (see Info.ResolveInstrument).
func NewGateway(client *Client, info *Info, signer *signing.Signer, instrument domain.Instrument, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		client:     client,
		info:       info,
		signer:     signer,
		instrument: instrument,
		logger:     logger,
		nonce:      func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// marketOrder builds a slippage-bounded IOC entry order.
func (g *Gateway) marketOrder(isBuy bool, size, referencePx float64) OrderWire {
	px := SlippagePrice(referencePx, isBuy, g.instrument.SzDecimals)
	sz := RoundSize(size, g.instrument.SzDecimals)
	return OrderWire{
		Asset:      g.instrument.AssetIndex,
		IsBuy:      isBuy,
		Price:      FloatToWire(px),
		Size:       FloatToWire(sz),
		ReduceOnly: false,
		Type:       OrderTypeWire{Limit: LimitWire{Tif: TifIOC}},
	}
}

// submit signs and posts an order action, returning the raw statuses in
// submission order.
func (g *Gateway) submit(ctx context.Context, action any) ([]OrderStatus, error) {
	nonce := g.nonce()
	sig, err := g.signer.SignAction(ctx, action, g.vault, nonce)
	if err != nil {
		result := "error"
		if signing.IsUserRejected(err) {
			result = "rejected"
		}
		observability.RecordSignRequest(result)
		return nil, err
	}
	observability.RecordSignRequest("ok")

	var vaultAddr *string
	if g.vault != nil {
		s := g.vault.Hex()
		vaultAddr = &s
	}

	var resp exchangeResponse
	err = g.client.postExchange(ctx, exchangeRequest{
		Action:       action,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: vaultAddr,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, resp.Error)
	}

	statuses := make([]OrderStatus, 0, len(resp.Response.Data.Statuses))
	for _, st := range resp.Response.Data.Statuses {
		statuses = append(statuses, parseStatus(st))
	}
	return statuses, nil
}

func parseStatus(st orderStatusWire) OrderStatus {
	switch {
	case st.Error != "":
		return OrderStatus{Err: st.Error}
	case st.Filled != nil:
		return OrderStatus{Filled: &Fill{
			AvgPx:   parseFloatOrZero(st.Filled.AvgPx),
			TotalSz: parseFloatOrZero(st.Filled.TotalSz),
			OrderID: st.Filled.Oid,
		}}
	case st.Resting != nil:
		return OrderStatus{Resting: &RestingOrder{OrderID: st.Resting.Oid}}
	case st.OK:
		return OrderStatus{}
	default:
		return OrderStatus{Err: "empty order status"}
	}
}

// PlaceMarketOrder submits a slippage-bounded IOC order.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, isBuy bool, size, referencePx float64) (OrderStatus, error) {
	action := OrderAction{
		Type:     "order",
		Orders:   []OrderWire{g.marketOrder(isBuy, size, referencePx)},
		Grouping: GroupingNA,
	}.Canonicalize()

	statuses, err := g.submit(ctx, action)
	if err != nil {
		return OrderStatus{}, err
	}
	if len(statuses) == 0 {
		return OrderStatus{}, fmt.Errorf("%w: no status returned", ErrOrderRejected)
	}
	return statuses[0], nil
}

// PlaceMarketOrderWithTakeProfit submits the entry order plus a
// reduce-only GTC order at the take-profit price on the opposite side,
// in one signed action. Statuses are surfaced independently in
// submission order: entry first, take-profit second.
func (g *Gateway) PlaceMarketOrderWithTakeProfit(ctx context.Context, isBuy bool, size, referencePx, takeProfitPx float64) (EntryWithTP, error) {
	tpPx := RoundPrice(takeProfitPx, g.instrument.SzDecimals)
	tp := OrderWire{
		Asset:      g.instrument.AssetIndex,
		IsBuy:      !isBuy,
		Price:      FloatToWire(tpPx),
		Size:       FloatToWire(RoundSize(size, g.instrument.SzDecimals)),
		ReduceOnly: true,
		Type:       OrderTypeWire{Limit: LimitWire{Tif: TifGTC}},
	}

	action := OrderAction{
		Type:     "order",
		Orders:   []OrderWire{g.marketOrder(isBuy, size, referencePx), tp},
		Grouping: GroupingNA,
	}.Canonicalize()

	statuses, err := g.submit(ctx, action)
	if err != nil {
		return EntryWithTP{}, err
	}
	if len(statuses) == 0 {
		return EntryWithTP{}, fmt.Errorf("%w: no status returned", ErrOrderRejected)
	}

	out := EntryWithTP{Entry: statuses[0]}
	if len(statuses) > 1 {
		tpStatus := statuses[1]
		out.TakeProfit = &tpStatus
	}
	return out, nil
}

// CancelOrder cancels a resting order by id.
func (g *Gateway) CancelOrder(ctx context.Context, orderID int64) error {
	action := CancelAction{
		Type:    "cancel",
		Cancels: []CancelWire{{Asset: g.instrument.AssetIndex, OrderID: orderID}},
	}

	statuses, err := g.submit(ctx, action)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if st.Err != "" {
			return fmt.Errorf("%w: %s", ErrOrderRejected, st.Err)
		}
	}
	return nil
}

// ClosePositionAtMarket flattens an open position with a reduce-only
// market-style order on the opposite side of the held size.
func (g *Gateway) ClosePositionAtMarket(ctx context.Context, positionSize, referencePx float64) (OrderStatus, error) {
	if positionSize == 0 {
		return OrderStatus{}, nil
	}
	isBuy := positionSize < 0 // buy back a short, sell a long
	size := positionSize
	if size < 0 {
		size = -size
	}

	order := g.marketOrder(isBuy, size, referencePx)
	order.ReduceOnly = true
	action := OrderAction{
		Type:     "order",
		Orders:   []OrderWire{order},
		Grouping: GroupingNA,
	}.Canonicalize()

	statuses, err := g.submit(ctx, action)
	if err != nil {
		return OrderStatus{}, err
	}
	if len(statuses) == 0 {
		return OrderStatus{}, fmt.Errorf("%w: no status returned", ErrOrderRejected)
	}
	return statuses[0], nil
}
