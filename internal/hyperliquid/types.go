package hyperliquid

import (
	"encoding/json"

	"perp-ritual-lab/internal/signing"
)

// Time-in-force values accepted by the order endpoint.
const (
	TifIOC = "Ioc" // immediate-or-cancel, used for market-style entries
	TifGTC = "Gtc" // good-till-cancelled, used for resting take-profits
)

// Order grouping values.
const GroupingNA = "na"

// OrderWire is one order inside an order action. Field order is the
// canonical msgpack key order and must not be rearranged: the signature
// is computed over these bytes.
type OrderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	Price      string        `json:"p" msgpack:"p"`
	Size       string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	Type       OrderTypeWire `json:"t" msgpack:"t"`
}

// OrderTypeWire selects the order type. Only limit orders are used; a
// slippage-bounded IOC limit behaves like a market order.
type OrderTypeWire struct {
	Limit LimitWire `json:"limit" msgpack:"limit"`
}

// LimitWire carries the time-in-force of a limit order.
type LimitWire struct {
	Tif string `json:"tif" msgpack:"tif"`
}

// OrderAction is the signable "order" action payload.
type OrderAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []OrderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

// CancelWire is one cancel inside a cancel action.
type CancelWire struct {
	Asset   int   `json:"a" msgpack:"a"`
	OrderID int64 `json:"o" msgpack:"o"`
}

// CancelAction is the signable "cancel" action payload.
type CancelAction struct {
	Type    string       `json:"type" msgpack:"type"`
	Cancels []CancelWire `json:"cancels" msgpack:"cancels"`
}

// Canonicalize trims insignificant trailing zeros from the decimal string
// fields so semantically equal actions hash identically.
func (a OrderAction) Canonicalize() OrderAction {
	orders := make([]OrderWire, len(a.Orders))
	for i, o := range a.Orders {
		o.Price = signing.TrimTrailingZeros(o.Price)
		o.Size = signing.TrimTrailingZeros(o.Size)
		orders[i] = o
	}
	a.Orders = orders
	return a
}

// exchangeRequest is the POST body of the order-entry endpoint.
type exchangeRequest struct {
	Action       any               `json:"action"`
	Nonce        uint64            `json:"nonce"`
	Signature    signing.Signature `json:"signature"`
	VaultAddress *string           `json:"vaultAddress"`
}

// exchangeResponse is the order-entry endpoint response envelope.
type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatusWire `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
	// Top-level error string on rejected requests.
	Error string `json:"error,omitempty"`
}

// orderStatusWire is one per-order status; exactly one field is set.
// Cancel statuses arrive as the bare string "success" instead of an
// object, so decoding tolerates both shapes.
type orderStatusWire struct {
	Filled  *filledWire  `json:"filled,omitempty"`
	Resting *restingWire `json:"resting,omitempty"`
	Error   string       `json:"error,omitempty"`
	OK      bool         `json:"-"`
}

func (s *orderStatusWire) UnmarshalJSON(data []byte) error {
	var marker string
	if err := json.Unmarshal(data, &marker); err == nil {
		s.OK = marker == "success"
		if !s.OK {
			s.Error = marker
		}
		return nil
	}

	type alias orderStatusWire
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = orderStatusWire(obj)
	return nil
}

type filledWire struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	Oid     int64  `json:"oid"`
}

type restingWire struct {
	Oid int64 `json:"oid"`
}

// metaResponse is the instrument universe returned for {"type":"meta"}.
type metaResponse struct {
	Universe []assetMeta `json:"universe"`
}

type assetMeta struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
}

// candleWire is one OHLC bucket from candleSnapshot.
type candleWire struct {
	OpenTimeMs  int64  `json:"t"`
	CloseTimeMs int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	Trades      int64  `json:"n"`
}

// clearinghouseState is the subset of account state the app consumes.
type clearinghouseState struct {
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin    string `json:"coin"`
			Szi     string `json:"szi"` // signed size, negative for shorts
			EntryPx string `json:"entryPx"`
		} `json:"position"`
	} `json:"assetPositions"`
}
