package hyperliquid

import "encoding/json"

// Wire types for the HyperLiquid exchange endpoint. Field names and ordering
// follow the exchange contract and must not be reordered: the signed payload
// is the canonical JSON encoding of these structs.

// Order is one entry in an "order" action
type Order struct {
	Asset      int        `json:"a"`
	IsBuy      bool       `json:"b"`
	LimitPx    string     `json:"p"`
	Sz         string     `json:"s"`
	ReduceOnly bool       `json:"r"`
	OrderType  OrderType  `json:"t"`
	Cloid      string     `json:"c,omitempty"`
}

// OrderType selects limit, trigger or twap semantics
type OrderType struct {
	Limit   *LimitOrderType   `json:"limit,omitempty"`
	Trigger *TriggerOrderType `json:"trigger,omitempty"`
	Twap    *TwapOrderType    `json:"twap,omitempty"`
}

// LimitOrderType carries the time-in-force
type LimitOrderType struct {
	TIF string `json:"tif"` // "Gtc", "Ioc" or "Alo"
}

// TriggerOrderType expresses stop-loss / take-profit triggers
type TriggerOrderType struct {
	IsMarket  bool   `json:"isMarket"`
	TriggerPx string `json:"triggerPx"`
	TpSl      string `json:"tpsl"` // "tp" or "sl"
}

// TwapOrderType configures time-weighted execution
type TwapOrderType struct {
	Minutes     int  `json:"m"`
	Randomize   bool `json:"r"`
	SzPerMinute bool `json:"t"`
}

// Order groupings
const (
	GroupingNA           = "na"
	GroupingNormalTpsl   = "normalTpsl"
	GroupingPositionTpsl = "positionTpsl"
)

// OrderAction is the "order" L1 action
type OrderAction struct {
	Type     string  `json:"type"` // "order"
	Orders   []Order `json:"orders"`
	Grouping string  `json:"grouping"`
}

// CancelAction cancels orders by oid
type CancelAction struct {
	Type    string       `json:"type"` // "cancel"
	Cancels []CancelWire `json:"cancels"`
}

// CancelWire identifies one order to cancel
type CancelWire struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"oid"`
}

// CancelByCloidAction cancels orders by client order id
type CancelByCloidAction struct {
	Type    string            `json:"type"` // "cancelByCloid"
	Cancels []CancelCloidWire `json:"cancels"`
}

// CancelCloidWire identifies one order to cancel by cloid
type CancelCloidWire struct {
	Asset int    `json:"asset"`
	Cloid string `json:"cloid"`
}

// ModifyAction modifies a resting order in place
type ModifyAction struct {
	Type  string `json:"type"` // "modify"
	Oid   int64  `json:"oid"`
	Order Order  `json:"order"`
}

// BatchModifyAction modifies several resting orders
type BatchModifyAction struct {
	Type     string       `json:"type"` // "batchModify"
	Modifies []ModifyWire `json:"modifies"`
}

// ModifyWire is one entry in a batchModify
type ModifyWire struct {
	Oid   int64 `json:"oid"`
	Order Order `json:"order"`
}

// UpdateLeverageAction sets leverage for an asset
type UpdateLeverageAction struct {
	Type     string `json:"type"` // "updateLeverage"
	Asset    int    `json:"asset"`
	IsCross  bool   `json:"isCross"`
	Leverage int    `json:"leverage"`
}

// UpdateIsolatedMarginAction adjusts isolated margin for an asset
type UpdateIsolatedMarginAction struct {
	Type  string `json:"type"` // "updateIsolatedMargin"
	Asset int    `json:"asset"`
	IsBuy bool   `json:"isBuy"`
	Ntli  int64  `json:"ntli"`
}

// SigRSV is the signature triple attached to every exchange request
type SigRSV struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// ExchangeRequest is the POST body of the single exchange endpoint
type ExchangeRequest struct {
	Action       json.RawMessage `json:"action"`
	Nonce        int64           `json:"nonce"`
	Signature    SigRSV          `json:"signature"`
	VaultAddress *string         `json:"vaultAddress"`
}

// ExchangeResponse is the envelope every exchange action returns
type ExchangeResponse struct {
	Status   string `json:"status"` // "ok" or "err"
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []OrderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
	// Error text when status = "err"
	Err string `json:"-"`
}

// OrderStatus is the per-order result inside an exchange response
type OrderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		Oid     int64  `json:"oid"`
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// --- info endpoint types ---

// Kline is one candle from candleSnapshot, ordered oldest to newest
type Kline struct {
	OpenTime  int64   `json:"t"`
	CloseTime int64   `json:"T"`
	Coin      string  `json:"s"`
	Interval  string  `json:"i"`
	Open      float64 `json:"o,string"`
	Close     float64 `json:"c,string"`
	High      float64 `json:"h,string"`
	Low       float64 `json:"l,string"`
	Volume    float64 `json:"v,string"`
	Trades    int     `json:"n"`
}

// AssetInfo is one universe entry from metaAndAssetCtxs
type AssetInfo struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

// AssetCtx is the per-asset live context from metaAndAssetCtxs
type AssetCtx struct {
	Funding      string   `json:"funding"`
	OpenInterest string   `json:"openInterest"`
	MarkPx       string   `json:"markPx"`
	MidPx        *string  `json:"midPx"`
	OraclePx     string   `json:"oraclePx"`
	DayNtlVlm    string   `json:"dayNtlVlm"`
	Premium      *string  `json:"premium"`
	PrevDayPx    string   `json:"prevDayPx"`
	ImpactPxs    []string `json:"impactPxs"`
}

// ClearinghouseState is the account snapshot from the info endpoint
type ClearinghouseState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalNtlPos     string `json:"totalNtlPos"`
		TotalRawUsd     string `json:"totalRawUsd"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string          `json:"withdrawable"`
	AssetPositions []AssetPosition `json:"assetPositions"`
	Time           int64           `json:"time"`
}

// AssetPosition is one open position inside a clearinghouse snapshot
type AssetPosition struct {
	Position struct {
		Coin          string  `json:"coin"`
		Szi           string  `json:"szi"`
		EntryPx       *string `json:"entryPx"`
		LiquidationPx *string `json:"liquidationPx"`
		UnrealizedPnl string  `json:"unrealizedPnl"`
		Leverage      struct {
			Type  string `json:"type"`
			Value int    `json:"value"`
		} `json:"leverage"`
		MarginUsed string `json:"marginUsed"`
	} `json:"position"`
}

// UserFill is one fill from userFills
type UserFill struct {
	Coin      string `json:"coin"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Side      string `json:"side"`
	Time      int64  `json:"time"`
	Dir       string `json:"dir"`
	ClosedPnl string `json:"closedPnl"`
	Oid       int64  `json:"oid"`
	Fee       string `json:"fee"`
	Cloid     string `json:"cloid,omitempty"`
}
