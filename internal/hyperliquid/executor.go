package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Market orders are expressed as IOC limit orders priced through the book.
var marketSlippage = decimal.NewFromFloat(0.05)

// dryRunSeq assigns process-unique fake order ids in dry-run mode
var dryRunSeq atomic.Int64

// Order kinds accepted by PlaceOrder
const (
	OrderKindLimit  = "limit"
	OrderKindMarket = "market"
)

// TriggerSpec describes a stop-loss or take-profit trigger order
type TriggerSpec struct {
	IsMarket bool
	Price    decimal.Decimal
	TpSl     string // "tp" or "sl"
}

// PlaceOrderRequest is the executor's order input. Price is the limit price
// for limit orders and the reference price for market orders; when nil the
// executor fetches the current mid.
type PlaceOrderRequest struct {
	Coin          string
	IsBuy         bool
	Size          decimal.Decimal
	Price         *decimal.Decimal
	Kind          string // OrderKindLimit or OrderKindMarket
	TIF           string // limit only; defaults to Gtc
	ReduceOnly    bool
	ClientOrderID string
	Trigger       *TriggerSpec
	Grouping      string
}

// OrderAck is the result of a successful placement
type OrderAck struct {
	OrderID  string
	Filled   bool
	AvgPrice string
	TotalSz  string
}

// Executor owns a signer and performs all write operations against the
// exchange. One executor per agent account; leverage updates and order
// submission for the same agent are serialized by the caller.
type Executor struct {
	signer     *Signer
	baseURL    string
	dryRun     bool
	meta       *MetaCache
	info       *InfoClient
	httpClient *http.Client
	retry      RetryConfig
	vault      *string
}

// NewExecutor creates an executor bound to one signer
func NewExecutor(signer *Signer, info *InfoClient, meta *MetaCache, baseURL string, timeout time.Duration, dryRun bool) *Executor {
	return &Executor{
		signer:     signer,
		baseURL:    baseURL,
		dryRun:     dryRun,
		meta:       meta,
		info:       info,
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryConfig(),
	}
}

// DryRun reports whether the executor short-circuits before signing
func (e *Executor) DryRun() bool { return e.dryRun }

// Address returns the lowercase account address this executor trades for
func (e *Executor) Address() string {
	if e.signer == nil {
		return ""
	}
	return e.signer.Address()
}

// PlaceOrder places one order. Market orders become IOC limits priced 5%
// through the reference price. Prices and sizes are quantized to the
// asset's tick and lot before signing; dry-run still performs quantization
// and validation but never signs or touches the network.
func (e *Executor) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderAck, error) {
	meta, err := e.meta.Resolve(ctx, req.Coin)
	if err != nil {
		return nil, err
	}

	px, err := e.resolvePrice(ctx, req)
	if err != nil {
		return nil, err
	}

	sizeWire := meta.SizeWire(req.Size)
	if sz, _ := decimal.NewFromString(sizeWire); sz.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order size %s rounds to zero for %s (lot %d decimals)",
			req.Size, req.Coin, meta.SzDecimals)
	}

	order := Order{
		Asset:      meta.Index,
		IsBuy:      req.IsBuy,
		LimitPx:    meta.PriceWire(px),
		Sz:         sizeWire,
		ReduceOnly: req.ReduceOnly,
		Cloid:      req.ClientOrderID,
	}

	switch {
	case req.Trigger != nil:
		order.OrderType = OrderType{Trigger: &TriggerOrderType{
			IsMarket:  req.Trigger.IsMarket,
			TriggerPx: meta.PriceWire(req.Trigger.Price),
			TpSl:      req.Trigger.TpSl,
		}}
	case req.Kind == OrderKindMarket:
		order.OrderType = OrderType{Limit: &LimitOrderType{TIF: "Ioc"}}
	default:
		tif := req.TIF
		if tif == "" {
			tif = "Gtc"
		}
		order.OrderType = OrderType{Limit: &LimitOrderType{TIF: tif}}
	}

	grouping := req.Grouping
	if grouping == "" {
		grouping = GroupingNA
	}

	if e.dryRun {
		id := fmt.Sprintf("dry-%d", dryRunSeq.Add(1))
		log.Info().
			Str("coin", req.Coin).
			Bool("is_buy", req.IsBuy).
			Str("px", order.LimitPx).
			Str("sz", order.Sz).
			Str("order_id", id).
			Msg("Dry-run order accepted")
		return &OrderAck{OrderID: id, Filled: req.Kind == OrderKindMarket, AvgPrice: order.LimitPx, TotalSz: order.Sz}, nil
	}

	action := OrderAction{Type: "order", Orders: []Order{order}, Grouping: grouping}

	var ack *OrderAck
	err = WithRetry(ctx, e.retry, func() error {
		resp, err := e.postAction(ctx, "placeOrder", action)
		if err != nil {
			return err
		}
		a, err := ackFromStatuses("placeOrder", resp)
		if err != nil {
			return err
		}
		ack = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("coin", req.Coin).
		Bool("is_buy", req.IsBuy).
		Str("px", order.LimitPx).
		Str("sz", order.Sz).
		Str("order_id", ack.OrderID).
		Bool("filled", ack.Filled).
		Msg("Order placed")
	return ack, nil
}

// CancelOrder cancels a resting order by exchange order id
func (e *Executor) CancelOrder(ctx context.Context, coin string, oid int64) error {
	meta, err := e.meta.Resolve(ctx, coin)
	if err != nil {
		return err
	}

	if e.dryRun {
		log.Info().Str("coin", coin).Int64("oid", oid).Msg("Dry-run cancel accepted")
		return nil
	}

	action := CancelAction{Type: "cancel", Cancels: []CancelWire{{Asset: meta.Index, Oid: oid}}}
	return WithRetry(ctx, e.retry, func() error {
		_, err := e.postAction(ctx, "cancelOrder", action)
		return err
	})
}

// CancelByCloid cancels a resting order by client order id
func (e *Executor) CancelByCloid(ctx context.Context, coin, cloid string) error {
	meta, err := e.meta.Resolve(ctx, coin)
	if err != nil {
		return err
	}

	if e.dryRun {
		log.Info().Str("coin", coin).Str("cloid", cloid).Msg("Dry-run cancel accepted")
		return nil
	}

	action := CancelByCloidAction{Type: "cancelByCloid", Cancels: []CancelCloidWire{{Asset: meta.Index, Cloid: cloid}}}
	return WithRetry(ctx, e.retry, func() error {
		_, err := e.postAction(ctx, "cancelByCloid", action)
		return err
	})
}

// ModifyOrder replaces a resting order's price and size in place
func (e *Executor) ModifyOrder(ctx context.Context, coin string, oid int64, req PlaceOrderRequest) error {
	meta, err := e.meta.Resolve(ctx, coin)
	if err != nil {
		return err
	}
	px, err := e.resolvePrice(ctx, req)
	if err != nil {
		return err
	}

	order := Order{
		Asset:      meta.Index,
		IsBuy:      req.IsBuy,
		LimitPx:    meta.PriceWire(px),
		Sz:         meta.SizeWire(req.Size),
		ReduceOnly: req.ReduceOnly,
		OrderType:  OrderType{Limit: &LimitOrderType{TIF: "Gtc"}},
		Cloid:      req.ClientOrderID,
	}

	if e.dryRun {
		log.Info().Str("coin", coin).Int64("oid", oid).Msg("Dry-run modify accepted")
		return nil
	}

	action := ModifyAction{Type: "modify", Oid: oid, Order: order}
	return WithRetry(ctx, e.retry, func() error {
		_, err := e.postAction(ctx, "modifyOrder", action)
		return err
	})
}

// UpdateLeverage sets leverage for a coin before order submission
func (e *Executor) UpdateLeverage(ctx context.Context, coin string, leverage int, isCross bool) error {
	meta, err := e.meta.Resolve(ctx, coin)
	if err != nil {
		return err
	}
	if leverage < 1 || (meta.MaxLeverage > 0 && leverage > meta.MaxLeverage) {
		return &ExchangeRejected{
			Op:     "updateLeverage",
			Reason: fmt.Sprintf("leverage %d outside [1, %d] for %s", leverage, meta.MaxLeverage, coin),
		}
	}

	if e.dryRun {
		log.Info().Str("coin", coin).Int("leverage", leverage).Bool("cross", isCross).
			Msg("Dry-run leverage update accepted")
		return nil
	}

	action := UpdateLeverageAction{Type: "updateLeverage", Asset: meta.Index, IsCross: isCross, Leverage: leverage}
	return WithRetry(ctx, e.retry, func() error {
		_, err := e.postAction(ctx, "updateLeverage", action)
		return err
	})
}

// UpdateIsolatedMargin adds or removes isolated margin for a coin
func (e *Executor) UpdateIsolatedMargin(ctx context.Context, coin string, isBuy bool, usd decimal.Decimal) error {
	meta, err := e.meta.Resolve(ctx, coin)
	if err != nil {
		return err
	}

	if e.dryRun {
		log.Info().Str("coin", coin).Str("usd", usd.String()).Msg("Dry-run margin update accepted")
		return nil
	}

	// ntli is expressed in USD with 6 decimals
	ntli := usd.Shift(6).IntPart()
	action := UpdateIsolatedMarginAction{Type: "updateIsolatedMargin", Asset: meta.Index, IsBuy: isBuy, Ntli: ntli}
	return WithRetry(ctx, e.retry, func() error {
		_, err := e.postAction(ctx, "updateIsolatedMargin", action)
		return err
	})
}

// resolvePrice determines the limit price for a request: the caller's price
// when present, otherwise the live mid, pushed through the book for markets
func (e *Executor) resolvePrice(ctx context.Context, req PlaceOrderRequest) (decimal.Decimal, error) {
	var px decimal.Decimal
	if req.Price != nil {
		px = *req.Price
	} else {
		mids, err := e.info.AllMids(ctx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to fetch reference price: %w", err)
		}
		mid, ok := mids[req.Coin]
		if !ok {
			return decimal.Zero, fmt.Errorf("no mid price for %s", req.Coin)
		}
		px = decimal.NewFromFloat(mid)
	}

	if req.Kind == OrderKindMarket {
		if req.IsBuy {
			px = px.Mul(decimal.NewFromInt(1).Add(marketSlippage))
		} else {
			px = px.Mul(decimal.NewFromInt(1).Sub(marketSlippage))
		}
	}
	if px.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive price for %s", req.Coin)
	}
	return px, nil
}

// postAction signs and posts one L1 action. The exact bytes that were
// signed are the bytes sent; re-marshalling after signing would break the
// signature.
func (e *Executor) postAction(ctx context.Context, op string, action any) (*ExchangeResponse, error) {
	actionBytes, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode action: %w", op, err)
	}

	nonce := time.Now().UnixMilli()
	sig, err := e.signer.Sign(json.RawMessage(actionBytes), nonce, e.vault)
	if err != nil {
		return nil, &AuthError{Op: op, Reason: err.Error()}
	}

	reqBody, err := json.Marshal(ExchangeRequest{
		Action:       actionBytes,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: e.vault,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/exchange", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimited{Op: op}
	case resp.StatusCode >= 500:
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Op: op, Reason: string(raw)}
	case resp.StatusCode != http.StatusOK:
		return nil, classifyRejection(op, fmt.Sprintf("status %d: %s", resp.StatusCode, raw))
	}

	var envelope struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	if envelope.Status != "ok" {
		var reason string
		if err := json.Unmarshal(envelope.Response, &reason); err != nil {
			reason = string(envelope.Response)
		}
		return nil, classifyRejection(op, reason)
	}

	var full ExchangeResponse
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response data: %w", op, err)
	}
	return &full, nil
}

// ackFromStatuses extracts the order id from the first status entry
func ackFromStatuses(op string, resp *ExchangeResponse) (*OrderAck, error) {
	statuses := resp.Response.Data.Statuses
	if len(statuses) == 0 {
		return nil, &ExchangeRejected{Op: op, Reason: "empty status list"}
	}

	st := statuses[0]
	switch {
	case st.Error != "":
		return nil, classifyRejection(op, st.Error)
	case st.Filled != nil:
		return &OrderAck{
			OrderID:  strconv.FormatInt(st.Filled.Oid, 10),
			Filled:   true,
			AvgPrice: st.Filled.AvgPx,
			TotalSz:  st.Filled.TotalSz,
		}, nil
	case st.Resting != nil:
		return &OrderAck{OrderID: strconv.FormatInt(st.Resting.Oid, 10)}, nil
	default:
		return nil, &ExchangeRejected{Op: op, Reason: "unrecognized order status"}
	}
}
