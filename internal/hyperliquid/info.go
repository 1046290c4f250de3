package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// InfoClient reads market and account state from the /info endpoint.
// Requests are paced by a shared limiter; every call carries the configured
// timeout through its context.
type InfoClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewInfoClient creates an info client for the given base URL
func NewInfoClient(baseURL string, timeout time.Duration, requestsPerSecond int) *InfoClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &InfoClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// post sends one info request and decodes the response into out
func (c *InfoClient) post(ctx context.Context, op string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: limiter wait: %w", op, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimited{Op: op}
	case resp.StatusCode >= 500:
		return &NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	case resp.StatusCode != http.StatusOK:
		return &ExchangeRejected{Op: op, Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// Health verifies the endpoint answers a trivial request
func (c *InfoClient) Health(ctx context.Context) error {
	_, err := c.AllMids(ctx)
	return err
}

// AllMids returns the current mid price per coin
func (c *InfoClient) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.post(ctx, "allMids", map[string]any{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}

	mids := make(map[string]float64, len(raw))
	for coin, px := range raw {
		v, err := strconv.ParseFloat(px, 64)
		if err != nil {
			log.Warn().Str("coin", coin).Str("px", px).Msg("Skipping unparsable mid price")
			continue
		}
		mids[coin] = v
	}
	return mids, nil
}

// CandleSnapshot returns the most recent limit klines for a coin/interval,
// ordered oldest to newest
func (c *InfoClient) CandleSnapshot(ctx context.Context, coin, interval string, limit int) ([]Kline, error) {
	end := time.Now().UnixMilli()
	start := end - int64(limit)*intervalMillis(interval)

	payload := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": start,
			"endTime":   end,
		},
	}

	var klines []Kline
	if err := c.post(ctx, "candleSnapshot", payload, &klines); err != nil {
		return nil, err
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// MetaAndAssetCtxs returns the asset universe and per-asset live context.
// The two slices are index-aligned.
func (c *InfoClient) MetaAndAssetCtxs(ctx context.Context) ([]AssetInfo, []AssetCtx, error) {
	var raw []json.RawMessage
	if err := c.post(ctx, "metaAndAssetCtxs", map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) != 2 {
		return nil, nil, fmt.Errorf("metaAndAssetCtxs: unexpected response shape")
	}

	var meta struct {
		Universe []AssetInfo `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, nil, fmt.Errorf("metaAndAssetCtxs: failed to decode meta: %w", err)
	}

	var ctxs []AssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, nil, fmt.Errorf("metaAndAssetCtxs: failed to decode contexts: %w", err)
	}

	return meta.Universe, ctxs, nil
}

// ClearinghouseState returns the account snapshot for a user address
func (c *InfoClient) ClearinghouseState(ctx context.Context, user string) (*ClearinghouseState, error) {
	var state ClearinghouseState
	payload := map[string]any{"type": "clearinghouseState", "user": user}
	if err := c.post(ctx, "clearinghouseState", payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// UserFills returns recent fills for a user address
func (c *InfoClient) UserFills(ctx context.Context, user string) ([]UserFill, error) {
	var fills []UserFill
	payload := map[string]any{"type": "userFills", "user": user}
	if err := c.post(ctx, "userFills", payload, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// intervalMillis converts a kline interval name to its duration in ms
func intervalMillis(interval string) int64 {
	if len(interval) < 2 {
		return 60_000
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 60_000
	}
	switch interval[len(interval)-1] {
	case 'm':
		return int64(n) * 60_000
	case 'h':
		return int64(n) * 3_600_000
	case 'd':
		return int64(n) * 86_400_000
	default:
		return 60_000
	}
}
