// Package backpack implements the venue adapter for the Backpack exchange
// API: ED25519 instruction signing and JSON request bodies. Order prices are
// clamped into the venue's band around the last trade before submission,
// since out-of-band prices are rejected outright.
package backpack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"hedgearb/internal/config"
	"hedgearb/internal/infra/log"
	"hedgearb/internal/infra/metrics"
	"hedgearb/internal/infra/network"
	"hedgearb/internal/pricing"
	"hedgearb/internal/venue"
)

const signWindowMs = 5000

type Adapter struct {
	baseURL string
	apiKey  string
	priv    ed25519.PrivateKey
	spec    venue.Spec
	http    *http.Client
	logger  log.Logger
}

// New decodes the base64 ED25519 seed from config. A bad seed surfaces here,
// not on the first signed call.
func New(vc config.Venue, spec venue.Spec, logger log.Logger) (*Adapter, error) {
	a := &Adapter{
		baseURL: strings.TrimRight(vc.BaseURL, "/"),
		apiKey:  vc.APIKey,
		spec:    spec,
		http:    network.NewHTTPClient(),
		logger:  logger,
	}
	if vc.Secret != "" {
		seed, err := base64.StdEncoding.DecodeString(vc.Secret)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("backpack: secret is not a base64 ed25519 seed")
		}
		a.priv = ed25519.NewKeyFromSeed(seed)
	}
	return a, nil
}

func (a *Adapter) Name() string { return a.spec.ID }
func (a *Adapter) Close() error { a.http.CloseIdleConnections(); return nil }

// signHeaders builds the instruction signature: the sign string is
// instruction=<action> followed by the params in key order, then timestamp
// and window.
func (a *Adapter) signHeaders(action string, params map[string]string) map[string]string {
	ts := time.Now().UnixMilli()
	var sb strings.Builder
	sb.WriteString("instruction=" + action)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString("&" + k + "=" + params[k])
	}
	fmt.Fprintf(&sb, "&timestamp=%d&window=%d", ts, signWindowMs)
	sig := ed25519.Sign(a.priv, []byte(sb.String()))
	return map[string]string{
		"X-API-Key":   a.apiKey,
		"X-Signature": base64.StdEncoding.EncodeToString(sig),
		"X-Timestamp": strconv.FormatInt(ts, 10),
		"X-Window":    strconv.Itoa(signWindowMs),
	}
}

// do sends one request. Signed GET/DELETE-with-query carry params in the
// query string; POST and DELETE bodies are the JSON form of the same params
// so the signature matches what the venue reconstructs.
func (a *Adapter) do(ctx context.Context, method, path, action string, params map[string]string, out any) error {
	u := a.baseURL + "/" + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, v)
			}
			u += "?" + q.Encode()
		}
	} else if len(params) > 0 {
		js, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = bytes.NewReader(js)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if action != "" {
		for k, v := range a.signHeaders(action, params) {
			req.Header.Set(k, v)
		}
	}
	resp, err := a.http.Do(req)
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues(a.spec.ID, path).Inc()
		return fmt.Errorf("%s %s: %w", a.spec.ID, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		metrics.APIErrorsTotal.WithLabelValues(a.spec.ID, path).Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", a.spec.ID, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (venue.Book, error) {
	start := time.Now()
	var raw struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	params := map[string]string{"symbol": symbol}
	if err := a.do(ctx, http.MethodGet, "api/v1/depth", "", params, &raw); err != nil {
		return venue.Book{}, err
	}
	metrics.BookFetchLatencyMs.WithLabelValues(a.spec.ID).Observe(float64(time.Since(start).Milliseconds()))
	b := venue.Book{VenueID: a.spec.ID, Symbol: symbol, Ts: time.Now()}
	b.Bids = parseLevels(raw.Bids)
	b.Asks = parseLevels(raw.Asks)
	// The feed returns both sides ascending; Normalize flips the bids.
	b.Normalize()
	if depth > 0 {
		if len(b.Bids) > depth {
			b.Bids = b.Bids[:depth]
		}
		if len(b.Asks) > depth {
			b.Asks = b.Asks[:depth]
		}
	}
	return b, nil
}

func parseLevels(raw [][]string) []venue.Level {
	out := make([]venue.Level, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		p, _ := strconv.ParseFloat(lv[0], 64)
		q, _ := strconv.ParseFloat(lv[1], 64)
		if p > 0 && q > 0 {
			out = append(out, venue.Level{Price: p, Qty: q})
		}
	}
	return out
}

// lastPrice reads the ticker for the band reference.
func (a *Adapter) lastPrice(ctx context.Context, symbol string) (float64, error) {
	var raw struct {
		LastPrice string `json:"lastPrice"`
	}
	if err := a.do(ctx, http.MethodGet, "api/v1/ticker", "", map[string]string{"symbol": symbol}, &raw); err != nil {
		return 0, err
	}
	p, _ := strconv.ParseFloat(raw.LastPrice, 64)
	return p, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	side := "Bid"
	if req.Side == venue.Sell {
		side = "Ask"
	}
	params := map[string]string{
		"symbol":   req.Symbol,
		"side":     side,
		"quantity": trimFloat(pricing.ToContracts(req.Qty, a.spec)),
	}
	if req.Type == venue.Market || req.Price <= 0 {
		params["orderType"] = "Market"
	} else {
		price := req.Price
		if a.spec.PriceBandPct > 0 {
			last, err := a.lastPrice(ctx, req.Symbol)
			if err != nil {
				return venue.OrderAck{}, err
			}
			clamped := pricing.RoundToTick(pricing.ClampToBand(price, last, a.spec), req.Side, a.spec.TickSize)
			if clamped != price {
				a.logger.Debug().
					Float64("requested", price).
					Float64("clamped", clamped).
					Float64("last", last).
					Msg("price clamped into venue band")
				price = clamped
			}
		}
		params["orderType"] = "Limit"
		params["timeInForce"] = "GTC"
		params["price"] = trimFloat(price)
	}
	if req.ClientID != "" {
		params["clientId"] = req.ClientID
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "api/v1/order", "orderExecute", params, &raw); err != nil {
		return venue.OrderAck{}, err
	}
	return venue.OrderAck{OrderID: raw.ID, State: a.spec.NormalizeStatus(raw.Status)}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{"orderId": orderID, "symbol": symbol}
	return a.do(ctx, http.MethodDelete, "api/v1/order", "orderCancel", params, nil)
}

func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, symbol string) (venue.OrderStatus, error) {
	params := map[string]string{"orderId": orderID, "symbol": symbol}
	var raw struct {
		Status           string `json:"status"`
		ExecutedQuantity string `json:"executedQuantity"`
		Quantity         string `json:"quantity"`
		Price            string `json:"price"`
	}
	if err := a.do(ctx, http.MethodGet, "api/v1/order", "orderQuery", params, &raw); err != nil {
		return venue.OrderStatus{}, err
	}
	filled, _ := strconv.ParseFloat(raw.ExecutedQuantity, 64)
	requested, _ := strconv.ParseFloat(raw.Quantity, 64)
	price, _ := strconv.ParseFloat(raw.Price, 64)
	return venue.OrderStatus{
		State:        a.spec.NormalizeStatus(raw.Status),
		FilledQty:    pricing.FromContracts(filled, a.spec),
		RequestedQty: pricing.FromContracts(requested, a.spec),
		AvgPrice:     price,
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]venue.Position, error) {
	var raw []struct {
		Symbol      string `json:"symbol"`
		NetQuantity string `json:"netQuantity"`
	}
	if err := a.do(ctx, http.MethodGet, "api/v1/position", "positionQuery", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.Position, 0, len(raw))
	for _, p := range raw {
		size, _ := strconv.ParseFloat(p.NetQuantity, 64)
		if size != 0 {
			out = append(out, venue.Position{Symbol: p.Symbol, Size: pricing.FromContracts(size, a.spec)})
		}
	}
	return out, nil
}

func (a *Adapter) GetBalances(ctx context.Context) ([]venue.Balance, error) {
	var raw map[string]struct {
		Available string `json:"available"`
	}
	if err := a.do(ctx, http.MethodGet, "api/v1/capital", "balanceQuery", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.Balance, 0, len(raw))
	for asset, b := range raw {
		free, _ := strconv.ParseFloat(b.Available, 64)
		out = append(out, venue.Balance{Asset: asset, Free: free})
	}
	return out, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	var raw []struct {
		ID string `json:"id"`
	}
	params := map[string]string{"symbol": symbol}
	if err := a.do(ctx, http.MethodGet, "api/v1/orders", "orderQueryAll", params, &raw); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, o := range raw {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
