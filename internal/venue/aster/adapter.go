// Package aster implements the venue adapter for the Aster perpetual futures
// API, which follows the binance-futures wire conventions: HMAC-SHA256 signed
// query strings and an X-MBX-APIKEY header.
package aster

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"hedgearb/internal/config"
	"hedgearb/internal/infra/log"
	"hedgearb/internal/infra/metrics"
	"hedgearb/internal/infra/network"
	"hedgearb/internal/pricing"
	"hedgearb/internal/venue"
)

type Adapter struct {
	baseURL string
	key     string
	secret  string
	spec    venue.Spec
	http    *http.Client
	logger  log.Logger

	mu          sync.Mutex
	leverageSet map[string]int
}

func New(vc config.Venue, spec venue.Spec, logger log.Logger) *Adapter {
	return &Adapter{
		baseURL:     strings.TrimRight(vc.BaseURL, "/"),
		key:         vc.APIKey,
		secret:      vc.Secret,
		spec:        spec,
		http:        network.NewHTTPClient(),
		logger:      logger,
		leverageSet: map[string]int{},
	}
}

func (a *Adapter) Name() string { return a.spec.ID }
func (a *Adapter) Close() error { a.http.CloseIdleConnections(); return nil }

func (a *Adapter) sign(q url.Values) string {
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	qs := q.Encode()
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(qs))
	return qs + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) do(ctx context.Context, method, path string, q url.Values, signed bool, out any) error {
	u := a.baseURL + path
	if signed {
		u += "?" + a.sign(q)
	} else if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", a.key)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues(a.spec.ID, path).Inc()
		return fmt.Errorf("%s %s: %w", a.spec.ID, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		metrics.APIErrorsTotal.WithLabelValues(a.spec.ID, path).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", a.spec.ID, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (venue.Book, error) {
	start := time.Now()
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(depth))
	var raw struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := a.do(ctx, http.MethodGet, "/fapi/v1/depth", q, false, &raw); err != nil {
		return venue.Book{}, err
	}
	metrics.BookFetchLatencyMs.WithLabelValues(a.spec.ID).Observe(float64(time.Since(start).Milliseconds()))
	b := venue.Book{VenueID: a.spec.ID, Symbol: symbol, Ts: time.Now()}
	b.Bids = parseLevels(raw.Bids)
	b.Asks = parseLevels(raw.Asks)
	b.Normalize()
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

// ensureLeverage sets the symbol leverage once per distinct value; the venue
// keeps it sticky per symbol.
func (a *Adapter) ensureLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return nil
	}
	a.mu.Lock()
	current := a.leverageSet[symbol]
	a.mu.Unlock()
	if current == leverage {
		return nil
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("leverage", strconv.Itoa(leverage))
	if err := a.do(ctx, http.MethodPost, "/fapi/v1/leverage", q, true, nil); err != nil {
		return err
	}
	a.logger.Debug().Str("symbol", symbol).Int("leverage", leverage).Msg("leverage set")
	a.mu.Lock()
	a.leverageSet[symbol] = leverage
	a.mu.Unlock()
	return nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	if err := a.ensureLeverage(ctx, req.Symbol, req.Leverage); err != nil {
		return venue.OrderAck{}, err
	}
	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("side", strings.ToUpper(string(req.Side)))
	q.Set("quantity", trimFloat(pricing.ToContracts(req.Qty, a.spec)))
	if req.ClientID != "" {
		q.Set("newClientOrderId", req.ClientID)
	}
	if req.Type == venue.Market || req.Price <= 0 {
		q.Set("type", "MARKET")
	} else {
		q.Set("type", "LIMIT")
		q.Set("timeInForce", "GTC")
		q.Set("price", trimFloat(req.Price))
	}
	if req.ReduceOnly {
		q.Set("reduceOnly", "true")
	}
	var raw struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "/fapi/v1/order", q, true, &raw); err != nil {
		return venue.OrderAck{}, err
	}
	return venue.OrderAck{
		OrderID: strconv.FormatInt(raw.OrderID, 10),
		State:   a.spec.NormalizeStatus(raw.Status),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)
	return a.do(ctx, http.MethodDelete, "/fapi/v1/order", q, true, nil)
}

func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, symbol string) (venue.OrderStatus, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)
	var raw struct {
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		OrigQty     string `json:"origQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := a.do(ctx, http.MethodGet, "/fapi/v1/order", q, true, &raw); err != nil {
		return venue.OrderStatus{}, err
	}
	filled, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	requested, _ := strconv.ParseFloat(raw.OrigQty, 64)
	avg, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	return venue.OrderStatus{
		State:        a.spec.NormalizeStatus(raw.Status),
		FilledQty:    pricing.FromContracts(filled, a.spec),
		RequestedQty: pricing.FromContracts(requested, a.spec),
		AvgPrice:     avg,
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]venue.Position, error) {
	var raw []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
	}
	if err := a.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{}, true, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.Position, 0, len(raw))
	for _, p := range raw {
		size, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if size != 0 {
			out = append(out, venue.Position{Symbol: p.Symbol, Size: pricing.FromContracts(size, a.spec)})
		}
	}
	return out, nil
}

func (a *Adapter) GetBalances(ctx context.Context) ([]venue.Balance, error) {
	var raw []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := a.do(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, true, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.Balance, 0, len(raw))
	for _, b := range raw {
		free, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		out = append(out, venue.Balance{Asset: b.Asset, Free: free})
	}
	return out, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	var raw []struct {
		OrderID int64 `json:"orderId"`
	}
	if err := a.do(ctx, http.MethodGet, "/fapi/v1/openOrders", q, true, &raw); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, o := range raw {
		ids = append(ids, strconv.FormatInt(o.OrderID, 10))
	}
	return ids, nil
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
