package aster

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"hedgearb/internal/config"
	"hedgearb/internal/venue"
)

const testSecret = "topsecret"

func testSpec() venue.Spec {
	return venue.SpecFromVocab("aster", 0.1, 0, 0, map[string]string{
		"NEW":              "open",
		"PARTIALLY_FILLED": "open",
		"FILLED":           "filled",
		"CANCELED":         "cancelled",
	})
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.Venue{BaseURL: srv.URL, APIKey: "key", Secret: testSecret}, testSpec(), zerolog.Nop())
}

// verifySignature checks that the trailing signature matches the HMAC of the
// rest of the query string.
func verifySignature(t *testing.T, rawQuery string) {
	t.Helper()
	i := strings.LastIndex(rawQuery, "&signature=")
	if i < 0 {
		t.Fatal("signed request missing signature")
	}
	payload, got := rawQuery[:i], rawQuery[i+len("&signature="):]
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(payload))
	if want := hex.EncodeToString(mac.Sum(nil)); got != want {
		t.Fatalf("signature mismatch: got %s want %s", got, want)
	}
}

func TestGetOrderBook(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/depth" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "" {
			t.Fatal("depth is a public endpoint, no key expected")
		}
		_, _ = w.Write([]byte(`{"bids":[["100.1","2"],["100.0","1"]],"asks":[["100.3","1"],["100.2","3"]]}`))
	})
	b, err := a.GetOrderBook(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatal(err)
	}
	if b.BestBid() != 100.1 || b.BestAsk() != 100.2 {
		t.Fatalf("top of book = %v/%v, want 100.1/100.2", b.BestBid(), b.BestAsk())
	}
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/fapi/v1/order" {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Fatal("missing API key header")
		}
		verifySignature(t, r.URL.RawQuery)
		q := r.URL.Query()
		if q.Get("side") != "BUY" || q.Get("type") != "LIMIT" || q.Get("timeInForce") != "GTC" {
			t.Fatalf("unexpected order params: %v", q)
		}
		if q.Get("price") != "100.2" || q.Get("quantity") != "0.01" {
			t.Fatalf("price/qty = %s/%s", q.Get("price"), q.Get("quantity"))
		}
		_, _ = w.Write([]byte(`{"orderId":42,"status":"NEW"}`))
	})
	ack, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.Buy, Qty: 0.01, Price: 100.2, Type: venue.Limit,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack.OrderID != "42" || ack.State != venue.StateOpen {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestGetOrderStatusNormalizes(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"status":"FILLED","executedQty":"0.01","origQty":"0.01","avgPrice":"100.25"}`))
	})
	st, err := a.GetOrderStatus(context.Background(), "42", "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Filled() || st.AvgPrice != 100.25 {
		t.Fatalf("status = %+v", st)
	}
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1013,"msg":"Filter failure: PRICE_FILTER"}`))
	})
	_, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.Buy, Qty: 0.01, Price: 1, Type: venue.Limit,
	})
	if err == nil || !strings.Contains(err.Error(), "PRICE_FILTER") {
		t.Fatalf("err = %v, want venue message surfaced", err)
	}
}

func TestContractConversionOnStatus(t *testing.T) {
	// A venue quoting in 0.01-unit contracts: 5 contracts = 0.05 base.
	spec := testSpec()
	spec.ContractSize = 0.01
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"FILLED","executedQty":"5","origQty":"5","avgPrice":"100"}`))
	}))
	defer srv.Close()
	a := New(config.Venue{BaseURL: srv.URL, APIKey: "key", Secret: testSecret}, spec, zerolog.Nop())
	st, err := a.GetOrderStatus(context.Background(), "1", "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if st.FilledQty != 0.05 {
		t.Fatalf("filled = %v base units, want 0.05", st.FilledQty)
	}
}
