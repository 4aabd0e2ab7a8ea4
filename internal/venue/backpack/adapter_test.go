package backpack

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"hedgearb/internal/config"
	"hedgearb/internal/venue"
)

var testSeed = make([]byte, ed25519.SeedSize)

func testSpec() venue.Spec {
	return venue.SpecFromVocab("backpack", 0.1, 0, 24, map[string]string{
		"New":             "open",
		"PartiallyFilled": "open",
		"Filled":          "filled",
		"Cancelled":       "cancelled",
	})
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(config.Venue{
		BaseURL: srv.URL,
		APIKey:  "pubkey",
		Secret:  base64.StdEncoding.EncodeToString(testSeed),
	}, testSpec(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// verifyInstruction reconstructs the sign string from the request params and
// checks the ED25519 signature against the test key.
func verifyInstruction(t *testing.T, r *http.Request, action string, params map[string]string) {
	t.Helper()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("instruction=" + action)
	for _, k := range keys {
		sb.WriteString("&" + k + "=" + params[k])
	}
	fmt.Fprintf(&sb, "&timestamp=%s&window=%s", r.Header.Get("X-Timestamp"), r.Header.Get("X-Window"))

	sig, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Signature"))
	if err != nil {
		t.Fatal(err)
	}
	pub := ed25519.NewKeyFromSeed(testSeed).Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, []byte(sb.String()), sig) {
		t.Fatalf("signature does not verify over %q", sb.String())
	}
	if r.Header.Get("X-API-Key") != "pubkey" {
		t.Fatal("missing API key header")
	}
}

func TestPlaceOrderSignsInstruction(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/ticker":
			_, _ = w.Write([]byte(`{"lastPrice":"100.0"}`))
		case "/api/v1/order":
			var params map[string]string
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				t.Fatal(err)
			}
			verifyInstruction(t, r, "orderExecute", params)
			if params["side"] != "Ask" || params["orderType"] != "Limit" {
				t.Fatalf("params = %v", params)
			}
			_, _ = w.Write([]byte(`{"id":"abc-1","status":"New"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	ack, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol: "BTC_USDC_PERP", Side: venue.Sell, Qty: 0.01, Price: 100.5, Type: venue.Limit,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack.OrderID != "abc-1" || ack.State != venue.StateOpen {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestPlaceOrderClampsToPriceBand(t *testing.T) {
	var gotPrice string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/ticker":
			_, _ = w.Write([]byte(`{"lastPrice":"100.0"}`))
		case "/api/v1/order":
			var params map[string]string
			_ = json.NewDecoder(r.Body).Decode(&params)
			gotPrice = params["price"]
			_, _ = w.Write([]byte(`{"id":"abc-2","status":"New"}`))
		}
	})
	// 130 is above the +24% band around 100; the sell clamps to 124, and the
	// sell-side tick rounding never drops below the band edge.
	_, err := a.PlaceOrder(context.Background(), venue.OrderRequest{
		Symbol: "BTC_USDC_PERP", Side: venue.Sell, Qty: 0.01, Price: 130, Type: venue.Limit,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotPrice != "124" {
		t.Fatalf("clamped price = %s, want 124", gotPrice)
	}
}

func TestGetOrderBookNormalizesAscendingBids(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		// Feed delivers both sides ascending.
		_, _ = w.Write([]byte(`{"bids":[["99.9","1"],["100.0","2"]],"asks":[["100.2","1"],["100.3","1"]]}`))
	})
	b, err := a.GetOrderBook(context.Background(), "BTC_USDC_PERP", 5)
	if err != nil {
		t.Fatal(err)
	}
	if b.BestBid() != 100.0 || b.BestAsk() != 100.2 {
		t.Fatalf("top of book = %v/%v, want 100.0/100.2", b.BestBid(), b.BestAsk())
	}
}

func TestGetOrderStatusVocab(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		verifyInstruction(t, r, "orderQuery", map[string]string{
			"orderId": r.URL.Query().Get("orderId"),
			"symbol":  r.URL.Query().Get("symbol"),
		})
		_, _ = w.Write([]byte(`{"status":"PartiallyFilled","executedQuantity":"0.004","quantity":"0.01","price":"100.2"}`))
	})
	st, err := a.GetOrderStatus(context.Background(), "abc-1", "BTC_USDC_PERP")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != venue.StateOpen || st.Filled() {
		t.Fatalf("partial fill must stay open: %+v", st)
	}
	if st.FilledQty != 0.004 {
		t.Fatalf("filled = %v, want 0.004", st.FilledQty)
	}
}

func TestNewRejectsBadSeed(t *testing.T) {
	_, err := New(config.Venue{BaseURL: "http://x", APIKey: "k", Secret: "not-base64!"}, testSpec(), zerolog.Nop())
	if err == nil {
		t.Fatal("malformed seed must be rejected at construction")
	}
}
