package tests

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hedgearb/internal/config"
	"hedgearb/internal/infra/health"
	"hedgearb/internal/infra/http/middleware"
	ilog "hedgearb/internal/infra/log"
	"hedgearb/internal/infra/metrics"
	"hedgearb/internal/infra/netutil"
	"hedgearb/internal/infra/version"
)

// buildMux mirrors the HTTP setup in cmd/hedgearb/main.go
func buildMux(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Load()
	logger := ilog.NewLogger(cfg)
	reg := metrics.Init(logger)
	mux := http.NewServeMux()
	adminCIDRs := netutil.MustParseCIDRs(cfg.Server.AdminAllowCIDRs)
	mux.Handle("/metrics", middleware.AdminGate(adminCIDRs, metrics.Handler(reg)))
	mux.HandleFunc("/healthz", health.Healthz)
	health.SetReady(true)
	mux.HandleFunc("/readyz", health.Readyz)
	mux.HandleFunc("/version", version.Handler)
	return mux
}

func TestReadyzAndVersion(t *testing.T) {
	srv := httptest.NewServer(buildMux(t))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz expected 200, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version error: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("/version expected application/json, got %s", ct)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv := httptest.NewServer(buildMux(t))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsGatedByLoopback(t *testing.T) {
	srv := httptest.NewServer(buildMux(t))
	t.Cleanup(srv.Close)

	// httptest serves on 127.0.0.1, inside the default admin allowlist.
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("expected runtime metrics in exposition")
	}
}
