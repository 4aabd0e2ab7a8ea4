package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr                string   `yaml:"addr"`
		Pprof               bool     `yaml:"pprof"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Trading struct {
		Symbol            string  `yaml:"symbol"`
		Mode              string  `yaml:"mode"` // "spread" or "volume"
		Quantity          float64 `yaml:"quantity"`
		Leverage          int     `yaml:"leverage"`
		DryRun            bool    `yaml:"dry_run"`
		MinSpread         float64 `yaml:"min_spread"`
		Cycles            int     `yaml:"cycles"` // 0 = indefinite
		CycleDelaySeconds int     `yaml:"cycle_delay_seconds"`
		AddOnRatio        float64 `yaml:"add_on_ratio"`
		RandSeed          int64   `yaml:"rand_seed"` // 0 = time-seeded
		MaxOrdersPerMin   int     `yaml:"max_orders_per_min"`
	} `yaml:"trading"`
	Exit struct {
		OpenThreshold         float64 `yaml:"open_threshold"`
		LowThreshold          float64 `yaml:"low_threshold"`
		ConvergenceCloseRatio float64 `yaml:"convergence_close_ratio"`
		DivergenceCloseRatio  float64 `yaml:"divergence_close_ratio"`
		AddOnConvergenceRatio float64 `yaml:"add_on_convergence_ratio"`
		AddOnDivergenceRatio  float64 `yaml:"add_on_divergence_ratio"`
		MinHoldSeconds        int     `yaml:"min_hold_seconds"`
		MaxHoldSeconds        int     `yaml:"max_hold_seconds"`
		CheckIntervalSeconds  int     `yaml:"check_interval_seconds"`
	} `yaml:"exit"`
	Monitor struct {
		PollIntervalMs        int     `yaml:"poll_interval_ms"`
		AttemptTimeoutSeconds int     `yaml:"attempt_timeout_seconds"`
		CancelGraceMs         int     `yaml:"cancel_grace_ms"`
		OpenCeilingSeconds    int     `yaml:"open_ceiling_seconds"`
		CloseCeilingSeconds   int     `yaml:"close_ceiling_seconds"`
		MaxHedgeRetries       int     `yaml:"max_hedge_retries"`
		EscalationDepth       int     `yaml:"escalation_depth"`
		EscalationBufferPct   float64 `yaml:"escalation_buffer_pct"`
		BookTTLMs             int     `yaml:"book_ttl_ms"`
		BookDepth             int     `yaml:"book_depth"`
	} `yaml:"monitor"`
	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`
	Pair struct {
		VenueA string `yaml:"venue_a"`
		VenueB string `yaml:"venue_b"`
	} `yaml:"pair"`
	Venues map[string]Venue `yaml:"venues"`
}

// Venue carries per-venue connection details and instrument policy: tick size,
// contract-unit conversion, optional price band and the raw order-status
// vocabulary. Everything venue-specific the core needs lives here as data, so
// the core never inspects adapter types.
type Venue struct {
	BaseURL      string            `yaml:"base_url"`
	WSURL        string            `yaml:"ws_url"`
	APIKey       string            `yaml:"api_key"`
	Secret       string            `yaml:"secret"`
	Symbol       string            `yaml:"symbol"`
	TickSize     float64           `yaml:"tick_size"`
	ContractSize float64           `yaml:"contract_size"`  // base units per contract; 0 = base units
	PriceBandPct float64           `yaml:"price_band_pct"` // 0 disables the clamp
	StatusVocab  map[string]string `yaml:"status_vocab"`
}

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = ":9090"
	c.Server.Pprof = false
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 10
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Trading.Symbol = "BTCUSDT"
	c.Trading.Mode = "spread"
	c.Trading.Quantity = 0.01
	c.Trading.Leverage = 1
	c.Trading.DryRun = true
	c.Trading.MinSpread = 1.0
	c.Trading.Cycles = 1
	c.Trading.CycleDelaySeconds = 5
	c.Trading.AddOnRatio = 0.5
	c.Trading.MaxOrdersPerMin = 10
	c.Exit.OpenThreshold = 75.0
	c.Exit.LowThreshold = 60.0
	c.Exit.ConvergenceCloseRatio = 0.9
	c.Exit.DivergenceCloseRatio = 1.1
	c.Exit.AddOnConvergenceRatio = 1.2
	c.Exit.AddOnDivergenceRatio = 0.8
	c.Exit.MinHoldSeconds = 60
	c.Exit.MaxHoldSeconds = 300
	c.Exit.CheckIntervalSeconds = 10
	c.Monitor.PollIntervalMs = 150
	c.Monitor.AttemptTimeoutSeconds = 30
	c.Monitor.CancelGraceMs = 100
	c.Monitor.OpenCeilingSeconds = 60
	c.Monitor.CloseCeilingSeconds = 60
	c.Monitor.MaxHedgeRetries = 3
	c.Monitor.EscalationDepth = 5
	c.Monitor.EscalationBufferPct = 0.1
	c.Monitor.BookTTLMs = 50
	c.Monitor.BookDepth = 5
	c.History.Enabled = false
	c.History.Path = "hedgearb.db"
	c.Pair.VenueA = "aster"
	c.Pair.VenueB = "backpack"
	c.Venues = map[string]Venue{
		"aster": {
			BaseURL:  "https://fapi.asterdex.com",
			Symbol:   "BTCUSDT",
			TickSize: 0.1,
			StatusVocab: map[string]string{
				"NEW":              "open",
				"PARTIALLY_FILLED": "open",
				"FILLED":           "filled",
				"CANCELED":         "cancelled",
				"EXPIRED":          "cancelled",
				"REJECTED":         "error",
			},
		},
		"backpack": {
			BaseURL:      "https://api.backpack.exchange",
			Symbol:       "BTC_USDC_PERP",
			TickSize:     0.1,
			PriceBandPct: 24.0,
			StatusVocab: map[string]string{
				"New":             "open",
				"PartiallyFilled": "open",
				"Filled":          "filled",
				"Cancelled":       "cancelled",
				"Expired":         "cancelled",
				"TriggerPending":  "open",
			},
		},
	}
	return c
}

func Load() Config {
	c := defaultConfig()
	if path := os.Getenv("HEDGEARB_CONFIG"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}
	if v := os.Getenv("HEDGEARB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HEDGEARB_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv("HEDGEARB_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("HEDGEARB_PPROF"); v == "1" || v == "true" {
		c.Server.Pprof = true
	}
	if v := os.Getenv("HEDGEARB_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	if v := os.Getenv("HEDGEARB_SYMBOL"); v != "" {
		c.Trading.Symbol = v
	}
	if v := os.Getenv("HEDGEARB_MODE"); v != "" {
		c.Trading.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("HEDGEARB_QUANTITY"); v != "" {
		var f float64
		_, _ = fmt.Sscan(v, &f)
		if f > 0 {
			c.Trading.Quantity = f
		}
	}
	if v := os.Getenv("HEDGEARB_LEVERAGE"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Trading.Leverage = n
		}
	}
	// Live trading must be requested explicitly; everything else stays dry-run.
	if v := os.Getenv("HEDGEARB_LIVE"); v == "1" || v == "true" {
		c.Trading.DryRun = false
	}
	if v := os.Getenv("HEDGEARB_CYCLES"); v != "" {
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil && n >= 0 {
			c.Trading.Cycles = n
		}
	}
	if v := os.Getenv("HEDGEARB_CYCLE_DELAY_SECONDS"); v != "" {
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil && n >= 0 {
			c.Trading.CycleDelaySeconds = n
		}
	}
	if v := os.Getenv("HEDGEARB_RAND_SEED"); v != "" {
		var n int64
		_, _ = fmt.Sscan(v, &n)
		c.Trading.RandSeed = n
	}
	if v := os.Getenv("HEDGEARB_HISTORY_PATH"); v != "" {
		c.History.Enabled = true
		c.History.Path = v
	}
	if v := os.Getenv("HEDGEARB_VENUE_A"); v != "" {
		c.Pair.VenueA = strings.ToLower(v)
	}
	if v := os.Getenv("HEDGEARB_VENUE_B"); v != "" {
		c.Pair.VenueB = strings.ToLower(v)
	}
	// API keys only from env
	for name, vn := range c.Venues {
		prefix := "HEDGEARB_" + strings.ToUpper(name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			vn.APIKey = v
		}
		if v := os.Getenv(prefix + "_SECRET"); v != "" {
			vn.Secret = v
		}
		if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
			vn.BaseURL = v
		}
		if v := os.Getenv(prefix + "_WS_URL"); v != "" {
			vn.WSURL = v
		}
		c.Venues[name] = vn
	}
	return c
}

// ValidatePair rejects configurations that must never reach order placement:
// the same venue on both legs, an unknown venue name, or missing credentials
// outside dry-run.
func (c Config) ValidatePair() error {
	a, b := c.Pair.VenueA, c.Pair.VenueB
	if a == b {
		return fmt.Errorf("venue pair invalid: both legs on %q", a)
	}
	for _, name := range []string{a, b} {
		vn, ok := c.Venues[name]
		if !ok {
			return fmt.Errorf("venue %q not configured", name)
		}
		if vn.TickSize <= 0 {
			return fmt.Errorf("venue %q: tick_size must be positive", name)
		}
		if !c.Trading.DryRun && (vn.APIKey == "" || vn.Secret == "") {
			return fmt.Errorf("venue %q: missing credentials for live trading", name)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
