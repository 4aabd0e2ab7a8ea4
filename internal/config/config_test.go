package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	_ = os.Unsetenv("HEDGEARB_CONFIG")
	_ = os.Unsetenv("HEDGEARB_LOG_LEVEL")
	_ = os.Unsetenv("HEDGEARB_LIVE")

	c := Load()
	if c.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %s", c.Logging.Level)
	}
	if !c.Trading.DryRun {
		t.Fatal("expected dry_run to default to true")
	}
	if c.Monitor.PollIntervalMs != 150 {
		t.Fatalf("expected default poll interval 150ms, got %d", c.Monitor.PollIntervalMs)
	}
	if c.Exit.OpenThreshold != 75.0 || c.Exit.LowThreshold != 60.0 {
		t.Fatalf("unexpected default exit thresholds: %v / %v", c.Exit.OpenThreshold, c.Exit.LowThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEDGEARB_LOG_LEVEL", "debug")
	t.Setenv("HEDGEARB_SYMBOL", "ETHUSDT")
	t.Setenv("HEDGEARB_LIVE", "true")
	t.Setenv("HEDGEARB_ASTER_API_KEY", "k")
	c := Load()
	if c.Logging.Level != "debug" {
		t.Fatalf("env override failed for log level, got %s", c.Logging.Level)
	}
	if c.Trading.Symbol != "ETHUSDT" {
		t.Fatalf("env override failed for symbol, got %s", c.Trading.Symbol)
	}
	if c.Trading.DryRun {
		t.Fatal("HEDGEARB_LIVE should disable dry_run")
	}
	if c.Venues["aster"].APIKey != "k" {
		t.Fatal("env override failed for aster api key")
	}
}

func TestValidatePairRejectsSameVenue(t *testing.T) {
	c := Load()
	c.Pair.VenueA = "aster"
	c.Pair.VenueB = "aster"
	if err := c.ValidatePair(); err == nil {
		t.Fatal("expected error for identical venues on both legs")
	}
}

func TestValidatePairRejectsMissingCredentialsLive(t *testing.T) {
	c := Load()
	c.Trading.DryRun = false
	v := c.Venues["backpack"]
	v.APIKey = ""
	c.Venues["backpack"] = v
	if err := c.ValidatePair(); err == nil {
		t.Fatal("expected error for missing credentials in live mode")
	}
}

func TestValidatePairAcceptsDryRunWithoutCredentials(t *testing.T) {
	c := Load()
	c.Trading.DryRun = true
	if err := c.ValidatePair(); err != nil {
		t.Fatalf("dry-run should not require credentials: %v", err)
	}
}
