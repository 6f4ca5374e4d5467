package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeYAMLAppliesDefaults(t *testing.T) {
	t.Setenv(EnvBridgeToken, "from-env")
	raw := `
telegram:
  token: "x"
  owner_user_ids: [42]
scheduler:
  timezone: UTC
delivery:
  driver: bridge
  bridge:
    url: ws://127.0.0.1:3001
`
	cfg, err := Decode("config.yaml", []byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Scheduler.ShortMonth != ShortMonthClamp {
		t.Fatalf("short_month = %q, want clamp", cfg.Scheduler.ShortMonth)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage default not applied: %+v", cfg.Storage)
	}
	if got := strings.Join(cfg.Templates.Categories, ","); got != "quote,verse,hadith" {
		t.Fatalf("categories = %q", got)
	}
	if cfg.Delivery.Bridge.Token != "from-env" {
		t.Fatalf("bridge token = %q, want env value", cfg.Delivery.Bridge.Token)
	}
	if cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owner ids = %v", cfg.Telegram.OwnerUserIDs)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"unknown field", `{"delivery":{"driver":"log"},"nope":1}`, "unknown field"},
		{"trailing data", `{"delivery":{"driver":"log"}}{}`, "trailing"},
		{"bad driver", `{"delivery":{"driver":"carrier-pigeon"}}`, "unknown driver"},
		{"bridge url scheme", `{"delivery":{"driver":"bridge","bridge":{"url":"http://127.0.0.1:3001"}}}`, "bridge.url"},
		{"bad short month", `{"delivery":{"driver":"log"},"scheduler":{"short_month":"round"}}`, "short_month"},
		{"bad duration", `{"delivery":{"driver":"log","min_interval":"soon"}}`, "min_interval"},
		{"bad timezone", `{"delivery":{"driver":"log"},"scheduler":{"timezone":"Mars/Olympus"}}`, "timezone"},
		{"bad debug addr", `{"delivery":{"driver":"log"},"debug":{"addr":"6060"}}`, "debug.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("config.json", []byte(tc.raw))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestEnvDoesNotOverrideFile(t *testing.T) {
	t.Setenv(EnvTwilioAccountSID, "AC-env")
	t.Setenv(EnvTwilioAuthToken, "tok-env")
	raw := `{"delivery":{"driver":"twilio","twilio":{"account_sid":"AC-file","from":"+15550000"}}}`
	cfg, err := Decode("c.json", []byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Delivery.Twilio.AccountSID != "AC-file" {
		t.Fatalf("account sid = %q, want file value", cfg.Delivery.Twilio.AccountSID)
	}
	if cfg.Delivery.Twilio.AuthToken != "tok-env" {
		t.Fatalf("auth token = %q, want env value", cfg.Delivery.Twilio.AuthToken)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("WHATSCHED_TEST_KEY=hello\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WHATSCHED_TEST_KEY", "")
	os.Unsetenv("WHATSCHED_TEST_KEY")
	if err := LoadEnvFile(p); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("WHATSCHED_TEST_KEY"); got != "hello" {
		t.Fatalf("env = %q, want hello", got)
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr string
	}{
		{"", 2 * time.Second, ""},
		{"0s", 2 * time.Second, ""},
		{" 500ms ", 500 * time.Millisecond, ""},
		{"-1s", 0, ">= 0"},
		{"later", 0, "invalid duration"},
	}
	for _, tc := range cases {
		cfg := &Config{Delivery: DeliveryConfig{Driver: DriverLog, MinInterval: tc.raw}}
		cfg.ApplyDefaults()
		d, err := cfg.Durations()
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), "delivery.min_interval") || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("%q: err = %v, want %q for delivery.min_interval", tc.raw, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if got := Or(d.MinInterval, 2*time.Second); got != tc.want {
			t.Fatalf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeYAMLEdgeCases(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yml", []byte("# nothing here\n"))
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if cfg.Delivery.Driver != DriverBridge || cfg.Delivery.Bridge.URL != DefaultBridgeURL {
		t.Fatalf("delivery = %+v, want the default bridge", cfg.Delivery)
	}
	if _, err := Decode("bad.yaml", []byte("delivery: [unclosed")); err == nil || !strings.Contains(err.Error(), "yaml") {
		t.Fatalf("err = %v, want yaml parse error", err)
	}
	cfg, err = Decode("keys.yaml", []byte("delivery:\n  driver: log\ntemplates:\n  greetings:\n    1: one\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Templates.Greetings["1"] != "one" {
		t.Fatalf("greetings = %v", cfg.Templates.Greetings)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Delivery: DeliveryConfig{Driver: DriverLog, MinInterval: "2s"}}
	oldCfg.ApplyDefaults()
	newCfg := &Config{Delivery: DeliveryConfig{Driver: DriverLog, MinInterval: "5s"}}
	newCfg.ApplyDefaults()
	newCfg.Storage.Path = "./other.db"

	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(changed, ","); got != "delivery,storage" {
		t.Fatalf("changed = %q", got)
	}
	if got := strings.Join(restart, ","); got != "storage" {
		t.Fatalf("restart = %q", got)
	}
}

func TestManagerLoad(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(`{"delivery":{"driver":"log"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}
