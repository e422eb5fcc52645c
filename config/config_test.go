package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Symbol != "ETH/USDT" || cfg.Timeframe != "1m" || cfg.Size != 1 {
		t.Errorf("unexpected market defaults: %+v", cfg)
	}
	if cfg.RiskPerTrade != 2 || cfg.MaxPositions != 3 || cfg.MinConfidence != 0.7 {
		t.Errorf("unexpected risk defaults: %+v", cfg)
	}
	if cfg.StopLossPercent != 2 || cfg.TakeProfitPercent != 4 {
		t.Errorf("unexpected SL/TP defaults: %v/%v", cfg.StopLossPercent, cfg.TakeProfitPercent)
	}
	if !cfg.IsTestnet() {
		t.Error("testnet should default to true")
	}
	if cfg.NotificationsEnabled {
		t.Error("notifications should default to off")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Backtest.InitialBalance != 10000 {
		t.Errorf("unexpected section defaults: %+v %+v", cfg.Storage, cfg.Backtest)
	}
}

func TestParse_JSONDocument(t *testing.T) {
	doc := `{"symbol":"BTC/USDT","timeframe":"5m","min_confidence":0.8,"testnet":false,"symbols":["eth/usdt","BTCUSDT"]}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.NormalizedSymbol() != "BTCUSDT" || cfg.StreamSymbol() != "btcusdt" {
		t.Errorf("symbol forms: %s %s", cfg.NormalizedSymbol(), cfg.StreamSymbol())
	}
	if cfg.Interval() != 5*time.Minute {
		t.Errorf("interval = %v", cfg.Interval())
	}
	if cfg.IsTestnet() {
		t.Error("explicit testnet=false ignored")
	}
	got := strings.Join(cfg.AllSymbols(), ",")
	if got != "BTCUSDT,ETHUSDT" {
		t.Errorf("AllSymbols = %s", got)
	}
	if rl := cfg.RiskLimits(); rl.MinConfidence != 0.8 || rl.MaxPositions != 3 {
		t.Errorf("RiskLimits = %+v", rl)
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"risk above 100", "risk_per_trade: 150"},
		{"negative risk", "risk_per_trade: -1"},
		{"confidence above 1", "min_confidence: 1.5"},
		{"negative stop", "stop_loss_percent: -2"},
		{"unknown timeframe", "timeframe: 7m"},
		{"unknown driver", "storage: {driver: mysql}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Errorf("expected validation error for %q", tt.doc)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "ETH/USDT" {
		t.Errorf("symbol = %s", cfg.Symbol)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("symbol: SOL/USDT\nexchange:\n  api_key: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_KEY", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("DATABASE_URL", "postgres://bot@localhost/bot")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchange.APIKey != "from-env" {
		t.Errorf("API key = %s", cfg.Exchange.APIKey)
	}
	if len(cfg.Notify.KafkaBrokers) != 2 || cfg.Notify.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Notify.KafkaBrokers)
	}
	if cfg.Notify.TelegramChatID != -100123 {
		t.Errorf("chat id = %d", cfg.Notify.TelegramChatID)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("DATABASE_URL should select postgres, got %s", cfg.Storage.Driver)
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := map[string]time.Duration{
		"1m": time.Minute, "15m": 15 * time.Minute, "4h": 4 * time.Hour, "1d": 24 * time.Hour,
	}
	for in, want := range tests {
		got, err := ParseTimeframe(in)
		if err != nil || got != want {
			t.Errorf("ParseTimeframe(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "m", "0m", "5x", "-1h"} {
		if _, err := ParseTimeframe(bad); err == nil {
			t.Errorf("ParseTimeframe(%q) should fail", bad)
		}
	}
}
