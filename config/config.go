package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
)

// Config holds the bot configuration. Trading parameters come from the
// config document; secrets and endpoints may be overridden from the
// environment (or a .env file).
type Config struct {
	Symbol               string   `yaml:"symbol" default:"ETH/USDT" validate:"required"`
	Symbols              []string `yaml:"symbols"`
	Timeframe            string   `yaml:"timeframe" default:"1m" validate:"required,oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d"`
	Size                 int      `yaml:"size" default:"1" validate:"gte=1"`
	RiskPerTrade         float64  `yaml:"risk_per_trade" default:"2" validate:"gt=0,lte=100"`
	MaxPositions         int      `yaml:"max_positions" default:"3" validate:"gte=1"`
	MinConfidence        float64  `yaml:"min_confidence" default:"0.7" validate:"gte=0,lte=1"`
	StopLossPercent      float64  `yaml:"stop_loss_percent" default:"2" validate:"gt=0,lte=100"`
	TakeProfitPercent    float64  `yaml:"take_profit_percent" default:"4" validate:"gt=0,lte=100"`
	Testnet              *bool    `yaml:"testnet" default:"true"`
	NotificationsEnabled bool     `yaml:"notifications_enabled"`

	Exchange Exchange `yaml:"exchange"`
	Storage  Storage  `yaml:"storage"`
	Notify   Notify   `yaml:"notify"`
	API      API      `yaml:"api"`
	Log      Log      `yaml:"log"`
	Backtest Backtest `yaml:"backtest"`
}

type Exchange struct {
	APIKey            string  `yaml:"api_key"`
	SecretKey         string  `yaml:"secret_key"`
	QuantityPrecision int32   `yaml:"quantity_precision" default:"4" validate:"gte=0,lte=8"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"10" validate:"gt=0"`
	BaseURL           string  `yaml:"base_url"`
	StreamURL         string  `yaml:"stream_url"`
}

type Storage struct {
	Driver string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	Path   string `yaml:"path" default:"data/sniperbot.db"`
	DSN    string `yaml:"dsn"`
}

type Notify struct {
	DiscordWebhook string   `yaml:"discord_webhook"`
	TelegramToken  string   `yaml:"telegram_token"`
	TelegramChatID int64    `yaml:"telegram_chat_id"`
	RedisAddr      string   `yaml:"redis_addr"`
	RedisChannel   string   `yaml:"redis_channel" default:"sniperbot:events"`
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	KafkaTopic     string   `yaml:"kafka_topic" default:"sniperbot.events"`
	QueueSize      int      `yaml:"queue_size" default:"256" validate:"gte=1"`
}

type API struct {
	Addr       string `yaml:"addr" default:":8080"`
	TOTPSecret string `yaml:"totp_secret"`
	// StreamReplay is how many recent events /api/stream keeps for ?since backfill.
	StreamReplay int `yaml:"stream_replay" default:"256" validate:"gte=1"`
}

type Log struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
}

type Backtest struct {
	InitialBalance float64 `yaml:"initial_balance" default:"10000" validate:"gt=0"`
	SlippageBps    float64 `yaml:"slippage_bps" validate:"gte=0"`
}

var validate = validator.New()

// Load reads the config document at path. A missing file yields the
// defaults. Environment variables (and .env) override secrets.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return finish(cfg)
}

// Parse builds a Config from an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	cfg.applyEnv()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Exchange.APIKey = getEnv("API_KEY", c.Exchange.APIKey)
	c.Exchange.SecretKey = getEnv("SECRET_KEY", c.Exchange.SecretKey)
	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		c.Storage.DSN = dsn
		c.Storage.Driver = "postgres"
	}
	c.Notify.DiscordWebhook = getEnv("DISCORD_WEBHOOK_URL", c.Notify.DiscordWebhook)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	if v := getEnv("TELEGRAM_CHAT_ID", ""); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notify.TelegramChatID = id
		}
	}
	c.Notify.RedisAddr = getEnv("REDIS_ADDR", c.Notify.RedisAddr)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Notify.KafkaBrokers = splitList(v)
	}
	c.API.TOTPSecret = getEnv("API_TOTP_SECRET", c.API.TOTPSecret)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// IsTestnet reports whether the exchange testnet is selected.
func (c *Config) IsTestnet() bool {
	return c.Testnet == nil || *c.Testnet
}

// NormalizedSymbol returns the primary symbol in exchange form ("ETHUSDT").
func (c *Config) NormalizedSymbol() string {
	return model.NormalizeSymbol(c.Symbol)
}

// StreamSymbol returns the lowercase stream form ("ethusdt").
func (c *Config) StreamSymbol() string {
	return strings.ToLower(c.NormalizedSymbol())
}

// AllSymbols returns the primary symbol followed by any extra symbols,
// normalized and de-duplicated.
func (c *Config) AllSymbols() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 1+len(c.Symbols))
	for _, s := range append([]string{c.Symbol}, c.Symbols...) {
		n := model.NormalizeSymbol(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Interval converts the timeframe to a duration.
func (c *Config) Interval() time.Duration {
	d, _ := ParseTimeframe(c.Timeframe)
	return d
}

// RiskLimits returns the risk parameters in the form the portfolio uses.
func (c *Config) RiskLimits() portfolio.RiskLimits {
	return portfolio.RiskLimits{
		RiskPerTrade:      c.RiskPerTrade,
		StopLossPercent:   c.StopLossPercent,
		TakeProfitPercent: c.TakeProfitPercent,
		MinConfidence:     c.MinConfidence,
		MaxPositions:      c.MaxPositions,
		SizeMultiplier:    float64(c.Size),
	}
}

// ParseTimeframe converts an exchange interval ("1m", "4h", "1d") to a
// duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
