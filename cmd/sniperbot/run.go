package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"sniperbot/internal/api"
	"sniperbot/internal/backtest"
	"sniperbot/internal/engine"
	"sniperbot/internal/exchange/binance"
	"sniperbot/internal/execution"
	"sniperbot/internal/gateway"
	"sniperbot/internal/metrics"
	"sniperbot/internal/model"
	"sniperbot/internal/notification"
	"sniperbot/internal/portfolio"
	"sniperbot/internal/store"
)

const (
	livenessInterval = 30 * time.Second
	flushTimeout     = 15 * time.Second
	notifyTimeout    = 5 * time.Second
)

func (a *app) runCmd() *cobra.Command {
	var (
		paper  bool
		replay bool
		speed  float64
		from   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTime(from)
			if err != nil {
				return err
			}
			if replay {
				paper = true
			}
			return a.run(cmd.Context(), paper, replay, speed, start)
		},
	}
	cmd.Flags().BoolVar(&paper, "paper", false, "Simulate fills instead of sending orders")
	cmd.Flags().BoolVar(&replay, "replay", false, "Drive the engine from stored candles (implies --paper)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "Replay speed multiplier (0 = as fast as possible)")
	cmd.Flags().StringVar(&from, "from", "", "Replay start time")
	return cmd
}

func (a *app) run(ctx context.Context, paper, replay bool, speed float64, from time.Time) error {
	cfg, log := a.cfg, a.log
	mode := "live"
	switch {
	case replay:
		mode = "replay"
	case paper:
		mode = "paper"
	}
	symbols := cfg.AllSymbols()
	log.Info().Str("mode", mode).Strs("symbols", symbols).Str("timeframe", cfg.Timeframe).
		Bool("testnet", cfg.IsTestnet()).Msg("starting")

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(mode)

	// ---- Storage ----
	db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.NewRetrying(db, 0, log)
	st.OnFailure = func(op string) {
		m.PersistenceFailures.WithLabelValues(op).Inc()
		m.PersistencePending.Set(float64(st.Pending()))
	}
	st.OnRetry = func(flushed int) {
		m.PersistenceRetries.Add(float64(flushed))
		m.PersistencePending.Set(float64(st.Pending()))
	}
	st.OnDrop = func() { m.PersistenceFailures.WithLabelValues("dropped").Inc() }

	// Background loops outlive the engine so shutdown can flush them
	bg, stopBG := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBG()
	go st.Run(bg)
	health.StartLivenessChecker(bg, db.DB(), livenessInterval)

	// ---- Notifications ----
	disp, err := a.dispatcher()
	if err != nil {
		return err
	}
	disp.OnDrop = func() { m.NotificationDrops.Inc() }
	disp.OnSendError = func(sink string) { m.NotificationErrors.WithLabelValues(sink).Inc() }
	hub := gateway.NewHub(cfg.API.StreamReplay, log)
	hub.OnClients = func(n int) { m.StreamClients.Set(float64(n)) }
	disp.Attach("stream", hub)
	dispCtx, stopDisp := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDisp()
	go disp.Run(dispCtx)

	// ---- Exchange ----
	client := binance.NewClient(binance.Config{
		BaseURL:           cfg.Exchange.BaseURL,
		Testnet:           cfg.IsTestnet(),
		APIKey:            cfg.Exchange.APIKey,
		SecretKey:         cfg.Exchange.SecretKey,
		QuantityPrecision: cfg.Exchange.QuantityPrecision,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
	}, log)

	var exec execution.Executor = client
	if paper {
		exec = execution.NewPaperExecutor(cfg.Backtest.InitialBalance, cfg.Backtest.SlippageBps, log)
	} else if cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "" {
		return errors.New("live trading needs API_KEY and SECRET_KEY (or use --paper)")
	}

	var feed model.MarketDataFeed
	if replay {
		feed = backtest.NewReplayer(db, from, time.Time{}, speed, log)
	} else {
		url := cfg.Exchange.StreamURL
		if url == "" {
			url = binance.MainnetStreamURL
			if cfg.IsTestnet() {
				url = binance.TestnetStreamURL
			}
		}
		kf := binance.NewFeed(binance.FeedConfig{URL: url, Backfill: client, Resume: db.LastCandleTime}, log)
		kf.OnConnect = health.SetFeedConnected
		kf.OnReconnect = func(symbol string, err error) {
			m.FeedReconnects.WithLabelValues(symbol).Inc()
			disp.Notify(notification.ErrorEvent(symbol, fmt.Errorf("feed reconnect: %w", err), time.Now().UTC()))
		}
		kf.OnGap = func(symbol string, missing int) { m.FeedGaps.WithLabelValues(symbol).Add(float64(missing)) }
		feed = kf
	}

	// ---- Engine ----
	// A replay decides against scratch state so the stored positions of
	// the live bot are never restored or overwritten.
	var decisions model.Store = st
	if replay {
		decisions = store.NewMemory()
	}
	eng, err := engine.New(engine.Config{Symbols: symbols, Interval: cfg.Interval()}, engine.Deps{
		Executor: exec,
		Store:    decisions,
		Notifier: disp,
		Risk:     portfolio.NewRiskManager(cfg.RiskLimits()),
		Metrics:  m,
		Log:      log,
	})
	if err != nil {
		return err
	}
	eng.OnHalt = func(symbol string, _ error) { health.SetHalted(symbol, true) }
	eng.OnEvent = func(_ string, at time.Time) { health.SetLastEventTime(at) }
	if replay {
		err = eng.WarmBefore(ctx, db, from)
	} else {
		err = eng.Recover(ctx)
	}
	if err != nil {
		return err
	}

	// ---- API ----
	srv := api.NewServer(api.Config{Addr: cfg.API.Addr, TOTPSecret: cfg.API.TOTPSecret}, eng, decisions, health, reg, log)
	srv.Stream("/api/stream", hub)
	apiDone := make(chan error, 1)
	go func() { apiDone <- srv.Run(ctx) }()

	eng.Announce(cfg.Timeframe)
	runErr := eng.Run(ctx, feed)

	// ---- Shutdown ----
	log.Info().Msg("shutting down")
	disp.Notify(notification.ShutdownEvent(time.Now().UTC()))

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := st.Flush(flushCtx); err != nil {
		log.Error().Err(err).Int("pending", st.Pending()).Msg("pending writes lost")
	}
	stopBG()

	stopDisp()
	select {
	case <-disp.Done():
	case <-time.After(notifyTimeout):
		log.Warn().Msg("notification drain timed out")
	}
	disp.Close()
	hub.Close()

	if err := <-apiDone; err != nil {
		log.Error().Err(err).Msg("api server")
	}
	log.Info().Int64("notifications_dropped", disp.Dropped()).Msg("stopped")
	return runErr
}

// dispatcher attaches the log sink and, when enabled, every configured
// remote sink.
func (a *app) dispatcher() (*notification.Dispatcher, error) {
	cfg := a.cfg.Notify
	d := notification.NewDispatcher(cfg.QueueSize, 0, a.log)
	d.Attach("log", notification.NewLogNotifier(a.log))
	if !a.cfg.NotificationsEnabled {
		return d, nil
	}

	if cfg.DiscordWebhook != "" {
		d.Attach("discord", notification.NewDiscordNotifier(cfg.DiscordWebhook))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		d.Attach("telegram", tg)
	}
	if cfg.RedisAddr != "" {
		d.Attach("redis", notification.NewRedisPublisher(cfg.RedisAddr, cfg.RedisChannel))
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notification.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		d.Attach("kafka", k)
	}
	a.log.Info().Strs("sinks", d.Sinks()).Msg("notifications configured")
	return d, nil
}
