package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sniperbot/internal/exchange/binance"
)

// maxKlinesPerRequest is the exchange's page limit.
const maxKlinesPerRequest = 1000

func (a *app) fetchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download closed klines into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			iv := a.cfg.Interval()
			ivName, err := binance.IntervalString(iv)
			if err != nil {
				return err
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			client := binance.NewClient(binance.Config{
				BaseURL:           a.cfg.Exchange.BaseURL,
				Testnet:           a.cfg.IsTestnet(),
				RequestsPerSecond: a.cfg.Exchange.RequestsPerSecond,
			}, a.log)

			for _, symbol := range a.cfg.AllSymbols() {
				start := time.Now().UTC().Add(-time.Duration(limit) * iv).Truncate(iv)
				if last, err := st.LastCandleTime(ctx, symbol); err == nil && !last.IsZero() && last.Add(iv).After(start) {
					start = last.Add(iv)
				}

				stored := 0
				for stored < limit {
					page := min(limit-stored, maxKlinesPerRequest)
					candles, err := client.Klines(ctx, symbol, ivName, start, page)
					if err != nil {
						return fmt.Errorf("fetch %s: %w", symbol, err)
					}
					if len(candles) == 0 {
						break
					}
					for _, c := range candles {
						if err := st.UpsertCandle(ctx, c); err != nil {
							return err
						}
					}
					stored += len(candles)
					start = candles[len(candles)-1].TS.Add(iv)
					if len(candles) < page {
						break
					}
				}
				a.log.Info().Str("symbol", symbol).Int("candles", stored).Str("interval", ivName).Msg("klines stored")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum candles to download per symbol")
	return cmd
}
