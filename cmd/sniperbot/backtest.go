package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"sniperbot/internal/backtest"
)

func (a *app) backtestCmd() *cobra.Command {
	var (
		from, to    string
		balance     float64
		slippageBps float64
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay stored candles through the strategy and print the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, err := parseTime(from)
			if err != nil {
				return err
			}
			end, err := parseTime(to)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("balance") {
				balance = a.cfg.Backtest.InitialBalance
			}
			if !cmd.Flags().Changed("slippage-bps") {
				slippageBps = a.cfg.Backtest.SlippageBps
			}

			src, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer src.Close()

			rep, err := backtest.NewRunner(backtest.Config{
				Symbols:        a.cfg.AllSymbols(),
				From:           start,
				To:             end,
				InitialBalance: balance,
				SlippageBps:    slippageBps,
				Limits:         a.cfg.RiskLimits(),
			}, src, a.log).Run(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			return rep.Print(os.Stdout)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Start time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "End time, exclusive")
	cmd.Flags().Float64Var(&balance, "balance", 10000, "Initial balance")
	cmd.Flags().Float64Var(&slippageBps, "slippage-bps", 0, "Simulated slippage in basis points")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
