package backtest

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
)

// Report is the outcome of a backtest.
type Report struct {
	Symbols      []string                    `json:"symbols"`
	From         time.Time                   `json:"from"`
	To           time.Time                   `json:"to"`
	Candles      int                         `json:"candles"`
	Actionable   int                         `json:"actionable_signals"`
	Rejections   map[model.RejectionKind]int `json:"rejections"`
	Summary      portfolio.LedgerSummary     `json:"summary"`
	FinalBalance float64                     `json:"final_balance"`
	Fills        int                         `json:"fills"`

	Signals []model.Signal   `json:"-"`
	Trades  []model.Position `json:"trades"`
	Open    []model.Position `json:"open,omitempty"`
}

// Print writes a human-readable summary and trade list.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	s := r.Summary
	fmt.Fprintf(tw, "Symbols:\t%v\n", r.Symbols)
	fmt.Fprintf(tw, "Range:\t%s → %s\n", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	fmt.Fprintf(tw, "Candles:\t%d\n", r.Candles)
	fmt.Fprintf(tw, "Actionable signals:\t%d\n", r.Actionable)
	fmt.Fprintf(tw, "Trades:\t%d (%d wins, %d losses)\n", s.Trades, s.Wins, s.Losses)
	fmt.Fprintf(tw, "Win rate:\t%.2f%%\n", s.WinRate*100)
	fmt.Fprintf(tw, "Total PnL:\t%.2f\n", s.TotalPnL)
	fmt.Fprintf(tw, "Max drawdown:\t%.2f (%.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPct)
	fmt.Fprintf(tw, "Equity:\t%.2f → %.2f\n", s.InitialEquity, s.FinalEquity)
	fmt.Fprintf(tw, "Paper balance:\t%.2f\n", r.FinalBalance)

	kinds := make([]string, 0, len(r.Rejections))
	for k := range r.Rejections {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(tw, "Rejected %s:\t%d\n", k, r.Rejections[model.RejectionKind(k)])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Trades) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPENED\tSYMBOL\tSIDE\tENTRY\tEXIT\tQTY\tPNL\tREASON")
	for _, t := range r.Trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%.6f\t%.2f\t%s\n",
			t.OpenedAt.Format("2006-01-02 15:04"), t.Symbol, t.Side, t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL, t.ExitReason)
	}
	for _, p := range r.Open {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t-\t%.6f\t-\tOPEN\n",
			p.OpenedAt.Format("2006-01-02 15:04"), p.Symbol, p.Side, p.EntryPrice, p.Quantity)
	}
	return tw.Flush()
}
