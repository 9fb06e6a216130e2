package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/ledger"
)

// withLedger loads config, opens the store and runs fn with ledger options
// built from the config.
func withLedger(ctx context.Context, load configLoader, fn func(ledger.TxStore, *config.Config, []ledger.Option) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	s, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(s, cfg, ledgerOptions(cfg, logger))
}

func ledgerOptions(cfg *config.Config, logger zerolog.Logger) []ledger.Option {
	return []ledger.Option{ledger.WithLogger(logger), ledger.WithFiscalCalendar(cfg.FiscalCalendar())}
}

func newRecalculateCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "recalculate",
		Short: "Rebuild cached account balances from posted lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withLedger(ctx, load, func(s ledger.TxStore, _ *config.Config, opts []ledger.Option) error {
				summary, err := ledger.NewAggregator(s, opts...).RecalculateAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accounts fixed: %d\ndiscrepancy total: %s\n",
					summary.AccountsFixed, summary.DiscrepancyTotal.String())
				return nil
			})
		},
	}
}

func newCloseYearCommand(load configLoader) *cobra.Command {
	var year int
	var date string
	var preview bool

	cmd := &cobra.Command{
		Use:   "close-year",
		Short: "Close a fiscal year into retained earnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var closingDate time.Time
			if date != "" {
				d, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("parsing --date: %w", err)
				}
				closingDate = d
			}

			ctx := cmd.Context()
			return withLedger(ctx, load, func(s ledger.TxStore, cfg *config.Config, opts []ledger.Option) error {
				closer := ledger.NewCloser(s, cfg.Accounts.RetainedEarnings, opts...)
				var report ledger.ClosingReport
				var err error
				if preview {
					report, err = closer.PreviewClose(ctx, year, closingDate)
				} else {
					report, err = closer.CloseFiscalYear(ctx, year, closingDate)
				}
				if err != nil {
					return err
				}
				accounts, err := ledger.NewChart(s, opts...).Accounts(ctx, true)
				if err != nil {
					return err
				}
				printClosingReport(cmd.OutOrStdout(), report, accounts, preview)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "fiscal year to close (required)")
	_ = cmd.MarkFlagRequired("year")
	cmd.Flags().StringVar(&date, "date", "", "closing date YYYY-MM-DD (default: fiscal year end)")
	cmd.Flags().BoolVar(&preview, "preview", false, "compute the closing entry without writing it")
	return cmd
}

func printClosingReport(w io.Writer, r ledger.ClosingReport, accounts []ledger.Account, preview bool) {
	codes := make(map[ledger.AccountID]ledger.Account, len(accounts))
	for _, a := range accounts {
		codes[a.ID] = a
	}

	verb := "closed"
	if preview {
		verb = "preview of closing"
	}
	fmt.Fprintf(w, "Fiscal year %d %s as of %s (%s)\n", r.Year, verb, r.ClosingDate.Format(time.DateOnly), r.Reference)
	fmt.Fprintf(w, "revenue %s, expense %s, net income %s, %d accounts closed\n\n",
		r.TotalRevenue.StringFixed(2), r.TotalExpense.StringFixed(2), r.NetIncome.StringFixed(2), r.AccountsClosed)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "CODE\tACCOUNT\tDEBIT\tCREDIT\t")
	for _, l := range r.Lines {
		a := codes[l.AccountID]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", a.Code, a.Name, l.Debit.StringFixed(2), l.Credit.StringFixed(2))
	}
	tw.Flush()
}

func newCheckTreeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "check-tree",
		Short: "Report chart of accounts structure problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withLedger(ctx, load, func(s ledger.TxStore, _ *config.Config, opts []ledger.Option) error {
				violations, warnings, err := ledger.NewChart(s, opts...).ValidateStructure(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, w := range warnings {
					fmt.Fprintf(out, "warning: %s re-rooted (parent %s): %s\n", w.AccountID, w.ParentID, w.Reason)
				}
				for _, v := range violations {
					fmt.Fprintf(out, "violation: %s\n", v.Error())
				}
				if len(violations) > 0 {
					return fmt.Errorf("%d structural violations", len(violations))
				}
				fmt.Fprintln(out, "chart of accounts is valid")
				return nil
			})
		},
	}
}

func newSeedCommand(load configLoader) *cobra.Command {
	var chartPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add the default chart of accounts (or one from a JSON file)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := loadChart(chartPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withLedger(ctx, load, func(s ledger.TxStore, _ *config.Config, opts []ledger.Option) error {
				created, err := factory.Seed(ctx, ledger.NewChart(s, opts...), defs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d accounts created, %d already present\n", created, len(defs.Accounts)-created)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&chartPath, "chart", "", "chart JSON file (default: bundled chart)")
	return cmd
}

func loadChart(path string) (factory.ChartJSON, error) {
	if path == "" {
		return factory.DefaultChart()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return factory.ChartJSON{}, fmt.Errorf("reading chart: %w", err)
	}
	return factory.ParseChart(data)
}
