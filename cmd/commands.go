package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stock-anomaly/app"
	"stock-anomaly/database"
	"stock-anomaly/export"
)

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime streams and the daily collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.New(opts.cfg).Start()
		},
	}
}

func seedCmd(ctx context.Context, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the tracked stocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Collector().Seed(); err != nil {
				return err
			}
			log.Info().Strs("symbols", opts.cfg.Symbols).Msg("Stocks seeded")
			return nil
		},
	}
}

func backfillCmd(ctx context.Context, opts *options) *cobra.Command {
	var (
		years int
		scan  bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Load years of daily history for the tracked symbols",
		Example: `  stock-anomaly backfill --years 3
  stock-anomaly backfill --years 1 --scan`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if years == 0 {
				years = opts.cfg.Scheduler.BackfillYears
			}
			a, err := opts.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Collector().Backfill(ctx, years); err != nil {
				log.Warn().Err(err).Msg("Backfill finished with errors")
			}
			if scan {
				return scanAndReport(ctx, a, opts.cfg.Symbols)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&years, "years", 0, "years of history to load (default BACKFILL_YEARS)")
	cmd.Flags().BoolVar(&scan, "scan", false, "scan every symbol after loading")
	return cmd
}

func collectCmd(ctx context.Context, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run the daily collection job once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Collector().RunDaily(ctx)
		},
	}
}

func scanCmd(ctx context.Context, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [SYMBOL...]",
		Short: "Detect anomalies for symbols already stored",
		Long:  "Detect anomalies for the given symbols, or every tracked symbol when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := opts.cfg.Symbols
			if len(args) > 0 {
				symbols = nil
				for _, s := range args {
					symbols = append(symbols, strings.ToUpper(s))
				}
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			return scanAndReport(ctx, a, symbols)
		},
	}
}

// scanAndReport scans symbols and prints one line per symbol
func scanAndReport(ctx context.Context, a *app.App, symbols []string) error {
	results, errs := a.Scanner().ScanAll(ctx, symbols)

	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	for _, symbol := range sorted {
		if err, ok := errs[symbol]; ok {
			fmt.Printf("%-6s error: %v\n", symbol, err)
			continue
		}
		r := results[symbol]
		fmt.Printf("%-6s bars=%d stored=%d consensus=%d weighted=%d alerted=%d\n",
			symbol, r.BarCount, r.Stored, r.Consensus, r.Weighted, r.Alerted)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d scans failed", len(errs), len(symbols))
	}
	return nil
}

func exportCmd(ctx context.Context, opts *options) *cobra.Command {
	var (
		kind    string
		format  string
		outDir  string
		symbol  string
		start   string
		end     string
		methods []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored bars or anomalies to parquet, CSV or JSON",
		Example: `  stock-anomaly export --kind bars --symbol AAPL --format parquet
  stock-anomaly export --kind anomalies --methods consensus,hybrid_weighted --format csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			saver := export.NewSaver(format)
			if saver == nil {
				return fmt.Errorf("unsupported format %q (use one of %s)", format, strings.Join(export.Formats(), ", "))
			}
			from, err := parseDay(start)
			if err != nil {
				return err
			}
			to, err := parseDay(end)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			repo := a.Repository()
			symbol = strings.ToUpper(symbol)

			switch kind {
			case "bars":
				symbols := opts.cfg.Symbols
				if symbol != "" {
					symbols = []string{symbol}
				}
				for _, s := range symbols {
					stock, err := repo.GetStockBySymbol(s)
					if err != nil {
						return err
					}
					prices, err := repo.GetPrices(stock.ID, from, to)
					if err != nil {
						return err
					}
					path := filepath.Join(outDir, fmt.Sprintf("%s_bars.%s", strings.ToLower(s), saver.Extension()))
					if err := saver.SaveBars(export.BarRows(s, database.PricesToBars(prices)), path); err != nil {
						return err
					}
					log.Info().Str("symbol", s).Int("rows", len(prices)).Str("path", path).Msg("Bars exported")
				}
				return nil

			case "anomalies":
				rows, err := repo.GetAnomalies(database.AnomalyFilter{
					Symbol:  symbol,
					Methods: methods,
					Start:   from,
					End:     to,
					Limit:   database.MaxAnomalyLimit,
				})
				if err != nil {
					return err
				}
				name := "anomalies"
				if symbol != "" {
					name = strings.ToLower(symbol) + "_anomalies"
				}
				path := filepath.Join(outDir, name+"."+saver.Extension())
				if err := saver.SaveAnomalies(export.AnomalyRows(rows), path); err != nil {
					return err
				}
				log.Info().Int("rows", len(rows)).Str("path", path).Msg("Anomalies exported")
				return nil

			default:
				return fmt.Errorf("unknown kind %q (use bars or anomalies)", kind)
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "anomalies", "what to export: bars or anomalies")
	cmd.Flags().StringVar(&format, "format", "parquet", "output format: "+strings.Join(export.Formats(), ", "))
	cmd.Flags().StringVar(&outDir, "out", "exports", "output directory")
	cmd.Flags().StringVar(&symbol, "symbol", "", "limit to one symbol")
	cmd.Flags().StringVar(&start, "start", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&methods, "methods", nil, "detection methods to include")
	return cmd
}

// parseDay parses an optional YYYY-MM-DD flag
func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", v)
	}
	return t, nil
}
