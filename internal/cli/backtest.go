package cli

import (
	"fmt"
	"io"
	"os"

	"crypto-strategy-engine/internal/backtest"
	"crypto-strategy-engine/internal/report"
	"crypto-strategy-engine/internal/runner"
	"crypto-strategy-engine/internal/scheduler"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type backtestOptions struct {
	candlesPath string
	strategyID  string
	typ         string
	params      []string
	symbol      string
	timeframe   string
	capital     float64
	reportPath  string
	curve       bool
}

func newBacktestCmd(root *rootOptions) *cobra.Command {
	opts := &backtestOptions{}

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a strategy over historical candles",
		Long: `Backtest runs a fresh strategy instance over candles read from a CSV file
(timestamp,open,high,low,close,volume) and prints summary statistics.

The strategy comes from the config file (--strategy) or from a type plus
parameters given on the command line (--type, --param key=value).

Saved runs (storage configured) are listed with "backtest list" and printed
with "backtest show <id>".

Example:
  engine backtest --candles btc_1m.csv --type momentum --param lookback_period=5 --report out.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, root.cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.candlesPath, "candles", "", "CSV file with historical candles")
	cmd.Flags().StringVarP(&opts.strategyID, "strategy", "s", "", "strategy id from the config file")
	cmd.Flags().StringVarP(&opts.typ, "type", "t", "", "strategy type (momentum, grid, ma_cross, custom)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "strategy parameter as key=value, repeatable")
	cmd.Flags().StringVar(&opts.symbol, "symbol", "", "symbol recorded in the result (defaults to the strategy symbol)")
	cmd.Flags().StringVar(&opts.timeframe, "timeframe", "", "candle timeframe (defaults to the strategy timeframe)")
	cmd.Flags().Float64Var(&opts.capital, "capital", 0, "initial capital (defaults to paper.initial_balance)")
	cmd.Flags().StringVarP(&opts.reportPath, "report", "o", "", "write a YAML report to this file, - for stdout")
	cmd.Flags().BoolVar(&opts.curve, "equity-curve", false, "include the equity curve in the report")
	_ = cmd.MarkFlagRequired("candles")
	cmd.MarkFlagsMutuallyExclusive("strategy", "type")
	cmd.MarkFlagsOneRequired("strategy", "type")

	cmd.AddCommand(newBacktestListCmd(root))
	cmd.AddCommand(newBacktestShowCmd(root))

	return cmd
}

func runBacktest(cmd *cobra.Command, cfg *service.Config, opts *backtestOptions) error {
	ctx := cmd.Context()
	logger := service.Named(nil, "cli")

	f, err := os.Open(opts.candlesPath)
	if err != nil {
		return err
	}
	candles, err := LoadCandlesCSV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("load candles %s: %w", opts.candlesPath, err)
	}

	overrides, err := ParseParams(opts.params)
	if err != nil {
		return err
	}

	src := replaySource{candles: candles}
	runnerOpts := []runner.Option{
		runner.WithKlineLimit(len(candles)),
		runner.WithDefaultTimeframe(cfg.Engine.DefaultTimeframe),
		runner.WithEngine(backtest.NewEngine(
			backtest.WithWindow(cfg.Engine.BacktestWindow),
			backtest.WithMarginRate(cfg.Ledger.MarginRate),
			backtest.WithLogger(logger),
		)),
		runner.WithLogger(logger),
	}
	if cfg.Storage.Driver != "" {
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		runnerOpts = append(runnerOpts, runner.WithSaver(st))
	}
	r := runner.New(scheduler.New(src, nil, scheduler.WithLogger(logger)), src, runnerOpts...)

	var id string
	if opts.strategyID != "" {
		sc, ok := cfg.Strategies[opts.strategyID]
		if !ok {
			return fmt.Errorf("%w: %s", runner.ErrNotFound, opts.strategyID)
		}
		params := strategy.Parameters(sc.Parameters).Merge(overrides)
		id, err = r.RegisterStrategy(sc.Type, opts.strategyID, sc.Name, sc.Description, params)
	} else {
		id, err = r.RegisterStrategy(opts.typ, "", "", "", overrides)
	}
	if err != nil {
		return err
	}

	capital := opts.capital
	if capital <= 0 {
		capital = cfg.Paper.InitialBalance
	}
	res, err := r.RunBacktest(ctx, id, opts.symbol, opts.timeframe, capital)
	if err != nil {
		return err
	}
	logger.Info("Backtest finished",
		zap.String("strategy_id", id),
		zap.Int("candles", len(candles)),
		zap.Int("trades", res.Stats.TotalTrades))

	switch opts.reportPath {
	case "":
		printSummary(cmd.OutOrStdout(), res)
		return nil
	case "-":
		return report.WriteYAML(cmd.OutOrStdout(), res, opts.curve)
	}

	out, err := os.Create(opts.reportPath)
	if err != nil {
		return err
	}
	if err := report.WriteYAML(out, res, opts.curve); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", opts.reportPath)
	return nil
}

func printSummary(w io.Writer, res *backtest.Result) {
	s := res.Stats
	fmt.Fprintf(w, "Backtest %s\n", res.ID)
	fmt.Fprintf(w, "  Strategy:       %s (%s)\n", res.StrategyID, res.StrategyType)
	fmt.Fprintf(w, "  Symbol:         %s %s\n", res.Symbol, res.Timeframe)
	fmt.Fprintf(w, "  Initial:        %.2f\n", res.InitialCapital)
	fmt.Fprintf(w, "  Final equity:   %.2f\n", s.FinalEquity)
	fmt.Fprintf(w, "  Total profit:   %.2f (%.2f%%)\n", s.TotalProfit, s.TotalReturn)
	fmt.Fprintf(w, "  Max drawdown:   %.2f%%\n", s.MaxDrawdown)
	fmt.Fprintf(w, "  Trades:         %d (won %d, lost %d, win rate %.2f%%)\n",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate)
	fmt.Fprintf(w, "  Profit factor:  %.2f\n", s.ProfitFactor)
	fmt.Fprintf(w, "  Sharpe:         %.4f\n", s.SharpeLike)
	if res.Rejected > 0 {
		fmt.Fprintf(w, "  Rejected:       %d\n", res.Rejected)
	}
}
