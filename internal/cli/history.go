package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"crypto-strategy-engine/internal/report"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoStorage = errors.New("storage is not configured (set storage.driver and storage.dsn)")

func openStore(ctx context.Context, cfg *service.Config, logger *zap.Logger) (*store.Store, error) {
	if cfg.Storage.Driver == "" {
		return nil, errNoStorage
	}
	return store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
}

func newBacktestListCmd(root *rootOptions) *cobra.Command {
	var strategyID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved backtest runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), root.cfg, service.Named(nil, "cli"))
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.List(cmd.Context(), strategyID)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategyID, "strategy", "s", "", "only runs of this strategy id")
	return cmd
}

func newBacktestShowCmd(root *rootOptions) *cobra.Command {
	var curve bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved backtest run as a YAML report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), root.cfg, service.Named(nil, "cli"))
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return report.WriteYAML(cmd.OutOrStdout(), res, curve)
		},
	}
	cmd.Flags().BoolVar(&curve, "equity-curve", false, "include the equity curve")
	return cmd
}

func printRuns(w io.Writer, runs []store.Summary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No backtest runs saved")
		return
	}
	fmt.Fprintf(w, "%-26s  %-20s  %-10s  %-16s  %-4s  %9s  %9s  %8s  %6s  %s\n",
		"ID", "STRATEGY", "TYPE", "SYMBOL", "TF", "RETURN%", "MAXDD%", "WIN%", "TRADES", "CREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%-26s  %-20s  %-10s  %-16s  %-4s  %9.2f  %9.2f  %8.2f  %6d  %s\n",
			r.ID, r.StrategyID, r.StrategyType, r.Symbol, r.Timeframe,
			r.TotalReturn, r.MaxDrawdown, r.WinRate, r.TotalTrades, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
