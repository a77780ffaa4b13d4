package cli

import (
	"context"
	"fmt"

	"crypto-strategy-engine/internal/service"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configDir string
	logLevel  string
	cfg       *service.Config
}

// NewRootCmd 构建命令树
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "engine",
		Short: "Strategy execution and backtest engine for crypto perpetual swaps",
		Long: `Engine runs trading strategies against a paper exchange fed by the Okx public
WebSocket, and replays them over historical candles for backtesting.

Commands:
  run         - run enabled strategies on the paper exchange
  backtest    - replay a strategy over a candle CSV
  strategies  - list strategy types and configured strategies`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := service.LoadConfig(opts.configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.Log.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			service.InitLogger(level, cfg.Log.Development)
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = service.Logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configDir, "config", "c", "config", "directory containing config.yaml and .env")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newBacktestCmd(opts))
	root.AddCommand(newStrategiesCmd(opts))
	return root
}

// Execute 运行根命令
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
