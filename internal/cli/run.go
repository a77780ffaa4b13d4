package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"crypto-strategy-engine/internal/api"
	"crypto-strategy-engine/internal/exchange"
	"crypto-strategy-engine/internal/execution"
	"crypto-strategy-engine/internal/ledger"
	"crypto-strategy-engine/internal/market"
	"crypto-strategy-engine/internal/runner"
	"crypto-strategy-engine/internal/scheduler"
	"crypto-strategy-engine/internal/service"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run enabled strategies against the paper exchange",
		Long: `Run subscribes to the Okx public WebSocket for every symbol traded by an
enabled strategy, aggregates the stream into candles and runs the strategies on
a fixed tick. Orders fill against a local paper ledger.

With no strategies configured a demo momentum strategy is started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runEngine(ctx, cmd.OutOrStdout(), root.cfg)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

// paperEngine 模拟盘运行所需的全部组件
type paperEngine struct {
	data   *market.DataEngine
	book   *ledger.Ledger
	sched  *scheduler.Scheduler
	runner *runner.Runner
}

func buildPaperEngine(cfg *service.Config, logger *zap.Logger) (*paperEngine, error) {
	timeframe := cfg.Engine.DefaultTimeframe
	if timeframe == "" {
		timeframe = scheduler.DefaultTimeframe
	}
	de, err := market.NewDataEngine([]string{timeframe}, cfg.Engine.KlineLimit, logger)
	if err != nil {
		return nil, err
	}

	book := ledger.New(cfg.Paper.InitialBalance,
		ledger.WithMarginRate(cfg.Ledger.MarginRate),
		ledger.WithLogger(logger))
	client := exchange.NewRetrying(exchange.NewPaper(book, de, logger), cfg.Retry.Attempts, cfg.Retry.Backoff, logger)

	sched := scheduler.New(client, execution.NewOkxExecutor(client, logger),
		scheduler.WithRefreshInterval(cfg.Engine.RefreshInterval),
		scheduler.WithTickInterval(cfg.Engine.TickInterval),
		scheduler.WithKlineLimit(cfg.Engine.KlineLimit),
		scheduler.WithDefaultTimeframe(timeframe),
		scheduler.WithLogger(logger))

	r := runner.New(sched, client,
		runner.WithDefaultTimeframe(timeframe),
		runner.WithLogger(logger))
	if err := r.LoadStrategies(cfg.Strategies); err != nil {
		return nil, err
	}
	return &paperEngine{data: de, book: book, sched: sched, runner: r}, nil
}

// symbols 返回已启用策略交易的交易对，去重排序
func (e *paperEngine) symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, st := range e.runner.ListStrategies() {
		sym := st.Parameters.Symbol()
		if !st.Enabled || sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func runEngine(ctx context.Context, w io.Writer, cfg *service.Config) error {
	logger := service.Named(nil, "cli")

	e, err := buildPaperEngine(cfg, logger)
	if err != nil {
		return err
	}
	symbols := e.symbols()
	if len(symbols) == 0 {
		return errors.New("no enabled strategies")
	}
	logger.Info("Starting paper trading",
		zap.String("exchange", cfg.Exchange.Name),
		zap.Strings("symbols", symbols),
		zap.String("ws_url", cfg.Exchange.WSURL))

	connector := api.NewConnector(cfg.Exchange.WSURL, symbols, api.WithLogger(logger))

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := connector.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Connector stopped", zap.Error(err))
		}
	})
	wg.Go(func() { e.data.Run(ctx, connector.Tickers()) })
	wg.Go(func() { _ = e.sched.Run(ctx) })
	wg.Wait()

	e.printStatus(w)
	return nil
}

func (e *paperEngine) printStatus(w io.Writer) {
	acct := e.book.Account()
	fmt.Fprintf(w, "Account: balance %.2f, available %.2f, equity %.2f\n", acct.Balance, acct.Available, acct.Equity)
	for _, p := range e.book.Positions() {
		fmt.Fprintf(w, "Position: %s %s size %.6f @ %.4f\n", p.Symbol, p.Side, p.Size, p.EntryPrice)
	}
	for _, st := range e.runner.ListStrategies() {
		fmt.Fprintf(w, "Strategy %s (%s) enabled=%t runs=%d signals=%d trades=%d errors=%d\n",
			st.ID, st.Type, st.Enabled, st.Stats.Runs, st.Stats.Signals, st.Stats.Trades, st.Stats.Errors)
	}
}
