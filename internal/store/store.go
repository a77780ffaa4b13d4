package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crypto-strategy-engine/internal/backtest"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrNotFound 回测记录不存在
var ErrNotFound = errors.New("backtest run not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id               TEXT PRIMARY KEY,
		strategy_id      TEXT NOT NULL,
		strategy_type    TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		timeframe        TEXT NOT NULL,
		initial_capital  DOUBLE PRECISION NOT NULL,
		parameters       TEXT NOT NULL,
		total_profit     DOUBLE PRECISION NOT NULL,
		total_return     DOUBLE PRECISION NOT NULL,
		max_drawdown     DOUBLE PRECISION NOT NULL,
		total_trades     INTEGER NOT NULL,
		winning_trades   INTEGER NOT NULL,
		losing_trades    INTEGER NOT NULL,
		win_rate         DOUBLE PRECISION NOT NULL,
		profit_factor    DOUBLE PRECISION NOT NULL,
		sharpe_like      DOUBLE PRECISION NOT NULL,
		max_profit_trade DOUBLE PRECISION NOT NULL,
		max_loss_trade   DOUBLE PRECISION NOT NULL,
		final_balance    DOUBLE PRECISION NOT NULL,
		final_equity     DOUBLE PRECISION NOT NULL,
		start_time       BIGINT NOT NULL,
		end_time         BIGINT NOT NULL,
		rejected         INTEGER NOT NULL,
		created_at       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_strategy ON backtest_runs (strategy_id)`,
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		run_id    TEXT NOT NULL,
		seq       INTEGER NOT NULL,
		ts        BIGINT NOT NULL,
		symbol    TEXT NOT NULL,
		action    TEXT NOT NULL,
		price     DOUBLE PRECISION NOT NULL,
		size      DOUBLE PRECISION NOT NULL,
		profit    DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_equity (
		run_id TEXT NOT NULL,
		seq    INTEGER NOT NULL,
		ts     BIGINT NOT NULL,
		equity DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

const runColumns = `id, strategy_id, strategy_type, symbol, timeframe, initial_capital, parameters,
	total_profit, total_return, max_drawdown, total_trades, winning_trades, losing_trades,
	win_rate, profit_factor, sharpe_like, max_profit_trade, max_loss_trade,
	final_balance, final_equity, start_time, end_time, rejected, created_at`

// Summary 回测列表中的一行
type Summary struct {
	ID           string        `json:"id" yaml:"id"`
	StrategyID   string        `json:"strategy_id" yaml:"strategy_id"`
	StrategyType strategy.Type `json:"strategy_type" yaml:"strategy_type"`
	Symbol       string        `json:"symbol" yaml:"symbol"`
	Timeframe    string        `json:"timeframe" yaml:"timeframe"`
	TotalReturn  float64       `json:"total_return" yaml:"total_return"`
	MaxDrawdown  float64       `json:"max_drawdown" yaml:"max_drawdown"`
	WinRate      float64       `json:"win_rate" yaml:"win_rate"`
	TotalTrades  int           `json:"total_trades" yaml:"total_trades"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
}

// Store 持久化回测结果，支持 sqlite3 与 postgres
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open 打开数据库并建表
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite 单写者
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := New(db, driver, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New 包装已有连接，不建表
func New(db *sql.DB, driver string, logger *zap.Logger) *Store {
	return &Store{db: db, driver: driver, logger: service.Named(logger, "store")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// rebind 将 ? 占位符转换为当前驱动的写法
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save 在一个事务中写入回测汇总、成交与净值曲线
func (s *Store) Save(ctx context.Context, r *backtest.Result) error {
	if r == nil || r.ID == "" {
		return errors.New("result without id")
	}
	params, err := json.Marshal(r.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st := r.Stats
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO backtest_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.StrategyID, string(r.StrategyType), r.Symbol, r.Timeframe, r.InitialCapital, string(params),
		st.TotalProfit, st.TotalReturn, st.MaxDrawdown, st.TotalTrades, st.WinningTrades, st.LosingTrades,
		st.WinRate, st.ProfitFactor, st.SharpeLike, st.MaxProfitTrade, st.MaxLossTrade,
		st.FinalBalance, st.FinalEquity, st.StartTime, st.EndTime, r.Rejected, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest run: %w", err)
	}

	if len(r.Trades) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO backtest_trades
			(run_id, seq, ts, symbol, action, price, size, profit) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare trade insert: %w", err)
		}
		defer stmt.Close()
		for i, t := range r.Trades {
			if _, err := stmt.ExecContext(ctx, r.ID, i, t.Timestamp, t.Symbol, string(t.Action), t.Price, t.Size, t.Profit); err != nil {
				return fmt.Errorf("failed to insert trade %d: %w", i, err)
			}
		}
	}

	if len(r.EquityCurve) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO backtest_equity
			(run_id, seq, ts, equity) VALUES (?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare equity insert: %w", err)
		}
		defer stmt.Close()
		for i, p := range r.EquityCurve {
			if _, err := stmt.ExecContext(ctx, r.ID, i, p.Timestamp, p.Equity); err != nil {
				return fmt.Errorf("failed to insert equity point %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Info("Backtest result saved",
		zap.String("id", r.ID),
		zap.String("strategy_id", r.StrategyID),
		zap.Int("trades", len(r.Trades)),
		zap.Int("equity_points", len(r.EquityCurve)))
	return nil
}

// Get 读取完整的回测结果
func (s *Store) Get(ctx context.Context, id string) (*backtest.Result, error) {
	var (
		r         backtest.Result
		typ       string
		params    string
		createdAt int64
		st        = &r.Stats
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`), id).Scan(
		&r.ID, &r.StrategyID, &typ, &r.Symbol, &r.Timeframe, &r.InitialCapital, &params,
		&st.TotalProfit, &st.TotalReturn, &st.MaxDrawdown, &st.TotalTrades, &st.WinningTrades, &st.LosingTrades,
		&st.WinRate, &st.ProfitFactor, &st.SharpeLike, &st.MaxProfitTrade, &st.MaxLossTrade,
		&st.FinalBalance, &st.FinalEquity, &st.StartTime, &st.EndTime, &r.Rejected, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest run: %w", err)
	}
	r.StrategyType = strategy.Type(typ)
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(params), &r.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}

	if r.Trades, err = s.trades(ctx, id); err != nil {
		return nil, err
	}
	if r.EquityCurve, err = s.equity(ctx, id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) trades(ctx context.Context, id string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT ts, symbol, action, price, size, profit
		FROM backtest_trades WHERE run_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var (
			t      model.Trade
			action string
		)
		if err := rows.Scan(&t.Timestamp, &t.Symbol, &action, &t.Price, &t.Size, &t.Profit); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Action = model.Action(action)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) equity(ctx context.Context, id string) ([]model.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT ts, equity
		FROM backtest_equity WHERE run_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity curve: %w", err)
	}
	defer rows.Close()

	curve := []model.EquityPoint{}
	for rows.Next() {
		var p model.EquityPoint
		if err := rows.Scan(&p.Timestamp, &p.Equity); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		curve = append(curve, p)
	}
	return curve, rows.Err()
}

// List 按创建时间倒序列出回测，strategyID 为空时列出全部
func (s *Store) List(ctx context.Context, strategyID string) ([]Summary, error) {
	query := `SELECT id, strategy_id, strategy_type, symbol, timeframe,
		total_return, max_drawdown, win_rate, total_trades, created_at FROM backtest_runs`
	var args []any
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			typ       string
			createdAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.StrategyID, &typ, &sum.Symbol, &sum.Timeframe,
			&sum.TotalReturn, &sum.MaxDrawdown, &sum.WinRate, &sum.TotalTrades, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		sum.StrategyType = strategy.Type(typ)
		sum.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}
