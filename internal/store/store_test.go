package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"crypto-strategy-engine/internal/backtest"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/strategy"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sampleResult(id, strategyID string, created time.Time) *backtest.Result {
	return &backtest.Result{
		ID:             id,
		StrategyID:     strategyID,
		StrategyType:   strategy.TypeMomentum,
		Symbol:         "BTC-USDT-SWAP",
		Timeframe:      "1m",
		InitialCapital: 1000,
		Parameters:     strategy.Parameters{"symbol": "BTC-USDT-SWAP", "threshold": 0.01},
		Stats:          backtest.Stats{
			TotalProfit:  -5,
			TotalReturn:  -0.5,
			MaxDrawdown:  1.2,
			TotalTrades:  2,
			LosingTrades: 1,
			SharpeLike:   -1,
			MaxLossTrade: -5,
			FinalBalance: 995,
			FinalEquity:  995,
			StartTime:    0,
			EndTime:      180000,
		},
		Trades: []model.Trade{
			{Timestamp: 60000, Symbol: "BTC-USDT-SWAP", Action: model.ActionBuy, Price: 100, Size: 1},
			{Timestamp: 180000, Symbol: "BTC-USDT-SWAP", Action: model.ActionCloseLong, Price: 95, Size: 1, Profit: -5},
		},
		EquityCurve: []model.EquityPoint{{Timestamp: 0, Equity: 1000}, {Timestamp: 60000, Equity: 1000}, {Timestamp: 180000, Equity: 995}},
		Rejected:    1,
		CreatedAt:   created,
	}
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "engine.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_SaveGetList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openSQLite(t)
	created := time.UnixMilli(1_700_000_000_000).UTC()

	in := sampleResult("01A", "mom", created)
	require.NoError(t, s.Save(ctx, in))
	require.NoError(t, s.Save(ctx, sampleResult("01B", "mom", created.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, sampleResult("01C", "grid", created)))

	got, err := s.Get(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, in.StrategyType, got.StrategyType)
	assert.Equal(t, in.Stats, got.Stats)
	assert.Equal(t, in.Trades, got.Trades)
	assert.Equal(t, in.EquityCurve, got.EquityCurve)
	assert.Equal(t, 1, got.Rejected)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, "BTC-USDT-SWAP", got.Parameters.Symbol())
	assert.InDelta(t, 0.01, got.Parameters["threshold"], 1e-12)

	list, err := s.List(ctx, "mom")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "01B", list[0].ID)
	assert.Equal(t, "01A", list[1].ID)
	assert.Equal(t, 2, list[0].TotalTrades)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// 重复 id 违反主键，事务整体回滚
	assert.Error(t, s.Save(ctx, in))
	all, _ = s.List(ctx, "")
	assert.Len(t, all, 3)
}

func TestSQLite_SaveEmptyResult(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openSQLite(t)
	r := sampleResult("01E", "mom", time.Now())
	r.Trades = nil
	r.EquityCurve = nil
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, "01E")
	require.NoError(t, err)
	assert.Empty(t, got.Trades)
	assert.Empty(t, got.EquityCurve)

	assert.Error(t, s.Save(ctx, &backtest.Result{}))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "mysql", "", nil)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestPostgres_Save(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, DriverPostgres, nil)
	r := sampleResult("01P", "mom", time.UnixMilli(1_700_000_000_000))

	t.Run("successful save", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO backtest_runs (.+) VALUES \(\$1, \$2`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		trades := mock.ExpectPrepare(`INSERT INTO backtest_trades`)
		trades.ExpectExec().
			WithArgs("01P", 0, int64(60000), "BTC-USDT-SWAP", "buy", 100.0, 1.0, 0.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		trades.ExpectExec().
			WithArgs("01P", 1, int64(180000), "BTC-USDT-SWAP", "close_long", 95.0, 1.0, -5.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		equity := mock.ExpectPrepare(`INSERT INTO backtest_equity`)
		for range r.EquityCurve {
			equity.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
		}
		mock.ExpectCommit()

		require.NoError(t, s.Save(context.Background(), r))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

		err := s.Save(context.Background(), r)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM backtest_runs WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
