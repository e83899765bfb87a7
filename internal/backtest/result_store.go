package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrResultNotFound 表示指定 id 的回测结果不存在。
var ErrResultNotFound = errors.New("backtest result not found")

// ResultStore 持久化回测结果。摘要字段落列便于列表查询，
// 完整的指标与成交序列以 JSON 存储。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "results.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_results (
			id TEXT PRIMARY KEY,
			strategy_id TEXT,
			strategy_type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			initial_capital REAL NOT NULL,
			final_capital REAL NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			sharpe_ratio REAL NOT NULL DEFAULT 0,
			metrics_json TEXT NOT NULL,
			trades_json TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_symbol ON backtest_results(symbol, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_results_strategy ON backtest_results(strategy_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert 写入一条完整结果。
func (s *ResultStore) Insert(ctx context.Context, res Result) error {
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return err
	}
	tradesJSON, err := json.Marshal(res.Trades)
	if err != nil {
		return err
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_results
			(id, strategy_id, strategy_type, symbol, timeframe, start_date, end_date,
			 initial_capital, final_capital, total_pnl, total_trades, win_rate,
			 max_drawdown, sharpe_ratio, metrics_json, trades_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.StrategyID, res.StrategyType, res.Symbol, res.Timeframe,
		res.StartDate, res.EndDate, res.InitialCapital, res.FinalCapital, res.TotalPnL,
		res.Metrics.TotalTrades, res.Metrics.WinRate, res.Metrics.MaxDrawdown,
		res.Metrics.SharpeRatio, string(metricsJSON), string(tradesJSON), createdAt.UnixMilli())
	return err
}

// Summary 是列表查询用的轻量投影，不带曲线与成交明细。
type Summary struct {
	ID             string    `json:"id"`
	StrategyID     string    `json:"strategy_id,omitempty"`
	StrategyType   string    `json:"strategy_type"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	TotalPnL       float64   `json:"total_pnl"`
	TotalTrades    int       `json:"total_trades"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	CreatedAt      time.Time `json:"created_at"`
}

// List 按创建时间倒序返回摘要。
func (s *ResultStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_id, strategy_type, symbol, timeframe, start_date, end_date,
		       initial_capital, final_capital, total_pnl, total_trades, win_rate,
		       max_drawdown, sharpe_ratio, created_at
		FROM backtest_results
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Summary
	for rows.Next() {
		var sm Summary
		var strategyID sql.NullString
		var created int64
		if err := rows.Scan(&sm.ID, &strategyID, &sm.StrategyType, &sm.Symbol, &sm.Timeframe,
			&sm.StartDate, &sm.EndDate, &sm.InitialCapital, &sm.FinalCapital, &sm.TotalPnL,
			&sm.TotalTrades, &sm.WinRate, &sm.MaxDrawdown, &sm.SharpeRatio, &created); err != nil {
			return nil, err
		}
		sm.StrategyID = strategyID.String
		sm.CreatedAt = timeFromMillis(created)
		list = append(list, sm)
	}
	return list, rows.Err()
}

// Get 读取完整结果（含曲线与成交明细）。
func (s *ResultStore) Get(ctx context.Context, id string) (Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, strategy_type, symbol, timeframe, start_date, end_date,
		       initial_capital, final_capital, total_pnl, metrics_json, trades_json, created_at
		FROM backtest_results WHERE id=?`, id)
	var res Result
	var strategyID sql.NullString
	var metricsStr string
	var tradesStr sql.NullString
	var created int64
	if err := row.Scan(&res.ID, &strategyID, &res.StrategyType, &res.Symbol, &res.Timeframe,
		&res.StartDate, &res.EndDate, &res.InitialCapital, &res.FinalCapital, &res.TotalPnL,
		&metricsStr, &tradesStr, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, ErrResultNotFound
		}
		return Result{}, err
	}
	res.StrategyID = strategyID.String
	res.CreatedAt = timeFromMillis(created)
	if err := json.Unmarshal([]byte(metricsStr), &res.Metrics); err != nil {
		return Result{}, err
	}
	if tradesStr.Valid && tradesStr.String != "" {
		if err := json.Unmarshal([]byte(tradesStr.String), &res.Trades); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Delete 删除指定结果；不存在时返回 ErrResultNotFound。
func (s *ResultStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backtest_results WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrResultNotFound
	}
	return nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
