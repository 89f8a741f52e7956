package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "fundx/internal/errors"
	"fundx/internal/models"
)

// Timestamps are stored as fixed-width UTC text so range filters compare lexically.
const tsLayout = "2006-01-02 15:04:05.000000000"

// SQLiteStore implements Ledger using SQLite with an FTS4 index.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the ledger database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the trades table, its full-text index and the triggers
// that keep the index in sync.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		fund_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		total_value REAL NOT NULL,
		order_type TEXT NOT NULL DEFAULT 'market',
		session_id TEXT NOT NULL DEFAULT '',
		reasoning TEXT NOT NULL DEFAULT '',
		market_context TEXT NOT NULL DEFAULT '',
		closed_at TEXT,
		close_price REAL,
		realized_pnl REAL,
		pnl_percent REAL,
		lessons TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_fund_time ON trades(fund_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(fund_id, session_id);

	-- External-content index over the free-text columns of trades
	CREATE VIRTUAL TABLE IF NOT EXISTS trades_fts USING fts4(
		content="trades", reasoning, market_context, lessons
	);

	CREATE TRIGGER IF NOT EXISTS trades_fts_bu BEFORE UPDATE ON trades BEGIN
		DELETE FROM trades_fts WHERE docid = old.id;
	END;
	CREATE TRIGGER IF NOT EXISTS trades_fts_bd BEFORE DELETE ON trades BEGIN
		DELETE FROM trades_fts WHERE docid = old.id;
	END;
	CREATE TRIGGER IF NOT EXISTS trades_fts_au AFTER UPDATE ON trades BEGIN
		INSERT INTO trades_fts(docid, reasoning, market_context, lessons)
		VALUES (new.id, new.reasoning, new.market_context, new.lessons);
	END;
	CREATE TRIGGER IF NOT EXISTS trades_fts_ai AFTER INSERT ON trades BEGIN
		INSERT INTO trades_fts(docid, reasoning, market_context, lessons)
		VALUES (new.id, new.reasoning, new.market_context, new.lessons);
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert appends an entry and sets its ID.
func (s *SQLiteStore) Insert(ctx context.Context, e *models.TradeEntry) (int64, error) {
	if e.FundID == "" || e.Symbol == "" {
		return 0, apperrors.NewValidationError("trade", e.Symbol, "fund and symbol are required")
	}
	if e.TotalValue == 0 {
		e.TotalValue = e.Quantity * e.Price
	}
	if e.OrderType == "" {
		e.OrderType = models.OrderTypeMarket
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (timestamp, fund_id, symbol, side, quantity, price, total_value, order_type, session_id,
			reasoning, market_context, closed_at, close_price, realized_pnl, pnl_percent, lessons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTS(e.Timestamp), e.FundID, e.Symbol, string(e.Side), e.Quantity, e.Price, e.TotalValue, string(e.OrderType),
		e.SessionID, e.Reasoning, e.MarketContext, nullTS(e.ClosedAt), nullFloat(e.ClosePrice),
		nullFloat(e.RealizedPnL), nullFloat(e.PnLPercent), e.Lessons)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", apperrors.FromContext(ctx, err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}
	e.ID = id
	return id, nil
}

// Update rewrites every mutable column of an existing entry.
func (s *SQLiteStore) Update(ctx context.Context, e *models.TradeEntry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET timestamp = ?, symbol = ?, side = ?, quantity = ?, price = ?, total_value = ?, order_type = ?,
			session_id = ?, reasoning = ?, market_context = ?, closed_at = ?, close_price = ?, realized_pnl = ?,
			pnl_percent = ?, lessons = ?
		WHERE id = ? AND fund_id = ?
	`, formatTS(e.Timestamp), e.Symbol, string(e.Side), e.Quantity, e.Price, e.TotalValue, string(e.OrderType),
		e.SessionID, e.Reasoning, e.MarketContext, nullTS(e.ClosedAt), nullFloat(e.ClosePrice),
		nullFloat(e.RealizedPnL), nullFloat(e.PnLPercent), e.Lessons, e.ID, e.FundID)
	if err != nil {
		return fmt.Errorf("failed to update trade %d: %w", e.ID, apperrors.FromContext(ctx, err))
	}
	return expectOne(res, e.ID)
}

// CloseTrade records the close fields of an open entry.
func (s *SQLiteStore) CloseTrade(ctx context.Context, id int64, c models.TradeClose) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET closed_at = ?, close_price = ?, realized_pnl = ?, pnl_percent = ?, lessons = ?
		WHERE id = ?
	`, formatTS(c.ClosedAt), c.ClosePrice, c.RealizedPnL, c.PnLPercent, c.Lessons, id)
	if err != nil {
		return fmt.Errorf("failed to close trade %d: %w", id, apperrors.FromContext(ctx, err))
	}
	return expectOne(res, id)
}

// Delete removes an entry and its index row.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM trades WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete trade %d: %w", id, apperrors.FromContext(ctx, err))
	}
	return expectOne(res, id)
}

// Get returns one entry by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.TradeEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+tradeColumns+" FROM trades WHERE id = ?", id)
	e, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trade %d not found", id)
	}
	if err != nil {
		return nil, apperrors.FromContext(ctx, err)
	}
	return e, nil
}

// Query retrieves entries matching filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter TradeFilter) ([]models.TradeEntry, error) {
	where, args := buildWhere(filter)
	query := "SELECT " + tradeColumns + " FROM trades WHERE 1=1" + where + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", apperrors.FromContext(ctx, err))
	}
	defer rows.Close()

	var trades []models.TradeEntry
	for rows.Next() {
		e, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *e)
	}

	return trades, rows.Err()
}

// Count returns the number of entries matching filter.
func (s *SQLiteStore) Count(ctx context.Context, filter TradeFilter) (int, error) {
	where, args := buildWhere(filter)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades WHERE 1=1"+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", apperrors.FromContext(ctx, err))
	}
	return n, nil
}

// Summarize aggregates a fund's activity in r.
func (s *SQLiteStore) Summarize(ctx context.Context, fundID string, r DateRange) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN side = 'buy' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'sell' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN closed_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'buy' THEN total_value ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'sell' THEN total_value ELSE 0 END), 0),
			COALESCE(SUM(realized_pnl), 0)
		FROM trades
		WHERE fund_id = ? AND timestamp >= ? AND timestamp < ?
	`, fundID, formatTS(r.Start), formatTS(r.End))

	var sum Summary
	if err := row.Scan(&sum.Trades, &sum.Buys, &sum.Sells, &sum.Closed, &sum.Wins, &sum.Losses,
		&sum.BuyValue, &sum.SellValue, &sum.RealizedPnL); err != nil {
		return nil, fmt.Errorf("failed to summarize trades: %w", apperrors.FromContext(ctx, err))
	}
	return &sum, nil
}

// RebuildIndex regenerates the full-text index from the trades table.
func (s *SQLiteStore) RebuildIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "INSERT INTO trades_fts(trades_fts) VALUES('rebuild')"); err != nil {
		return fmt.Errorf("failed to rebuild trade index: %w", apperrors.FromContext(ctx, err))
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

const tradeColumns = `id, timestamp, fund_id, symbol, side, quantity, price, total_value, order_type, session_id,
	reasoning, market_context, closed_at, close_price, realized_pnl, pnl_percent, lessons`

func buildWhere(filter TradeFilter) (string, []interface{}) {
	where := ""
	args := []interface{}{}

	if filter.FundID != "" {
		where += " AND fund_id = ?"
		args = append(args, filter.FundID)
	}
	if filter.Symbol != "" {
		where += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Side != "" {
		where += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if !filter.StartDate.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, formatTS(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, formatTS(filter.EndDate))
	}
	if filter.Text != "" {
		where += " AND id IN (SELECT docid FROM trades_fts WHERE trades_fts MATCH ?)"
		args = append(args, filter.Text)
	}

	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(r rowScanner) (*models.TradeEntry, error) {
	var e models.TradeEntry
	var ts, side, orderType string
	var closedAt sql.NullString
	var closePrice, realized, pnlPct sql.NullFloat64
	if err := r.Scan(&e.ID, &ts, &e.FundID, &e.Symbol, &side, &e.Quantity, &e.Price, &e.TotalValue, &orderType,
		&e.SessionID, &e.Reasoning, &e.MarketContext, &closedAt, &closePrice, &realized, &pnlPct, &e.Lessons); err != nil {
		return nil, err
	}

	var err error
	if e.Timestamp, err = parseTS(ts); err != nil {
		return nil, err
	}
	e.Side = models.OrderSide(side)
	e.OrderType = models.OrderType(orderType)

	if closedAt.Valid {
		t, err := parseTS(closedAt.String)
		if err != nil {
			return nil, err
		}
		e.ClosedAt = &t
	}
	e.ClosePrice = floatPtr(closePrice)
	e.RealizedPnL = floatPtr(realized)
	e.PnLPercent = floatPtr(pnlPct)

	return &e, nil
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trade %d not found", id)
	}
	return nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.ParseInLocation(tsLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad trade timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTS(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTS(*t)
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
