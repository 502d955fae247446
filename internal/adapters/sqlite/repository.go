package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.StateRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/copy_risk.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS day_state (
		date_key TEXT PRIMARY KEY,
		start_equity REAL NOT NULL,
		started_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS managed_positions (
		id TEXT PRIMARY KEY,
		ref_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		state TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		initial_quantity REAL NOT NULL,
		stop_price REAL NOT NULL DEFAULT 0,
		target_price REAL NOT NULL DEFAULT 0,
		stop_points REAL NOT NULL,
		risk_amount REAL NOT NULL,
		point_size REAL NOT NULL,
		value_per_point REAL NOT NULL,
		breakeven_armed INTEGER NOT NULL DEFAULT 0,
		partial_closed INTEGER NOT NULL DEFAULT 0,
		best_excursion REAL NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL,
		close_reason TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS risk_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TIMESTAMP NOT NULL,
		kind TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		ref_id INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_managed_positions_status ON managed_positions (status);
	CREATE INDEX IF NOT EXISTS idx_managed_positions_ref ON managed_positions (ref_id);
	CREATE INDEX IF NOT EXISTS idx_risk_events_at ON risk_events (at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StateRepository Implementation ---

// UpsertDayState saves the day anchor, replacing any row for the same date key.
func (r *Repository) UpsertDayState(ctx context.Context, ds *domain.DayState) error {
	const query = `
	INSERT INTO day_state (date_key, start_equity, started_at)
	VALUES (?, ?, ?)
	ON CONFLICT(date_key) DO UPDATE SET
		start_equity = excluded.start_equity,
		started_at = excluded.started_at`

	_, err := r.db.ExecContext(ctx, query, ds.DateKey, ds.StartEquity, ds.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert day state for %s: %w", ds.DateKey, err)
	}
	r.logger.Debug(ctx, "Day state saved", map[string]interface{}{"dateKey": ds.DateKey, "startEquity": ds.StartEquity})
	return nil
}

// FindDayState retrieves the day anchor for a date key.
func (r *Repository) FindDayState(ctx context.Context, dateKey string) (*domain.DayState, error) {
	const query = `SELECT date_key, start_equity, started_at FROM day_state WHERE date_key = ?`

	ds := &domain.DayState{}
	err := r.db.QueryRowContext(ctx, query, dateKey).Scan(&ds.DateKey, &ds.StartEquity, &ds.StartedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query day state for %s: %w", dateKey, err)
	}
	return ds, nil
}

// SavePosition inserts or replaces a managed position by its ID.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.ManagedPosition) error {
	const query = `
	INSERT INTO managed_positions (id, ref_id, symbol, direction, state, entry_price, quantity,
	                               initial_quantity, stop_price, target_price, stop_points, risk_amount,
	                               point_size, value_per_point, breakeven_armed, partial_closed,
	                               best_excursion, opened_at, closed_at, status, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		ref_id = excluded.ref_id,
		symbol = excluded.symbol,
		direction = excluded.direction,
		state = excluded.state,
		entry_price = excluded.entry_price,
		quantity = excluded.quantity,
		initial_quantity = excluded.initial_quantity,
		stop_price = excluded.stop_price,
		target_price = excluded.target_price,
		stop_points = excluded.stop_points,
		risk_amount = excluded.risk_amount,
		point_size = excluded.point_size,
		value_per_point = excluded.value_per_point,
		breakeven_armed = excluded.breakeven_armed,
		partial_closed = excluded.partial_closed,
		best_excursion = excluded.best_excursion,
		opened_at = excluded.opened_at,
		closed_at = excluded.closed_at,
		status = excluded.status,
		close_reason = excluded.close_reason`

	_, err := r.db.ExecContext(ctx, query, positionArgs(pos)...)
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", pos.ID, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"positionID": pos.ID, "refID": pos.RefID, "state": pos.State})
	return nil
}

// UpdatePosition modifies an existing managed position.
func (r *Repository) UpdatePosition(ctx context.Context, pos *domain.ManagedPosition) error {
	const query = `
	UPDATE managed_positions
	SET state = ?, quantity = ?, stop_price = ?, target_price = ?, breakeven_armed = ?,
	    partial_closed = ?, best_excursion = ?, closed_at = ?, status = ?, close_reason = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		pos.State, pos.Quantity, pos.StopPrice, pos.TargetPrice, pos.BreakevenArmed,
		pos.PartialClosed, pos.BestExcursion, nullTime(pos.ClosedAt), pos.Status, nullString(string(pos.CloseReason)),
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position %s: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position %s not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "state": pos.State, "status": pos.Status})
	return nil
}

// FindOpenPositions retrieves all positions with open status, oldest first.
func (r *Repository) FindOpenPositions(ctx context.Context) ([]*domain.ManagedPosition, error) {
	const query = `
	SELECT id, ref_id, symbol, direction, state, entry_price, quantity, initial_quantity,
	       stop_price, target_price, stop_points, risk_amount, point_size, value_per_point,
	       breakeven_armed, partial_closed, best_excursion, opened_at, closed_at, status,
	       COALESCE(close_reason, '')
	FROM managed_positions
	WHERE status = ?
	ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.ManagedPosition, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpenPositions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// LogEvent appends a risk event to the audit log.
func (r *Repository) LogEvent(ctx context.Context, ev *domain.RiskEvent) error {
	const query = `INSERT INTO risk_events (at, kind, symbol, ref_id, detail) VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, ev.At, ev.Kind, ev.Symbol, ev.RefID, ev.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert risk event %s: %w", ev.Kind, err)
	}
	return nil
}

// RecentEvents retrieves the newest limit audit entries, newest first.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]*domain.RiskEvent, error) {
	const query = `SELECT at, kind, symbol, ref_id, detail FROM risk_events ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.RiskEvent, 0, limit)
	for rows.Next() {
		ev := &domain.RiskEvent{}
		if err := rows.Scan(&ev.At, &ev.Kind, &ev.Symbol, &ev.RefID, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk event rows: %w", err)
	}
	return events, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.ManagedPosition struct.
func scanPosition(s scanner) (*domain.ManagedPosition, error) {
	p := &domain.ManagedPosition{}
	var closedAt sql.NullTime
	var direction, state, status, closeReason string
	err := s.Scan(
		&p.ID, &p.RefID, &p.Symbol, &direction, &state, &p.EntryPrice, &p.Quantity, &p.InitialQuantity,
		&p.StopPrice, &p.TargetPrice, &p.StopPoints, &p.RiskAmount, &p.PointSize, &p.ValuePerPoint,
		&p.BreakevenArmed, &p.PartialClosed, &p.BestExcursion, &p.OpenedAt, &closedAt, &status, &closeReason)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	p.Direction = domain.Direction(direction)
	p.State = domain.PositionState(state)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(closeReason)
	return p, nil
}

func positionArgs(pos *domain.ManagedPosition) []interface{} {
	return []interface{}{
		pos.ID, pos.RefID, pos.Symbol, pos.Direction, pos.State, pos.EntryPrice, pos.Quantity,
		pos.InitialQuantity, pos.StopPrice, pos.TargetPrice, pos.StopPoints, pos.RiskAmount,
		pos.PointSize, pos.ValuePerPoint, pos.BreakevenArmed, pos.PartialClosed,
		pos.BestExcursion, pos.OpenedAt, nullTime(pos.ClosedAt), pos.Status, nullString(string(pos.CloseReason)),
	}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
