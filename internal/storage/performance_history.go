package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/audioforge/orchestrator/internal/model"
)

// StoredRecord is a performance record tagged with its owning
// model/capability pair.
type StoredRecord struct {
	ModelID    string
	Capability model.Capability
	Record     model.PerformanceRecord
}

// PerformanceHistory persists performance records across restarts so the
// scorer does not start cold.
type PerformanceHistory interface {
	// Store appends a record for a model/capability pair
	Store(ctx context.Context, modelID string, capability model.Capability, record model.PerformanceRecord) error

	// LoadSince returns all records with a timestamp at or after cutoff
	LoadSince(ctx context.Context, cutoff time.Time) ([]StoredRecord, error)

	// DeleteBefore removes records older than the specified time
	DeleteBefore(ctx context.Context, before time.Time) error

	// Close releases the underlying store
	Close() error
}

// SQLitePerformanceHistory implements PerformanceHistory using SQLite
type SQLitePerformanceHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLitePerformanceHistory opens (or creates) the history database
func NewSQLitePerformanceHistory(logger *zap.Logger, dbPath string) (*SQLitePerformanceHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLitePerformanceHistory{
		logger: logger.Named("performance-history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLitePerformanceHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS performance_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			success INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			resource_usage REAL NOT NULL,
			recorded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_performance_records_model ON performance_records(model_id, capability);
		CREATE INDEX IF NOT EXISTS idx_performance_records_recorded_at ON performance_records(recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements PerformanceHistory.Store
func (s *SQLitePerformanceHistory) Store(ctx context.Context, modelID string, capability model.Capability, record model.PerformanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_records (
			model_id, capability, success, latency_ms, resource_usage, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		modelID,
		string(capability),
		record.Success,
		record.Latency.Milliseconds(),
		record.ResourceUsage,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to store performance record: %w", err)
	}
	return nil
}

// LoadSince implements PerformanceHistory.LoadSince
func (s *SQLitePerformanceHistory) LoadSince(ctx context.Context, cutoff time.Time) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_id, capability, success, latency_ms, resource_usage, recorded_at
		FROM performance_records
		WHERE recorded_at >= ?
		ORDER BY recorded_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var (
			rec       StoredRecord
			cap       string
			latencyMs int64
		)
		if err := rows.Scan(&rec.ModelID, &cap, &rec.Record.Success, &latencyMs, &rec.Record.ResourceUsage, &rec.Record.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan performance record: %w", err)
		}
		rec.Capability = model.Capability(cap)
		rec.Record.Latency = time.Duration(latencyMs) * time.Millisecond
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteBefore implements PerformanceHistory.DeleteBefore
func (s *SQLitePerformanceHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM performance_records WHERE recorded_at < ?`, before)
	if err != nil {
		return fmt.Errorf("failed to delete old records: %w", err)
	}

	if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
		s.logger.Info("Pruned old performance records", zap.Int64("count", deleted))
	}
	return nil
}

// Close closes the underlying database
func (s *SQLitePerformanceHistory) Close() error {
	return s.db.Close()
}
