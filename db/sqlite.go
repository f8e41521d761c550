package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PredictionRecord is one scored customer as written to the audit log.
type PredictionRecord struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Probability   float64   `json:"probability"`
	RiskLevel     string    `json:"risk_level"`
	RevenueAtRisk float64   `json:"revenue_at_risk"`
	Sales         float64   `json:"sales"`
	Region        string    `json:"region"`
	Subregion     string    `json:"subregion"`
	Industry      string    `json:"industry"`
	Segment       string    `json:"segment"`
	CreatedAt     time.Time `json:"created_at"`
}

// PredictionLog stores every prediction served, across sessions.
type PredictionLog struct {
	database *sql.DB
}

// Open creates the database file and its schema if needed.
func Open(path string) (*PredictionLog, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids "database is locked".
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        probability REAL NOT NULL,
        risk_level TEXT NOT NULL,
        revenue_at_risk REAL NOT NULL,
        sales REAL DEFAULT 0,
        region TEXT DEFAULT '',
        subregion TEXT DEFAULT '',
        industry TEXT DEFAULT '',
        segment TEXT DEFAULT '',
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, err
	}
	return &PredictionLog{database: database}, nil
}

// Close releases the database.
func (l *PredictionLog) Close() error {
	return l.database.Close()
}

// Save inserts the record and fills its ID.
func (l *PredictionLog) Save(ctx context.Context, rec *PredictionRecord) error {
	if rec == nil {
		return errors.New("nil record")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := l.database.ExecContext(ctx, `
        INSERT INTO predictions (
            session_id, probability, risk_level, revenue_at_risk, sales,
            region, subregion, industry, segment, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Probability, rec.RiskLevel, rec.RevenueAtRisk, rec.Sales,
		rec.Region, rec.Subregion, rec.Industry, rec.Segment, rec.CreatedAt)
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// Recent returns the newest records first.
func (l *PredictionLog) Recent(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.database.QueryContext(ctx, `
        SELECT id, session_id, probability, risk_level, revenue_at_risk, sales,
               region, subregion, industry, segment, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var r PredictionRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Probability, &r.RiskLevel, &r.RevenueAtRisk, &r.Sales,
			&r.Region, &r.Subregion, &r.Industry, &r.Segment, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountByLevel returns how many logged predictions fall in each risk level.
func (l *PredictionLog) CountByLevel(ctx context.Context) (map[string]int, error) {
	rows, err := l.database.QueryContext(ctx, `
        SELECT risk_level, COUNT(*) FROM predictions GROUP BY risk_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[level] = n
	}
	return counts, rows.Err()
}
