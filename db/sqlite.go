package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rainguard/ml"
)

const schema = `
    CREATE TABLE IF NOT EXISTS rainfall_records (
        id INTEGER PRIMARY KEY,
        region TEXT NOT NULL,
        year INTEGER NOT NULL,
        jan REAL, feb REAL, mar REAL, apr REAL, may REAL, jun REAL,
        jul REAL, aug REAL, sep REAL, oct REAL, nov REAL, dec REAL,
        jan_feb REAL,
        mar_may REAL,
        jun_sep REAL,
        annual REAL NOT NULL,
        UNIQUE(region, year)
    );
    CREATE INDEX IF NOT EXISTS idx_rainfall_year ON rainfall_records(year);
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        mode TEXT NOT NULL,
        label TEXT NOT NULL,
        class_index INTEGER NOT NULL,
        confidence REAL NOT NULL,
        annual REAL,
        missing TEXT DEFAULT '',
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        model_type VARCHAR(50),
        accuracy REAL,
        macro_f1 REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        artifact_path TEXT,
        trained_at DATETIME
    );
    `

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("database not initialized")

// Store is the SQLite persistence layer for rainfall records, prediction
// history and training runs.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping checks the connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// SaveRecords upserts rainfall records keyed by region and year.
func (s *Store) SaveRecords(ctx context.Context, records []ml.RainfallRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR REPLACE INTO rainfall_records (
            region, year, jan, feb, mar, apr, may, jun, jul, aug, sep, oct, nov, dec,
            jan_feb, mar_may, jun_sep, annual
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		m := r.Months
		_, err := stmt.ExecContext(ctx,
			r.Region, r.Year, m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8], m[9], m[10], m[11],
			r.JanFeb, r.MarMay, r.JunSep, r.Annual)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save %s %d: %w", r.Region, r.Year, err)
		}
	}
	return tx.Commit()
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rainfall_records`).Scan(&n)
	return n, err
}

// LoadRecords returns every stored record ordered by region and year.
func (s *Store) LoadRecords(ctx context.Context) ([]ml.RainfallRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT region, year, jan, feb, mar, apr, may, jun, jul, aug, sep, oct, nov, dec,
               jan_feb, mar_may, jun_sep, annual
        FROM rainfall_records
        ORDER BY region, year`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ml.RainfallRecord
	for rows.Next() {
		var r ml.RainfallRecord
		m := &r.Months
		if err := rows.Scan(&r.Region, &r.Year,
			&m[0], &m[1], &m[2], &m[3], &m[4], &m[5], &m[6], &m[7], &m[8], &m[9], &m[10], &m[11],
			&r.JanFeb, &r.MarMay, &r.JunSep, &r.Annual); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// AnnualPoint is one point of an annual rainfall series.
type AnnualPoint struct {
	Year   int     `json:"year"`
	Annual float64 `json:"annual"`
}

// AnnualSeries returns annual rainfall from fromYear onwards. With an empty
// region the values of all regions are averaged per year.
func (s *Store) AnnualSeries(ctx context.Context, region string, fromYear int) ([]AnnualPoint, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	query := `
        SELECT year, AVG(annual)
        FROM rainfall_records
        WHERE year >= ?`
	args := []any{fromYear}
	if region != "" {
		query += ` AND region = ?`
		args = append(args, region)
	}
	query += ` GROUP BY year ORDER BY year`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	series := make([]AnnualPoint, 0)
	for rows.Next() {
		var p AnnualPoint
		if err := rows.Scan(&p.Year, &p.Annual); err != nil {
			return nil, err
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// Regions lists the distinct regions in the dataset.
func (s *Store) Regions(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT region FROM rainfall_records ORDER BY region`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regions := make([]string, 0)
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// PredictionRecord is one row of prediction history.
type PredictionRecord struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Label      string    `json:"label"`
	ClassIndex int       `json:"class_index"`
	Confidence float64   `json:"confidence"`
	Annual     float64   `json:"annual"`
	Missing    []string  `json:"missing_features,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, p PredictionRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	if p.ID == "" {
		return errors.New("prediction id required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (id, mode, label, class_index, confidence, annual, missing, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Mode, p.Label, p.ClassIndex, p.Confidence, p.Annual,
		strings.Join(p.Missing, ","), p.CreatedAt.UTC())
	return err
}

// RecentPredictions returns up to limit predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, mode, label, class_index, confidence, annual, missing, created_at
        FROM predictions
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var p PredictionRecord
		var missing string
		if err := rows.Scan(&p.ID, &p.Mode, &p.Label, &p.ClassIndex, &p.Confidence, &p.Annual, &missing, &p.CreatedAt); err != nil {
			return nil, err
		}
		if missing != "" {
			p.Missing = strings.Split(missing, ",")
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

type TrainingLog struct {
	ModelType    string    `json:"model_type"`
	Accuracy     float64   `json:"accuracy"`
	MacroF1      float64   `json:"macro_f1"`
	TrainRows    int       `json:"train_rows"`
	TestRows     int       `json:"test_rows"`
	ArtifactPath string    `json:"artifact_path"`
	TrainedAt    time.Time `json:"trained_at"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, l TrainingLog) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_type, accuracy, macro_f1, train_rows, test_rows, artifact_path, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ModelType, l.Accuracy, l.MacroF1, l.TrainRows, l.TestRows, l.ArtifactPath, l.TrainedAt.UTC())
	return err
}

// LoadTrainingLog returns training runs, newest first.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_type, accuracy, macro_f1, train_rows, test_rows, artifact_path, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var l TrainingLog
		if err := rows.Scan(&l.ModelType, &l.Accuracy, &l.MacroF1, &l.TrainRows, &l.TestRows, &l.ArtifactPath, &l.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
