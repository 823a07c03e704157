package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"flightdelay/flight"
)

var database *sql.DB

// InitDB opens the SQLite database in WAL mode and creates the tables.
func InitDB(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var err error
	database, err = sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return err
	}
	database.SetMaxOpenConns(4)
	database.SetMaxIdleConns(2)
	database.SetConnMaxLifetime(time.Hour)

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        version VARCHAR(36) NOT NULL,
        model_name VARCHAR(50),
        schema_version VARCHAR(50),
        accuracy REAL,
        precision REAL,
        recall REAL,
        f1 REAL,
        search_f1 REAL,
        params TEXT,
        trained_at DATETIME,
        data_points INTEGER,
        positives INTEGER
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        version VARCHAR(36) NOT NULL,
        carrier TEXT,
        flight_type VARCHAR(1),
        month INTEGER,
        predicted_label INTEGER,
        probability REAL,
        timestamp DATETIME
    );
    CREATE TABLE IF NOT EXISTS data_quality (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        version VARCHAR(36) NOT NULL,
        rule TEXT NOT NULL,
        row_index INTEGER,
        message TEXT,
        created_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_version ON predictions(version);
    CREATE INDEX IF NOT EXISTS idx_quality_version ON data_quality(version, rule);
    `

	if _, err = database.Exec(query); err != nil {
		return multierr.Append(err, Close())
	}
	return nil
}

// Close releases the database handle.
func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

type TrainingLog struct {
	Version       string    `json:"version"`
	ModelName     string    `json:"model_name"`
	SchemaVersion string    `json:"schema_version"`
	Accuracy      float64   `json:"accuracy"`
	Precision     float64   `json:"precision"`
	Recall        float64   `json:"recall"`
	F1            float64   `json:"f1"`
	SearchF1      float64   `json:"search_f1"`
	Params        string    `json:"params"`
	TrainedAt     time.Time `json:"trained_at"`
	DataPoints    int       `json:"data_points"`
	Positives     int       `json:"positives"`
}

func SaveTrainingLog(entry TrainingLog) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if entry.Version == "" {
		return errors.New("version required")
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	_, err := database.Exec(`
        INSERT INTO training_log (
            version, model_name, schema_version, accuracy, precision, recall, f1,
            search_f1, params, trained_at, data_points, positives
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		entry.Version,
		entry.ModelName,
		entry.SchemaVersion,
		entry.Accuracy,
		entry.Precision,
		entry.Recall,
		entry.F1,
		entry.SearchF1,
		entry.Params,
		entry.TrainedAt,
		entry.DataPoints,
		entry.Positives,
	)
	return err
}

// LoadTrainingLog returns the most recent runs first; limit <= 0 returns all.
func LoadTrainingLog(limit int) ([]TrainingLog, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := database.Query(`
        SELECT version, model_name, schema_version, accuracy, precision, recall, f1,
               search_f1, params, trained_at, data_points, positives
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var params sql.NullString
		if err := rows.Scan(&log.Version, &log.ModelName, &log.SchemaVersion, &log.Accuracy, &log.Precision,
			&log.Recall, &log.F1, &log.SearchF1, &params, &log.TrainedAt, &log.DataPoints, &log.Positives); err != nil {
			return nil, err
		}
		log.Params = params.String
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func SavePredictions(version string, records []flight.Record, predictions []int, probabilities []float64) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if len(predictions) != len(records) || (probabilities != nil && len(probabilities) != len(records)) {
		return errors.New("records/predictions length mismatch")
	}
	if version == "" {
		return errors.New("version required")
	}
	if len(predictions) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
        INSERT INTO predictions (
            version, carrier, flight_type, month, predicted_label, probability, timestamp
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, label := range predictions {
		var proba sql.NullFloat64
		if probabilities != nil {
			proba = sql.NullFloat64{Float64: probabilities[i], Valid: true}
		}
		r := records[i]
		if _, err := stmt.Exec(version, r.Carrier, r.FlightType, r.Month, label, proba, now); err != nil {
			return multierr.Append(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// CountPredictions returns how many predictions were served by version.
func CountPredictions(version string) (int, error) {
	if database == nil {
		return 0, errors.New("database not initialized")
	}
	var n int
	err := database.QueryRow(`SELECT COUNT(*) FROM predictions WHERE version = ?`, version).Scan(&n)
	return n, err
}

// QualityIssue is one data quality finding recorded against a training run.
type QualityIssue struct {
	Rule    string `json:"rule"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func SaveQualityIssues(version string, issues []QualityIssue) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if version == "" {
		return errors.New("version required")
	}
	if len(issues) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
        INSERT INTO data_quality (version, rule, row_index, message, created_at)
        VALUES (?, ?, ?, ?, ?)
    `)
	if err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, issue := range issues {
		if _, err := stmt.Exec(version, issue.Rule, issue.Row, issue.Message, now); err != nil {
			return multierr.Append(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// LoadQualityIssues returns the issues recorded for version in insertion order.
func LoadQualityIssues(version string) ([]QualityIssue, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := database.Query(`
        SELECT rule, row_index, message FROM data_quality WHERE version = ? ORDER BY id
    `, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issues := make([]QualityIssue, 0)
	for rows.Next() {
		var issue QualityIssue
		var msg sql.NullString
		if err := rows.Scan(&issue.Rule, &issue.Row, &msg); err != nil {
			return nil, err
		}
		issue.Message = msg.String
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}
