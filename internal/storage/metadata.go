package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job is not in the index
var ErrNotFound = errors.New("transcript not found")

// Record is one row of the transcript index
type Record struct {
	JobID       string    `json:"job_id"`
	RequestName string    `json:"request_name"`
	SourceType  string    `json:"source_type"`
	Status      string    `json:"status"`
	Language    string    `json:"language"`
	Windows     int       `json:"windows"`
	Duration    float64   `json:"duration"`
	WordCount   int       `json:"word_count"`
	LocalPath   string    `json:"local_path"`
	ResultPath  string    `json:"result_path"`
	GDriveURL   string    `json:"gdrive_url"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MetadataDB handles SQLite database operations
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB creates a new metadata database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; workers and handlers share this handle
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		request_name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		status TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		windows INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		local_path TEXT NOT NULL DEFAULT '',
		result_path TEXT NOT NULL DEFAULT '',
		gdrive_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_created_at ON transcripts(created_at);
	CREATE INDEX IF NOT EXISTS idx_request_name ON transcripts(request_name);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// CreateJob inserts a freshly queued job
func (mdb *MetadataDB) CreateJob(jobID, requestName, sourceType, status, language string) error {
	now := time.Now().UTC()
	query := `
	INSERT INTO transcripts (job_id, request_name, source_type, status, language, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := mdb.db.Exec(query, jobID, requestName, sourceType, status, language, now, now); err != nil {
		return fmt.Errorf("failed to create job %s: %w", jobID, err)
	}
	return nil
}

// UpdateStatus changes the status (and error message) of a job
func (mdb *MetadataDB) UpdateStatus(jobID, status, errMsg string) error {
	query := `UPDATE transcripts SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`
	res, err := mdb.db.Exec(query, status, errMsg, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

// RenameJob updates the request name and status of a job registered before
// its input was acquired
func (mdb *MetadataDB) RenameJob(jobID, requestName, status string) error {
	query := `UPDATE transcripts SET request_name = ?, status = ?, updated_at = ? WHERE job_id = ?`
	res, err := mdb.db.Exec(query, requestName, status, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to rename job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

// SaveTranscript records the outcome of a run
func (mdb *MetadataDB) SaveTranscript(rec *Record) error {
	query := `
	UPDATE transcripts SET status = ?, language = ?, windows = ?, duration = ?, word_count = ?,
		local_path = ?, result_path = ?, gdrive_url = ?, error = ?, updated_at = ?
	WHERE job_id = ?
	`
	res, err := mdb.db.Exec(query, rec.Status, rec.Language, rec.Windows, rec.Duration, rec.WordCount,
		rec.LocalPath, rec.ResultPath, rec.GDriveURL, rec.Error, time.Now().UTC(), rec.JobID)
	if err != nil {
		return fmt.Errorf("failed to save transcript metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.JobID)
	}
	return nil
}

const selectColumns = `
	SELECT job_id, request_name, source_type, status, language, windows, duration, word_count,
		local_path, result_path, gdrive_url, error, created_at, updated_at
	FROM transcripts`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.JobID, &rec.RequestName, &rec.SourceType, &rec.Status, &rec.Language,
		&rec.Windows, &rec.Duration, &rec.WordCount, &rec.LocalPath, &rec.ResultPath,
		&rec.GDriveURL, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetTranscript retrieves transcript metadata by job ID
func (mdb *MetadataDB) GetTranscript(jobID string) (*Record, error) {
	rec, err := scanRecord(mdb.db.QueryRow(selectColumns+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return rec, nil
}

// ListTranscripts returns the most recent transcripts first
func (mdb *MetadataDB) ListTranscripts(limit int) ([]*Record, error) {
	rows, err := mdb.db.Query(selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	transcripts := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, rec)
	}
	return transcripts, rows.Err()
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
