package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"

	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// Error is the class of all ledger errors.
var Error = errs.Class("ledger")

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// DB is the run ledger.
type DB struct {
	*sql.DB
}

// New opens (creating if needed) the ledger at path.
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		_ = sqlDB.Close()
		return nil, Error.Wrap(err)
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			state TEXT NOT NULL,
			source_user TEXT,
			target_user TEXT,
			archive_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS items (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			source_record_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			size INTEGER NOT NULL,
			target_record_id TEXT NOT NULL DEFAULT '',
			content_version_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failure_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, idx)
		);
		CREATE INDEX IF NOT EXISTS idx_items_status ON items(run_id, status);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
	`)
	return err
}

// CreateRun inserts a new run.
func (db *DB) CreateRun(run *models.Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, started_at, state, source_user, target_user)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC(), run.State, run.SourceUser, run.TargetUser)
	return Error.Wrap(err)
}

// FinishRun records the terminal state of a run.
func (db *DB) FinishRun(runID, state, errMsg string) error {
	res, err := db.Exec(`
		UPDATE runs
		SET state = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, state, errMsg, time.Now().UTC(), runID)
	if err != nil {
		return Error.Wrap(err)
	}
	return expectOne(res)
}

// SetArchivePath records where the run's archive was stored.
func (db *DB) SetArchivePath(runID, path string) error {
	res, err := db.Exec(`UPDATE runs SET archive_path = ? WHERE id = ?`, path, runID)
	if err != nil {
		return Error.Wrap(err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if n == 0 {
		return Error.Wrap(ErrRunNotFound)
	}
	return nil
}

// SaveItems saves the items of a run and their outcomes in a single
// transaction. outcomes may be shorter than items; missing outcomes are
// stored as pending.
func (db *DB) SaveItems(runID string, items []models.TransferItem, outcomes []models.Outcome) error {
	tx, err := db.Begin()
	if err != nil {
		return Error.Wrap(err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO items (run_id, idx, source_record_id, filename, size,
			target_record_id, content_version_id, status, failure_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return Error.Wrap(err)
	}
	defer stmt.Close()

	for i, item := range items {
		outcome := models.Outcome{Status: models.StatusPending}
		if i < len(outcomes) {
			outcome = outcomes[i]
		}
		_, err = stmt.Exec(
			runID,
			i,
			item.SourceRecordID,
			item.Filename,
			item.Size(),
			outcome.TargetRecordID,
			outcome.ContentVersionID,
			outcome.Status,
			string(outcome.Kind),
			outcome.Error,
		)
		if err != nil {
			return Error.Wrap(err)
		}
	}

	return Error.Wrap(tx.Commit())
}

// GetRun returns one run.
func (db *DB) GetRun(runID string) (*models.Run, error) {
	row := db.QueryRow(`
		SELECT id, started_at, finished_at, state, source_user, target_user, archive_path, error
		FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Error.Wrap(ErrRunNotFound)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, started_at, finished_at, state, source_user, target_user, archive_path, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		runs = append(runs, *run)
	}
	return runs, Error.Wrap(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		run      models.Run
		finished sql.NullTime
		src, tgt sql.NullString
	)
	err := s.Scan(&run.ID, &run.StartedAt, &finished, &run.State, &src, &tgt, &run.ArchivePath, &run.Error)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	run.SourceUser = src.String
	run.TargetUser = tgt.String
	return &run, nil
}

// GetItems returns the items of a run in input order, optionally
// restricted to one status.
func (db *DB) GetItems(runID, status string) ([]models.ItemRecord, error) {
	rows, err := db.Query(`
		SELECT source_record_id, filename, size, target_record_id, content_version_id,
			status, failure_kind, error
		FROM items
		WHERE run_id = ? AND (? = '' OR status = ?)
		ORDER BY idx
	`, runID, status, status)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	var items []models.ItemRecord
	for rows.Next() {
		var item models.ItemRecord
		err = rows.Scan(
			&item.SourceRecordID,
			&item.Filename,
			&item.Size,
			&item.TargetRecordID,
			&item.ContentVersionID,
			&item.Status,
			&item.FailureKind,
			&item.Error,
		)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		items = append(items, item)
	}
	return items, Error.Wrap(rows.Err())
}

// GetFailedItems returns the failed items of a run.
func (db *DB) GetFailedItems(runID string) ([]models.ItemRecord, error) {
	return db.GetItems(runID, models.StatusFailed)
}

// GetStats returns statistics about the items of a run
func (db *DB) GetStats(runID string) (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRow(`
		SELECT
			COUNT(*) as total_files,
			COALESCE(SUM(size), 0) as total_size,
			COUNT(CASE WHEN status = 'uploaded' THEN 1 END) as uploaded_files,
			COALESCE(SUM(CASE WHEN status = 'uploaded' THEN size ELSE 0 END), 0) as uploaded_size,
			COUNT(CASE WHEN status = 'skipped' THEN 1 END) as skipped_files,
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN size ELSE 0 END), 0) as skipped_size,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_files,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN size ELSE 0 END), 0) as failed_size
		FROM items
		WHERE run_id = ?
	`, runID).Scan(
		&stats.TotalFiles,
		&stats.TotalSize,
		&stats.UploadedFiles,
		&stats.UploadedSize,
		&stats.SkippedFiles,
		&stats.SkippedSize,
		&stats.FailedFiles,
		&stats.FailedSize,
	)
	if err != nil {
		return nil, Error.New("failed to get stats: %v", err)
	}
	return &stats, nil
}
