// Package store persists screenshots, window events, batches, observations and settings in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/erg0nix/glance/internal/core"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertScreenshot registers a captured screenshot. A file path that is already known yields
// ErrDuplicate.
func (s *Store) InsertScreenshot(ctx context.Context, shot core.Screenshot) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO screenshots(captured_at, file_path, file_size_bytes, app_name, window_title, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(file_path) DO NOTHING`,
		shot.CapturedAt, shot.FilePath, shot.FileSizeBytes, shot.AppName, shot.WindowTitle, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert screenshot: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("screenshot %s: %w", shot.FilePath, ErrDuplicate)
	}

	return res.LastInsertId()
}

// FetchUnprocessedScreenshots returns screenshots captured at or after sinceTs that no batch has
// claimed yet, oldest first.
func (s *Store) FetchUnprocessedScreenshots(ctx context.Context, sinceTs int64, limit int) ([]core.Screenshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.captured_at, s.file_path, s.file_size_bytes, s.app_name, s.window_title
FROM screenshots s
WHERE s.captured_at >= ?
  AND NOT EXISTS (SELECT 1 FROM batch_screenshots bs WHERE bs.screenshot_id = s.id)
ORDER BY s.captured_at ASC, s.id ASC
LIMIT ?`, sinceTs, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query unprocessed screenshots: %w", err)
	}
	defer rows.Close()

	var out []core.Screenshot
	for rows.Next() {
		var shot core.Screenshot
		if err := rows.Scan(&shot.ID, &shot.CapturedAt, &shot.FilePath, &shot.FileSizeBytes, &shot.AppName, &shot.WindowTitle); err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		out = append(out, shot)
	}

	return out, rows.Err()
}

func (s *Store) InsertWindowEvent(ctx context.Context, event core.WindowEvent) error {
	if strings.TrimSpace(event.ToApp) == "" {
		return errors.New("window event requires an app name")
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO window_events(timestamp, to_app, to_title) VALUES (?, ?, ?)`,
		event.Timestamp, event.ToApp, event.ToTitle)
	if err != nil {
		return fmt.Errorf("insert window event: %w", err)
	}
	return nil
}

// WindowSwitchEvents returns events with startTs <= timestamp <= endTs in time order.
func (s *Store) WindowSwitchEvents(ctx context.Context, startTs, endTs int64, limit int) ([]core.WindowEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, to_app, to_title
FROM window_events
WHERE timestamp >= ? AND timestamp <= ?
ORDER BY timestamp ASC, id ASC
LIMIT ?`, startTs, endTs, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query window events: %w", err)
	}
	defer rows.Close()

	var out []core.WindowEvent
	for rows.Next() {
		var event core.WindowEvent
		if err := rows.Scan(&event.Timestamp, &event.ToApp, &event.ToTitle); err != nil {
			return nil, fmt.Errorf("scan window event: %w", err)
		}
		out = append(out, event)
	}

	return out, rows.Err()
}

// SaveBatchWithScreenshots stores a pending batch and links the screenshots to it in one
// transaction. A screenshot already claimed by another batch fails the whole save.
func (s *Store) SaveBatchWithScreenshots(ctx context.Context, startTs, endTs int64, screenshotIDs []int64) (int64, error) {
	if len(screenshotIDs) == 0 {
		return 0, core.ErrEmptyBatch
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	res, err := tx.ExecContext(ctx, `
INSERT INTO batches(start_ts, end_ts, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		startTs, endTs, core.BatchPending, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}

	batchID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("batch id: %w", err)
	}

	for _, id := range screenshotIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO batch_screenshots(batch_id, screenshot_id) VALUES (?, ?)`, batchID, id); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return 0, fmt.Errorf("screenshot %d already batched: %w", id, ErrDuplicate)
			}
			return 0, fmt.Errorf("link screenshot %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}

	return batchID, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID int64, status core.BatchStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batches SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, s.now().Unix(), batchID)
	if err != nil {
		return fmt.Errorf("update batch %d: %w", batchID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %d: %w", batchID, ErrNotFound)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID int64) (core.BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, batchSelect+` WHERE b.id = ? GROUP BY b.id`, batchID)

	record, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BatchRecord{}, fmt.Errorf("batch %d: %w", batchID, ErrNotFound)
	}
	return record, err
}

// ListBatches returns the most recent batches first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]core.BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, batchSelect+` GROUP BY b.id ORDER BY b.start_ts DESC, b.id DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []core.BatchRecord
	for rows.Next() {
		record, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}

	return out, rows.Err()
}

const batchSelect = `
SELECT b.id, b.start_ts, b.end_ts, b.status, b.error, b.created_at, COUNT(bs.screenshot_id)
FROM batches b
LEFT JOIN batch_screenshots bs ON bs.batch_id = b.id`

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (core.BatchRecord, error) {
	var record core.BatchRecord
	var status string
	if err := row.Scan(&record.ID, &record.StartTs, &record.EndTs, &status, &record.Error, &record.CreatedAt, &record.ScreenshotCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, err
		}
		return record, fmt.Errorf("scan batch: %w", err)
	}
	record.Status = core.BatchStatus(status)
	return record, nil
}

func (s *Store) SaveObservation(ctx context.Context, obs core.Observation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO observations(batch_id, start_ts, end_ts, text, model_label, context_type, entities_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.BatchID, obs.StartTs, obs.EndTs, obs.Text, obs.ModelLabel, obs.ContextType, obs.EntitiesJSON, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert observation: %w", err)
	}
	return res.LastInsertId()
}

// ListObservations returns a batch's observations in time order.
func (s *Store) ListObservations(ctx context.Context, batchID int64) ([]core.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, batch_id, start_ts, end_ts, text, model_label, context_type, entities_json, created_at
FROM observations
WHERE batch_id = ?
ORDER BY start_ts ASC, id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []core.Observation
	for rows.Next() {
		var obs core.Observation
		if err := rows.Scan(&obs.ID, &obs.BatchID, &obs.StartTs, &obs.EndTs, &obs.Text, &obs.ModelLabel, &obs.ContextType, &obs.EntitiesJSON, &obs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, obs)
	}

	return out, rows.Err()
}

// GetSetting reports whether key is set and its value.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
