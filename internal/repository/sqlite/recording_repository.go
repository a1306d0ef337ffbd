package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callrecorder/internal/domain"
	"callrecorder/internal/repository"
)

const createRecordingsTable = `
CREATE TABLE IF NOT EXISTS recordings (
	id TEXT PRIMARY KEY,
	owner_record_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	s3_location TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recordings_owner ON recordings(owner_record_id);
`

type RecordingRepository struct {
	db *sql.DB
}

func NewRecordingRepository(db *sql.DB) repository.RecordingRepository {
	return &RecordingRepository{db: db}
}

func (r *RecordingRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRecordingsTable); err != nil {
		return fmt.Errorf("create recordings table: %w", err)
	}
	return nil
}

func (r *RecordingRepository) Create(ctx context.Context, rec *domain.Recording) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO recordings (id, owner_record_id, filename, path, size_bytes, s3_location, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.OwnerRecordID,
		rec.Filename,
		rec.Path,
		rec.SizeBytes,
		rec.S3Location,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (r *RecordingRepository) Get(ctx context.Context, id string) (*domain.Recording, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_record_id, filename, path, size_bytes, s3_location, created_at
FROM recordings
WHERE id=?`,
		id,
	)
	return scanRecording(row)
}

func (r *RecordingRepository) List(ctx context.Context) ([]domain.Recording, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_record_id, filename, path, size_bytes, s3_location, created_at
FROM recordings
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	return collectRecordings(rows)
}

func (r *RecordingRepository) ListByOwner(ctx context.Context, ownerRecordID string) ([]domain.Recording, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_record_id, filename, path, size_bytes, s3_location, created_at
FROM recordings
WHERE owner_record_id=?
ORDER BY created_at DESC`, ownerRecordID)
	if err != nil {
		return nil, fmt.Errorf("query recordings by owner: %w", err)
	}
	defer rows.Close()

	return collectRecordings(rows)
}

func (r *RecordingRepository) SetS3Location(ctx context.Context, id, location string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE recordings SET s3_location=? WHERE id=?`, location, id)
	if err != nil {
		return fmt.Errorf("set recording s3 location: %w", err)
	}
	return nil
}

func (r *RecordingRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recordings WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("recording not found")
	}
	return nil
}

func collectRecordings(rows *sql.Rows) ([]domain.Recording, error) {
	var recordings []domain.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, *rec)
	}
	return recordings, rows.Err()
}

func scanRecording(scanner interface {
	Scan(dest ...any) error
}) (*domain.Recording, error) {
	var (
		rec       domain.Recording
		createdAt time.Time
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.OwnerRecordID,
		&rec.Filename,
		&rec.Path,
		&rec.SizeBytes,
		&rec.S3Location,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("recording not found")
		}
		return nil, fmt.Errorf("scan recording: %w", err)
	}
	rec.CreatedAt = createdAt.Local()
	return &rec, nil
}
