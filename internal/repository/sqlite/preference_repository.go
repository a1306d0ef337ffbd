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

const createPreferencesTable = `
CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const lastWorkingSourceKey = "last_working_source"

type PreferenceRepository struct {
	db *sql.DB
}

func NewPreferenceRepository(db *sql.DB) repository.PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createPreferencesTable); err != nil {
		return fmt.Errorf("create preferences table: %w", err)
	}
	return nil
}

// LastWorkingSource returns the persisted source or "" when never recorded.
func (r *PreferenceRepository) LastWorkingSource(ctx context.Context) (domain.Source, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `
SELECT value FROM preferences WHERE key=?`, lastWorkingSourceKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query last working source: %w", err)
	}
	return domain.Source(value), nil
}

func (r *PreferenceRepository) SetLastWorkingSource(ctx context.Context, source domain.Source) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO preferences (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		lastWorkingSourceKey,
		string(source),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set last working source: %w", err)
	}
	return nil
}
