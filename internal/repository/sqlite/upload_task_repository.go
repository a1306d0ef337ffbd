package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"callrecorder/internal/domain"
	"callrecorder/internal/repository"
)

const createUploadTasksTable = `
CREATE TABLE IF NOT EXISTS upload_tasks (
	id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	owner_record_id TEXT NOT NULL,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	chunk_size INTEGER NOT NULL DEFAULT 0,
	session_id TEXT NOT NULL DEFAULT '',
	acked_chunks INTEGER NOT NULL DEFAULT 0,
	acked_bytes INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	attempt INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	succeeded_at DATETIME NULL
);
`

type UploadTaskRepository struct {
	db *sql.DB
}

func NewUploadTaskRepository(db *sql.DB) repository.UploadTaskRepository {
	return &UploadTaskRepository{db: db}
}

func (r *UploadTaskRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUploadTasksTable); err != nil {
		return fmt.Errorf("create upload_tasks table: %w", err)
	}
	return nil
}

func (r *UploadTaskRepository) Create(ctx context.Context, task *domain.UploadTask) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO upload_tasks (id, file_path, owner_record_id, total_bytes, chunk_size, session_id, acked_chunks, acked_bytes, status, attempt, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.FilePath,
		task.OwnerRecordID,
		task.TotalBytes,
		task.ChunkSize,
		task.SessionID,
		task.AckedChunks,
		task.AckedBytes,
		string(task.Status),
		task.Attempt,
		task.ErrorMessage,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload task: %w", err)
	}
	return nil
}

func (r *UploadTaskRepository) Get(ctx context.Context, id string) (*domain.UploadTask, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, file_path, owner_record_id, total_bytes, chunk_size, session_id, acked_chunks, acked_bytes, status, attempt, error_message, created_at, updated_at, succeeded_at
FROM upload_tasks
WHERE id=?`,
		id,
	)
	return scanUploadTask(row)
}

func (r *UploadTaskRepository) List(ctx context.Context) ([]domain.UploadTask, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, file_path, owner_record_id, total_bytes, chunk_size, session_id, acked_chunks, acked_bytes, status, attempt, error_message, created_at, updated_at, succeeded_at
FROM upload_tasks
ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query upload tasks: %w", err)
	}
	defer rows.Close()

	return collectUploadTasks(rows)
}

func (r *UploadTaskRepository) ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.UploadTask, error) {
	if len(statuses) == 0 {
		return []domain.UploadTask{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`
SELECT id, file_path, owner_record_id, total_bytes, chunk_size, session_id, acked_chunks, acked_bytes, status, attempt, error_message, created_at, updated_at, succeeded_at
FROM upload_tasks
WHERE status IN (%s)
ORDER BY created_at ASC`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query upload tasks by status: %w", err)
	}
	defer rows.Close()

	return collectUploadTasks(rows)
}

func (r *UploadTaskRepository) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE upload_tasks
SET status=?, error_message=?, updated_at=?
WHERE id=?`,
		string(status),
		msg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (r *UploadTaskRepository) SetSession(ctx context.Context, id, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE upload_tasks
SET session_id=?, acked_chunks=0, acked_bytes=0, updated_at=?
WHERE id=?`,
		sessionID,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set task session: %w", err)
	}
	return nil
}

func (r *UploadTaskRepository) UpdateAck(ctx context.Context, id string, ackedChunks, ackedBytes int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE upload_tasks
SET acked_chunks=?, acked_bytes=?, updated_at=?
WHERE id=?`,
		ackedChunks,
		ackedBytes,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update task ack: %w", err)
	}
	return nil
}

func (r *UploadTaskRepository) UpdateAttempt(ctx context.Context, id string, attempt int) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE upload_tasks
SET attempt=?, updated_at=?
WHERE id=?`,
		attempt,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update task attempt: %w", err)
	}
	return nil
}

func (r *UploadTaskRepository) MarkSucceeded(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
UPDATE upload_tasks
SET status=?, error_message='', succeeded_at=?, updated_at=?
WHERE id=?`,
		string(domain.TaskStatusSucceeded),
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark task succeeded: %w", err)
	}
	return nil
}

func (r *UploadTaskRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("task not found")
	}
	return nil
}

func collectUploadTasks(rows *sql.Rows) ([]domain.UploadTask, error) {
	var tasks []domain.UploadTask
	for rows.Next() {
		task, err := scanUploadTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanUploadTask(scanner interface {
	Scan(dest ...any) error
}) (*domain.UploadTask, error) {
	var (
		task        domain.UploadTask
		status      string
		createdAt   time.Time
		updatedAt   time.Time
		succeededAt sql.NullTime
	)

	if err := scanner.Scan(
		&task.ID,
		&task.FilePath,
		&task.OwnerRecordID,
		&task.TotalBytes,
		&task.ChunkSize,
		&task.SessionID,
		&task.AckedChunks,
		&task.AckedBytes,
		&status,
		&task.Attempt,
		&task.ErrorMessage,
		&createdAt,
		&updatedAt,
		&succeededAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task not found")
		}
		return nil, fmt.Errorf("scan upload task: %w", err)
	}

	task.Status = domain.TaskStatus(status)
	task.CreatedAt = createdAt.Local()
	task.UpdatedAt = updatedAt.Local()
	if succeededAt.Valid {
		t := succeededAt.Time.Local()
		task.SucceededAt = &t
	}

	return &task, nil
}
