package repository

import (
	"context"

	"callrecorder/internal/domain"
)

// UploadTaskRepository exposes persistence operations for UploadTask records.
// Durability across process restarts is the point: the agent must be able to
// resume a half-finished transfer from local state alone.
type UploadTaskRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, task *domain.UploadTask) error
	Get(ctx context.Context, id string) (*domain.UploadTask, error)
	List(ctx context.Context) ([]domain.UploadTask, error)
	ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.UploadTask, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, errorMessage *string) error
	SetSession(ctx context.Context, id, sessionID string) error
	UpdateAck(ctx context.Context, id string, ackedChunks, ackedBytes int64) error
	UpdateAttempt(ctx context.Context, id string, attempt int) error
	MarkSucceeded(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// PreferenceRepository persists the single last-working audio source value.
type PreferenceRepository interface {
	Init(ctx context.Context) error
	LastWorkingSource(ctx context.Context) (domain.Source, error)
	SetLastWorkingSource(ctx context.Context, source domain.Source) error
}
