package repository

import (
	"context"

	"callrecorder/internal/domain"
)

// RecordingRepository stores metadata for finalized recordings so the
// streaming endpoint resolves opaque ids instead of raw paths.
type RecordingRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, rec *domain.Recording) error
	Get(ctx context.Context, id string) (*domain.Recording, error)
	List(ctx context.Context) ([]domain.Recording, error)
	ListByOwner(ctx context.Context, ownerRecordID string) ([]domain.Recording, error)
	SetS3Location(ctx context.Context, id, location string) error
	Delete(ctx context.Context, id string) error
}
