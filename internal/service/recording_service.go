package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"callrecorder/internal/domain"
	"callrecorder/internal/repository"
)

// RecordingService manages finalized recording metadata and the backing files.
type RecordingService interface {
	CreateRecording(ctx context.Context, rec *domain.Recording) error
	GetRecording(ctx context.Context, id string) (*domain.Recording, error)
	ListRecordings(ctx context.Context, ownerRecordID string) ([]domain.Recording, error)
	SetS3Location(ctx context.Context, id, location string) error
	DeleteRecording(ctx context.Context, id string) (*domain.Recording, error)
}

type recordingService struct {
	recordings repository.RecordingRepository
}

func NewRecordingService(recordings repository.RecordingRepository) RecordingService {
	return &recordingService{recordings: recordings}
}

func (s *recordingService) CreateRecording(ctx context.Context, rec *domain.Recording) error {
	if rec == nil {
		return errors.New("recording is required")
	}
	if rec.ID == "" {
		return errors.New("recording id is required")
	}
	return s.recordings.Create(ctx, rec)
}

func (s *recordingService) GetRecording(ctx context.Context, id string) (*domain.Recording, error) {
	return s.recordings.Get(ctx, id)
}

func (s *recordingService) ListRecordings(ctx context.Context, ownerRecordID string) ([]domain.Recording, error) {
	if ownerRecordID != "" {
		return s.recordings.ListByOwner(ctx, ownerRecordID)
	}
	return s.recordings.List(ctx)
}

func (s *recordingService) SetS3Location(ctx context.Context, id, location string) error {
	return s.recordings.SetS3Location(ctx, id, location)
}

// DeleteRecording removes both the metadata row and the backing file. The
// returned recording carries the pre-delete state so callers can clean up
// remote copies.
func (s *recordingService) DeleteRecording(ctx context.Context, id string) (*domain.Recording, error) {
	rec, err := s.recordings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.recordings.Delete(ctx, id); err != nil {
		return nil, err
	}
	if rec.Path != "" {
		if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
			return rec, fmt.Errorf("remove recording file: %w", err)
		}
	}
	return rec, nil
}
