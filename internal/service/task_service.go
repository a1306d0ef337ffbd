package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"callrecorder/internal/domain"
	"callrecorder/internal/repository"
)

// TaskService coordinates upload task operations backed by the local repository.
type TaskService interface {
	CreateTask(ctx context.Context, filePath, ownerRecordID string, chunkSize int64) (*domain.UploadTask, error)
	GetTask(ctx context.Context, id string) (*domain.UploadTask, error)
	ListTasks(ctx context.Context) ([]domain.UploadTask, error)
	ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.UploadTask, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, errMsg *string) error
	SetSession(ctx context.Context, id, sessionID string) error
	UpdateAck(ctx context.Context, id string, ackedChunks, ackedBytes int64) error
	UpdateAttempt(ctx context.Context, id string, attempt int) error
	MarkSucceeded(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
}

type taskService struct {
	tasks repository.UploadTaskRepository
}

func NewTaskService(tasks repository.UploadTaskRepository) TaskService {
	return &taskService{tasks: tasks}
}

func (s *taskService) CreateTask(ctx context.Context, filePath, ownerRecordID string, chunkSize int64) (*domain.UploadTask, error) {
	if filePath == "" {
		return nil, errors.New("file path is required")
	}
	if ownerRecordID == "" {
		return nil, errors.New("owner record id is required")
	}
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat upload file: %w", err)
	}

	task := &domain.UploadTask{
		ID:            uuid.NewString(),
		FilePath:      filePath,
		OwnerRecordID: ownerRecordID,
		TotalBytes:    info.Size(),
		ChunkSize:     chunkSize,
		Status:        domain.TaskStatusPending,
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *taskService) GetTask(ctx context.Context, id string) (*domain.UploadTask, error) {
	return s.tasks.Get(ctx, id)
}

func (s *taskService) ListTasks(ctx context.Context) ([]domain.UploadTask, error) {
	return s.tasks.List(ctx)
}

func (s *taskService) ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.UploadTask, error) {
	return s.tasks.ListByStatuses(ctx, statuses...)
}

func (s *taskService) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, errMsg *string) error {
	return s.tasks.UpdateStatus(ctx, id, status, errMsg)
}

func (s *taskService) SetSession(ctx context.Context, id, sessionID string) error {
	return s.tasks.SetSession(ctx, id, sessionID)
}

func (s *taskService) UpdateAck(ctx context.Context, id string, ackedChunks, ackedBytes int64) error {
	return s.tasks.UpdateAck(ctx, id, ackedChunks, ackedBytes)
}

func (s *taskService) UpdateAttempt(ctx context.Context, id string, attempt int) error {
	return s.tasks.UpdateAttempt(ctx, id, attempt)
}

func (s *taskService) MarkSucceeded(ctx context.Context, id string) error {
	return s.tasks.MarkSucceeded(ctx, id)
}

func (s *taskService) DeleteTask(ctx context.Context, id string) error {
	return s.tasks.Delete(ctx, id)
}
