package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
)

// UploadTask represents one local recording awaiting transfer to the server.
// Tasks are persisted so an interrupted transfer resumes after process restart.
type UploadTask struct {
	ID            string
	FilePath      string
	OwnerRecordID string
	TotalBytes    int64
	ChunkSize     int64
	SessionID     string
	AckedChunks   int64
	AckedBytes    int64
	Status        TaskStatus
	Attempt       int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SucceededAt   *time.Time
}

// ChunkCount reports how many chunks the task's file splits into.
func (t UploadTask) ChunkCount() int64 {
	if t.ChunkSize <= 0 || t.TotalBytes <= 0 {
		return 0
	}
	return (t.TotalBytes + t.ChunkSize - 1) / t.ChunkSize
}
