package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrecorder/internal/domain"
)

func openTestDB(t *testing.T) *UploadTaskRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewUploadTaskRepository(db).(*UploadTaskRepository)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestUploadTaskRoundTrip(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	task := &domain.UploadTask{
		ID:            "task-1",
		FilePath:      "/data/captures/a.m4a",
		OwnerRecordID: "lead-42",
		TotalBytes:    2506752,
		ChunkSize:     1 << 20,
		Status:        domain.TaskStatusPending,
	}
	require.NoError(t, repo.Create(ctx, task))

	got, err := repo.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.FilePath, got.FilePath)
	assert.Equal(t, task.OwnerRecordID, got.OwnerRecordID)
	assert.Equal(t, task.TotalBytes, got.TotalBytes)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Nil(t, got.SucceededAt)
	assert.Equal(t, int64(3), got.ChunkCount())

	_, err = repo.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestUploadTaskAckSurvivesReload(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	task := &domain.UploadTask{
		ID:            "task-1",
		FilePath:      "/data/a.m4a",
		OwnerRecordID: "lead-1",
		TotalBytes:    100,
		ChunkSize:     40,
		Status:        domain.TaskStatusInProgress,
	}
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.SetSession(ctx, task.ID, "sess-9"))
	require.NoError(t, repo.UpdateAck(ctx, task.ID, 2, 80))

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-9", got.SessionID)
	assert.Equal(t, int64(2), got.AckedChunks)
	assert.Equal(t, int64(80), got.AckedBytes)
}

func TestSetSessionResetsAck(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	task := &domain.UploadTask{
		ID:            "task-1",
		FilePath:      "/data/a.m4a",
		OwnerRecordID: "lead-1",
		TotalBytes:    100,
		ChunkSize:     40,
		Status:        domain.TaskStatusInProgress,
	}
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.SetSession(ctx, task.ID, "sess-old"))
	require.NoError(t, repo.UpdateAck(ctx, task.ID, 2, 80))

	// a fresh session means nothing is acknowledged yet
	require.NoError(t, repo.SetSession(ctx, task.ID, "sess-new"))
	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-new", got.SessionID)
	assert.Zero(t, got.AckedChunks)
	assert.Zero(t, got.AckedBytes)
}

func TestUploadTaskStatusTransitions(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	task := &domain.UploadTask{
		ID:            "task-1",
		FilePath:      "/data/a.m4a",
		OwnerRecordID: "lead-1",
		Status:        domain.TaskStatusPending,
	}
	require.NoError(t, repo.Create(ctx, task))

	msg := "gave up after 8 attempts"
	require.NoError(t, repo.UpdateStatus(ctx, task.ID, domain.TaskStatusFailed, &msg))
	require.NoError(t, repo.UpdateAttempt(ctx, task.ID, 8))

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, msg, got.ErrorMessage)
	assert.Equal(t, 8, got.Attempt)

	require.NoError(t, repo.MarkSucceeded(ctx, task.ID))
	got, err = repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.SucceededAt)
	assert.False(t, got.SucceededAt.IsZero())
}

func TestListByStatuses(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	for i, status := range []domain.TaskStatus{
		domain.TaskStatusPending,
		domain.TaskStatusInProgress,
		domain.TaskStatusSucceeded,
		domain.TaskStatusFailed,
	} {
		require.NoError(t, repo.Create(ctx, &domain.UploadTask{
			ID:            string(rune('a' + i)),
			FilePath:      "/data/a.m4a",
			OwnerRecordID: "lead-1",
			Status:        status,
		}))
	}

	unfinished, err := repo.ListByStatuses(ctx, domain.TaskStatusPending, domain.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Len(t, unfinished, 2)

	none, err := repo.ListByStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUploadTaskDelete(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.UploadTask{
		ID:            "task-1",
		FilePath:      "/data/a.m4a",
		OwnerRecordID: "lead-1",
		Status:        domain.TaskStatusPending,
	}))
	require.NoError(t, repo.Delete(ctx, "task-1"))
	assert.Error(t, repo.Delete(ctx, "task-1"))
}

func TestPreferenceUpsert(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewPreferenceRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))

	source, err := repo.LastWorkingSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Source(""), source, "no preference yet means empty")

	require.NoError(t, repo.SetLastWorkingSource(ctx, domain.SourceVoiceCommunication))
	source, err = repo.LastWorkingSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceVoiceCommunication, source)

	require.NoError(t, repo.SetLastWorkingSource(ctx, domain.SourceMic))
	source, err = repo.LastWorkingSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceMic, source)
}

func TestRecordingRepository(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "rec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRecordingRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))

	recs := []domain.Recording{
		{ID: "r1", OwnerRecordID: "lead-1", Filename: "a.m4a", Path: "/r/a.m4a", SizeBytes: 10},
		{ID: "r2", OwnerRecordID: "lead-1", Filename: "b.m4a", Path: "/r/b.m4a", SizeBytes: 20},
		{ID: "r3", OwnerRecordID: "lead-2", Filename: "c.m4a", Path: "/r/c.m4a", SizeBytes: 30},
	}
	for i := range recs {
		require.NoError(t, repo.Create(ctx, &recs[i]))
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byOwner, err := repo.ListByOwner(ctx, "lead-1")
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	require.NoError(t, repo.SetS3Location(ctx, "r1", "s3://bucket/key"))
	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/key", got.S3Location)

	require.NoError(t, repo.Delete(ctx, "r1"))
	_, err = repo.Get(ctx, "r1")
	assert.Error(t, err)
	assert.Error(t, repo.Delete(ctx, "r1"))
}
