package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callrecorder/internal/domain"
	"callrecorder/internal/service"
	"callrecorder/internal/uploader"
)

// Transport is the subset of the upload client the queue depends on.
type Transport interface {
	Init(ctx context.Context, filename, ownerRecordID string) (string, error)
	Append(ctx context.Context, sessionID string, index int64, data []byte) (uploader.AppendResult, error)
	Finalize(ctx context.Context, sessionID string, expectedChunkCount int64, ownerRecordID string) (uploader.FinalizeResult, error)
	Cancel(ctx context.Context, sessionID string) error
}

// Manager drives persisted upload tasks to completion, tolerating process
// death, network loss, and partial transfers.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, taskID string) error
	Resume(ctx context.Context) error
	Retry(ctx context.Context, taskID string) error
	Cancel(ctx context.Context, taskID string) error
}

type Config struct {
	Workers     int
	MaxAttempts int
	Backoff     []time.Duration
	Logger      *logrus.Logger
	// OnSucceeded lets the CRM layer link the finished recording to its own
	// record. Optional.
	OnSucceeded func(task domain.UploadTask, result uploader.FinalizeResult)
}

type manager struct {
	cfg       Config
	tasks     service.TaskService
	transport Transport

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]*taskHandle
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, tasks service.TaskService, transport Transport) Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:       cfg,
		tasks:     tasks,
		transport: transport,
		sem:       make(chan struct{}, cfg.Workers),
		active:    make(map[string]*taskHandle),
	}
}

func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("upload queue started with %d workers", m.cfg.Workers)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("upload queue stopped")
}

func (m *manager) Enqueue(ctx context.Context, taskID string) error {
	task, err := m.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	m.spawnTask(*task)
	return nil
}

// Resume re-spawns every task that did not finish before the last shutdown.
func (m *manager) Resume(ctx context.Context) error {
	tasks, err := m.tasks.ListByStatuses(ctx,
		domain.TaskStatusPending,
		domain.TaskStatusInProgress,
	)
	if err != nil {
		return err
	}

	for i := range tasks {
		m.spawnTask(tasks[i])
	}
	return nil
}

// Retry re-queues a task that exhausted its attempts, e.g. when connectivity
// returns or an operator intervenes.
func (m *manager) Retry(ctx context.Context, taskID string) error {
	task, err := m.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusFailed {
		return fmt.Errorf("task %s is not failed", taskID)
	}
	if err := m.tasks.UpdateAttempt(ctx, taskID, 0); err != nil {
		return err
	}
	if err := m.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusPending, nil); err != nil {
		return err
	}
	task.Status = domain.TaskStatusPending
	task.Attempt = 0
	m.spawnTask(*task)
	return nil
}

// Cancel aborts an in-flight transfer, requests server-side session cancel,
// and removes the local task record and file.
func (m *manager) Cancel(ctx context.Context, taskID string) error {
	if handle, ok := m.getTaskHandle(taskID); ok {
		handle.cancel()
		select {
		case <-handle.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	task, err := m.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.SessionID != "" {
		if err := m.transport.Cancel(ctx, task.SessionID); err != nil {
			m.cfg.Logger.WithField("task_id", taskID).Warnf("cancel server session: %v", err)
		}
	}
	if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
		m.cfg.Logger.WithField("task_id", taskID).Warnf("remove local file: %v", err)
	}
	return m.tasks.DeleteTask(ctx, taskID)
}

func (m *manager) spawnTask(task domain.UploadTask) {
	taskCtx, cancel := context.WithCancel(m.ctx)
	handle := &taskHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.registerTask(task.ID, handle)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.unregisterTask(task.ID)
			close(handle.done)
		}()
		select {
		case <-m.ctx.Done():
			return
		case <-taskCtx.Done():
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.handleTask(taskCtx, &task)
		}
	}()
}

func (m *manager) registerTask(id string, handle *taskHandle) {
	m.mu.Lock()
	m.active[id] = handle
	m.mu.Unlock()
}

func (m *manager) unregisterTask(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) getTaskHandle(id string) (*taskHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

func (m *manager) handleTask(ctx context.Context, task *domain.UploadTask) {
	logger := m.cfg.Logger.WithField("task_id", task.ID)
	if task.Status == domain.TaskStatusSucceeded {
		logger.Debug("task already succeeded, skipping")
		return
	}

	if err := m.tasks.UpdateStatus(ctx, task.ID, domain.TaskStatusInProgress, nil); err != nil {
		logger.Errorf("set in-progress status: %v", err)
		return
	}

	attempt := task.Attempt
	for {
		err := m.transferOnce(ctx, task.ID)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			logger.Info("task cancelled")
			return
		}

		if errors.Is(err, uploader.ErrSessionNotFound) {
			// Server lost the session; identity is gone, restart from init.
			logger.Warn("server session lost, restarting from init")
			if clearErr := m.tasks.SetSession(ctx, task.ID, ""); clearErr != nil {
				logger.Errorf("clear session: %v", clearErr)
				return
			}
		} else if errors.Is(err, uploader.ErrIncompleteUpload) {
			// The session is still open server-side; rewind local acks so the
			// next pass re-offers every index. Appends are idempotent.
			logger.Warn("finalize reported missing chunks, re-offering all indices")
			if ackErr := m.tasks.UpdateAck(ctx, task.ID, 0, 0); ackErr != nil {
				logger.Errorf("rewind ack: %v", ackErr)
				return
			}
		} else if isFatal(err) {
			m.failTask(ctx, task.ID, err)
			return
		}

		attempt++
		if err := m.tasks.UpdateAttempt(ctx, task.ID, attempt); err != nil {
			logger.Errorf("persist attempt: %v", err)
		}
		if attempt >= m.cfg.MaxAttempts {
			// Keep the file and the task record: a later manual or
			// connectivity-triggered retry resumes from the last ack.
			m.failTask(ctx, task.ID, fmt.Errorf("gave up after %d attempts: %w", attempt, err))
			return
		}

		delay := m.backoffFor(attempt)
		logger.Warnf("transfer attempt %d failed (%v), retrying in %s", attempt, err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// transferOnce pushes the task as far as it can go in one pass: init if the
// session id is missing, then every unacknowledged chunk in order, then
// finalize. Session identity is persisted before the first chunk so a crash
// never loses it.
func (m *manager) transferOnce(ctx context.Context, taskID string) error {
	task, err := m.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fatalError{err}
	}
	logger := m.cfg.Logger.WithField("task_id", task.ID)

	info, err := os.Stat(task.FilePath)
	if err != nil {
		return fatalError{fmt.Errorf("local file missing: %w", err)}
	}
	if info.Size() != task.TotalBytes {
		return fatalError{fmt.Errorf("local file size changed: have %d, want %d", info.Size(), task.TotalBytes)}
	}

	if task.SessionID == "" {
		sessionID, err := m.transport.Init(ctx, filepath.Base(task.FilePath), task.OwnerRecordID)
		if err != nil {
			return err
		}
		if err := m.tasks.SetSession(ctx, task.ID, sessionID); err != nil {
			return fatalError{err}
		}
		task.SessionID = sessionID
		task.AckedChunks = 0
		task.AckedBytes = 0
	}

	f, err := os.Open(task.FilePath)
	if err != nil {
		return fatalError{fmt.Errorf("open local file: %w", err)}
	}
	defer f.Close()

	chunkCount := task.ChunkCount()
	buf := make([]byte, task.ChunkSize)
	for index := task.AckedChunks; index < chunkCount; index++ {
		offset := index * task.ChunkSize
		length := task.ChunkSize
		if offset+length > task.TotalBytes {
			length = task.TotalBytes - offset
		}
		if _, err := io.ReadFull(io.NewSectionReader(f, offset, length), buf[:length]); err != nil {
			return fatalError{fmt.Errorf("read chunk %d: %w", index, err)}
		}

		result, err := m.transport.Append(ctx, task.SessionID, index, buf[:length])
		if err != nil {
			return err
		}

		acked := index + 1
		ackedBytes := offset + length
		if err := m.tasks.UpdateAck(ctx, task.ID, acked, ackedBytes); err != nil {
			return fatalError{err}
		}
		logger.Debugf("chunk %d/%d acknowledged (%d/%d bytes, server has %d chunks)",
			acked, chunkCount, ackedBytes, task.TotalBytes, result.ChunksReceived)
	}

	result, err := m.transport.Finalize(ctx, task.SessionID, chunkCount, task.OwnerRecordID)
	if err != nil {
		return err
	}

	if err := m.tasks.MarkSucceeded(ctx, task.ID); err != nil {
		return fatalError{err}
	}
	if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
		logger.Warnf("remove uploaded file: %v", err)
	}
	logger.Infof("upload complete, recording %s (%d bytes)", result.RecordingID, result.SizeBytes)

	if m.cfg.OnSucceeded != nil {
		task.Status = domain.TaskStatusSucceeded
		m.cfg.OnSucceeded(*task, result)
	}
	return nil
}

func (m *manager) failTask(ctx context.Context, taskID string, failErr error) {
	msg := failErr.Error()
	if err := m.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusFailed, &msg); err != nil {
		m.cfg.Logger.WithField("task_id", taskID).Errorf("persist failure status: %v", err)
	}
	m.cfg.Logger.WithField("task_id", taskID).Error(msg)
}

// backoffFor returns the delay before the given attempt number, holding at the
// last configured step once the schedule is exhausted.
func (m *manager) backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(m.cfg.Backoff) {
		return m.cfg.Backoff[len(m.cfg.Backoff)-1]
	}
	return m.cfg.Backoff[attempt-1]
}

// fatalError marks failures that retrying cannot fix: missing files, local
// storage trouble, persistence errors.
type fatalError struct {
	err error
}

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	var fe fatalError
	return errors.As(err, &fe)
}

var _ Manager = (*manager)(nil)
