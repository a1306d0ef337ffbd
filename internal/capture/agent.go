package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callrecorder/internal/domain"
	"callrecorder/internal/queue"
	"callrecorder/internal/repository"
	"callrecorder/internal/service"
)

type Config struct {
	CaptureDir  string
	Params      Params
	ChunkSize   int64
	MinFileSize int64
	Logger      *logrus.Logger
}

// Agent converts call-state transitions into at most one audio file per call
// and hands finished files to the upload queue. A capture failure never
// reaches the call itself.
type Agent struct {
	cfg    Config
	device Device
	prefs  repository.PreferenceRepository
	tasks  service.TaskService
	queue  queue.Manager

	transitions chan CallEvent
	events      chan Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	current *captureRun
}

type captureRun struct {
	session domain.CaptureSession
	owner   string
	stream  io.ReadCloser
	file    *os.File
	copied  chan struct{}
}

func NewAgent(cfg Config, device Device, prefs repository.PreferenceRepository, tasks service.TaskService, uploads queue.Manager) *Agent {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Params == (Params{}) {
		cfg.Params = DefaultParams()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
	}
	return &Agent{
		cfg:         cfg,
		device:      device,
		prefs:       prefs,
		tasks:       tasks,
		queue:       uploads,
		transitions: make(chan CallEvent, 16),
		events:      make(chan Event, 16),
	}
}

func (a *Agent) Start(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.CaptureDir, 0o755); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.run()

	a.cfg.Logger.Infof("capture agent started, capture dir: %s", a.cfg.CaptureDir)
	return nil
}

// Shutdown stops the agent. A capture still in flight is treated as aborted:
// the partial file is discarded and no upload task is created.
func (a *Agent) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.stopCapture(true)
	a.cfg.Logger.Info("capture agent stopped")
}

// Observe feeds one call-state transition into the agent.
func (a *Agent) Observe(ctx context.Context, ev CallEvent) error {
	select {
	case a.transitions <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the lifecycle event stream. The agent does not require it to
// be drained.
func (a *Agent) Events() <-chan Event {
	return a.events
}

func (a *Agent) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.transitions:
			switch ev.State {
			case CallOffHook:
				a.startCapture(ev.OwnerRecordID)
			case CallIdle:
				a.stopCapture(false)
			case CallRinging:
				// observed but capture only starts on an active call
				a.cfg.Logger.Debug("call ringing")
			}
		}
	}
}

func (a *Agent) startCapture(ownerRecordID string) {
	a.mu.Lock()
	already := a.current != nil
	a.mu.Unlock()
	if already {
		a.cfg.Logger.Warn("capture already running, ignoring duplicate off-hook")
		return
	}

	session := domain.CaptureSession{
		ID:        uuid.NewString(),
		State:     domain.CaptureStateCapturing,
		StartedAt: time.Now(),
	}
	logger := a.cfg.Logger.WithField("session_id", session.ID)

	preferred, err := a.prefs.LastWorkingSource(a.ctx)
	if err != nil {
		logger.Warnf("read source preference: %v", err)
	}

	source, stream, err := Negotiate(a.device, preferred, a.cfg.Params)
	if err != nil {
		// The call continues untouched; the recording is simply omitted.
		session.State = domain.CaptureStateFailed
		logger.Errorf("capture failed: %v", err)
		a.emit(Event{Type: EventCaptureFailed, SessionID: session.ID, Reason: err.Error()})
		return
	}
	session.AudioSource = source

	if source != preferred {
		if err := a.prefs.SetLastWorkingSource(a.ctx, source); err != nil {
			logger.Warnf("persist source preference: %v", err)
		}
	}

	session.LocalFilePath = filepath.Join(a.cfg.CaptureDir, fmt.Sprintf("%s.%s", session.ID, a.cfg.Params.Container))
	file, err := os.Create(session.LocalFilePath)
	if err != nil {
		_ = stream.Close()
		session.State = domain.CaptureStateFailed
		logger.Errorf("create capture file: %v", err)
		a.emit(Event{Type: EventCaptureFailed, SessionID: session.ID, Reason: err.Error()})
		return
	}

	run := &captureRun{
		session: session,
		owner:   ownerRecordID,
		stream:  stream,
		file:    file,
		copied:  make(chan struct{}),
	}
	a.mu.Lock()
	a.current = run
	a.mu.Unlock()

	go func() {
		defer close(run.copied)
		if _, err := io.Copy(file, stream); err != nil {
			logger.Warnf("capture stream ended: %v", err)
		}
	}()

	logger.Infof("capture started with source %s", source)
	a.emit(Event{Type: EventCaptureStarted, SessionID: session.ID, Source: source})
}

func (a *Agent) stopCapture(discard bool) {
	a.mu.Lock()
	run := a.current
	a.current = nil
	a.mu.Unlock()
	if run == nil {
		return
	}

	logger := a.cfg.Logger.WithField("session_id", run.session.ID)

	// Closing the stream ends the copy loop; then flush the file.
	_ = run.stream.Close()
	<-run.copied
	if err := run.file.Sync(); err != nil {
		logger.Warnf("sync capture file: %v", err)
	}
	if err := run.file.Close(); err != nil {
		logger.Warnf("close capture file: %v", err)
	}

	now := time.Now()
	run.session.StoppedAt = &now
	run.session.State = domain.CaptureStateStopped
	run.session.DurationMs = now.Sub(run.session.StartedAt).Milliseconds()

	info, err := os.Stat(run.session.LocalFilePath)
	if err != nil {
		logger.Errorf("stat capture file: %v", err)
		return
	}
	run.session.SizeBytes = info.Size()

	if discard || run.session.SizeBytes < a.cfg.MinFileSize {
		if err := os.Remove(run.session.LocalFilePath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("discard capture file: %v", err)
		}
		logger.Infof("capture discarded (%d bytes)", run.session.SizeBytes)
		return
	}

	logger.Infof("capture stopped: %d bytes over %dms", run.session.SizeBytes, run.session.DurationMs)
	a.emit(Event{
		Type:       EventCaptureStopped,
		SessionID:  run.session.ID,
		Source:     run.session.AudioSource,
		FilePath:   run.session.LocalFilePath,
		DurationMs: run.session.DurationMs,
		SizeBytes:  run.session.SizeBytes,
	})

	a.enqueueUpload(run)
}

func (a *Agent) enqueueUpload(run *captureRun) {
	logger := a.cfg.Logger.WithField("session_id", run.session.ID)

	task, err := a.tasks.CreateTask(a.ctx, run.session.LocalFilePath, run.owner, a.cfg.ChunkSize)
	if err != nil {
		// The file stays on disk for manual recovery.
		logger.Errorf("create upload task: %v", err)
		return
	}
	if err := a.queue.Enqueue(a.ctx, task.ID); err != nil {
		logger.Errorf("enqueue upload task: %v", err)
		return
	}
	logger.Infof("upload task %s enqueued for owner %s", task.ID, run.owner)
}

// emit delivers an event without ever blocking the capture path.
func (a *Agent) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.cfg.Logger.Debugf("event %s dropped, consumer not keeping up", ev.Type)
	}
}
