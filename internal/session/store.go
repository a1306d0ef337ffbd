package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionNotFound indicates an unknown, finalized, or canceled session id.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrIncompleteUpload indicates a finalize attempt before all chunks arrived.
	ErrIncompleteUpload = errors.New("incomplete upload")
)

// meta is the durable per-session bookkeeping record, rewritten atomically on
// every append so a server restart never loses acknowledged chunks.
type meta struct {
	ID            string          `json:"id"`
	Filename      string          `json:"filename"`
	OwnerRecordID string          `json:"owner_record_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Chunks        map[int64]int64 `json:"chunks"` // index -> size in bytes
}

// AppendResult reports session progress after a chunk append.
type AppendResult struct {
	ChunksReceived  int64
	TotalBytesSoFar int64
}

// FinalizedRecording describes the durable object produced by Finalize.
type FinalizedRecording struct {
	Path          string
	Filename      string
	OwnerRecordID string
	SizeBytes     int64
}

// Store assembles chunked uploads into durable recordings. Each session owns
// its own directory under root; finalize is the only path that writes into
// recordingDir.
type Store struct {
	root         string
	recordingDir string
	logger       *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(root, recordingDir string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}
	if err := os.MkdirAll(recordingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Store{
		root:         root,
		recordingDir: recordingDir,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}, nil
}

// Init allocates a fresh session. Sessions for the same owner are independent.
func (s *Store) Init(filename, ownerRecordID string) (string, error) {
	if ownerRecordID == "" {
		return "", errors.New("owner record id is required")
	}

	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	dir := s.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	m := meta{
		ID:            id,
		Filename:      filename,
		OwnerRecordID: ownerRecordID,
		CreatedAt:     time.Now().UTC(),
		Chunks:        map[int64]int64{},
	}
	if err := s.writeMeta(dir, &m); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}

	s.logger.WithField("session_id", id).Infof("upload session created for owner %s", ownerRecordID)
	return id, nil
}

// Append writes one chunk at the given index. Re-appending an index overwrites
// the prior bytes and does not bump the distinct-chunk count, which makes
// client retries safe.
func (s *Store) Append(id string, index int64, r io.Reader) (AppendResult, error) {
	if index < 0 {
		return AppendResult{}, fmt.Errorf("chunk index must not be negative")
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(id)
	m, err := s.readMeta(dir)
	if err != nil {
		return AppendResult{}, err
	}

	chunkPath := filepath.Join(dir, fmt.Sprintf("chunk_%d", index))
	tmp, err := os.CreateTemp(dir, "chunk_*.tmp")
	if err != nil {
		return AppendResult{}, fmt.Errorf("create chunk temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return AppendResult{}, fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return AppendResult{}, fmt.Errorf("sync chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return AppendResult{}, fmt.Errorf("close chunk %d: %w", index, err)
	}
	if err := os.Rename(tmp.Name(), chunkPath); err != nil {
		_ = os.Remove(tmp.Name())
		return AppendResult{}, fmt.Errorf("place chunk %d: %w", index, err)
	}

	m.Chunks[index] = n
	if err := s.writeMeta(dir, m); err != nil {
		return AppendResult{}, err
	}

	return AppendResult{
		ChunksReceived:  int64(len(m.Chunks)),
		TotalBytesSoFar: m.totalBytes(),
	}, nil
}

// Finalize assembles chunks 0..expectedCount-1 in strict index order into one
// recording file. On any mismatch nothing is destroyed and the session stays
// resumable.
func (s *Store) Finalize(id string, expectedCount int64, ownerRecordID string) (*FinalizedRecording, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(id)
	m, err := s.readMeta(dir)
	if err != nil {
		return nil, err
	}
	if ownerRecordID != "" && m.OwnerRecordID != ownerRecordID {
		return nil, fmt.Errorf("owner record id mismatch for session %s", id)
	}
	if int64(len(m.Chunks)) != expectedCount {
		return nil, fmt.Errorf("%w: have %d chunks, want %d", ErrIncompleteUpload, len(m.Chunks), expectedCount)
	}
	indices := make([]int64, 0, len(m.Chunks))
	for idx := range m.Chunks {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for i, idx := range indices {
		if int64(i) != idx {
			return nil, fmt.Errorf("%w: chunk %d missing", ErrIncompleteUpload, i)
		}
	}

	destName := recordingName(m.OwnerRecordID, m.Filename)
	destPath := filepath.Join(s.recordingDir, destName)

	tmp, err := os.CreateTemp(s.recordingDir, ".assemble_*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create assembly file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	var total int64
	for _, idx := range indices {
		chunk, err := os.Open(filepath.Join(dir, fmt.Sprintf("chunk_%d", idx)))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open chunk %d: %w", idx, err)
		}
		n, err := io.Copy(tmp, chunk)
		closeErr := chunk.Close()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("assemble chunk %d: %w", idx, err)
		}
		if closeErr != nil {
			cleanup()
			return nil, fmt.Errorf("close chunk %d: %w", idx, closeErr)
		}
		total += n
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("sync assembled recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("close assembled recording: %w", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("place recording: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		s.logger.WithField("session_id", id).Warnf("remove session dir: %v", err)
	}
	s.dropLock(id)

	s.logger.WithField("session_id", id).Infof("finalized %d chunks into %s (%d bytes)", expectedCount, destName, total)

	return &FinalizedRecording{
		Path:          destPath,
		Filename:      m.Filename,
		OwnerRecordID: m.OwnerRecordID,
		SizeBytes:     total,
	}, nil
}

// Cancel deletes the session directory unconditionally. Safe on sessions with
// zero or partial chunks, and on ids that no longer exist.
func (s *Store) Cancel(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	s.dropLock(id)
	return nil
}

// Sweep removes sessions older than maxAge and reports how many were dropped.
// Abandoned sessions otherwise leave chunk data behind forever.
func (s *Store) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warnf("sweep sessions: %v", err)
		return 0
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		m, err := s.readMeta(dir)
		if err != nil {
			continue
		}
		if m.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.Cancel(m.ID); err != nil {
			s.logger.Warnf("sweep session %s: %v", m.ID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Infof("swept %d expired upload sessions", removed)
	}
	return removed
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Store) dropLock(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

func (s *Store) readMeta(dir string) (*meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session meta: %w", err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode session meta: %w", err)
	}
	if m.Chunks == nil {
		m.Chunks = map[int64]int64{}
	}
	return &m, nil
}

func (s *Store) writeMeta(dir string, m *meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode session meta: %w", err)
	}
	tmp := filepath.Join(dir, ".meta.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "meta.json")); err != nil {
		return fmt.Errorf("place session meta: %w", err)
	}
	return nil
}

func (m *meta) totalBytes() int64 {
	var total int64
	for _, size := range m.Chunks {
		total += size
	}
	return total
}

func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// recordingName builds a collision-free recording filename from the owner id,
// the current time, and the uploaded file's extension.
func recordingName(ownerRecordID, filename string) string {
	owner := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, ownerRecordID)
	ext := filepath.Ext(filename)
	return fmt.Sprintf("%s_%d%s", owner, time.Now().UTC().UnixNano(), ext)
}
