package session

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	store, err := NewStore(filepath.Join(root, "sessions"), filepath.Join(root, "recordings"), logger)
	require.NoError(t, err)
	return store
}

func appendBytes(t *testing.T, store *Store, id string, index int64, data []byte) AppendResult {
	t.Helper()
	result, err := store.Append(id, index, bytes.NewReader(data))
	require.NoError(t, err)
	return result
}

func TestInitCreatesIndependentSessions(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Init("call_a.m4a", "lead-1")
	require.NoError(t, err)
	second, err := store.Init("call_b.m4a", "lead-1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestAppendIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Init("call.m4a", "lead-42")
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte{0xAB}, 512)
	first := appendBytes(t, store, id, 0, chunk)
	second := appendBytes(t, store, id, 0, chunk)

	assert.Equal(t, int64(1), first.ChunksReceived)
	assert.Equal(t, int64(1), second.ChunksReceived, "duplicate append must overwrite, not duplicate")
	assert.Equal(t, int64(512), second.TotalBytesSoFar)

	appendBytes(t, store, id, 1, []byte("tail"))
	rec, err := store.Finalize(id, 2, "lead-42")
	require.NoError(t, err)

	data, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, append(chunk, []byte("tail")...), data)
}

func TestOutOfOrderDeliveryAssemblesInIndexOrder(t *testing.T) {
	store := newTestStore(t)

	chunks := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	var want []byte
	for _, c := range chunks {
		want = append(want, c...)
	}

	inOrder, err := store.Init("a.m4a", "lead-1")
	require.NoError(t, err)
	for i, c := range chunks {
		appendBytes(t, store, inOrder, int64(i), c)
	}
	recA, err := store.Finalize(inOrder, 3, "lead-1")
	require.NoError(t, err)

	outOfOrder, err := store.Init("b.m4a", "lead-1")
	require.NoError(t, err)
	for _, i := range []int64{2, 0, 1} {
		appendBytes(t, store, outOfOrder, i, chunks[i])
	}
	recB, err := store.Finalize(outOfOrder, 3, "lead-1")
	require.NoError(t, err)

	dataA, err := os.ReadFile(recA.Path)
	require.NoError(t, err)
	dataB, err := os.ReadFile(recB.Path)
	require.NoError(t, err)
	assert.Equal(t, want, dataA)
	assert.Equal(t, dataA, dataB, "delivery order must not affect assembled bytes")
}

func TestFinalizeChunkCountMismatchLeavesSessionIntact(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Init("call.m4a", "lead-9")
	require.NoError(t, err)

	appendBytes(t, store, id, 0, []byte("only"))

	_, err = store.Finalize(id, 3, "lead-9")
	require.ErrorIs(t, err, ErrIncompleteUpload)

	// the session stays resumable: the missing chunks can still arrive
	appendBytes(t, store, id, 1, []byte("-chunk"))
	appendBytes(t, store, id, 2, []byte("-set"))
	rec, err := store.Finalize(id, 3, "lead-9")
	require.NoError(t, err)

	data, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("only-chunk-set"), data)
}

func TestFinalizeGapDetectedDespiteMatchingCount(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Init("call.m4a", "lead-9")
	require.NoError(t, err)

	appendBytes(t, store, id, 0, []byte("aa"))
	appendBytes(t, store, id, 2, []byte("cc"))

	_, err = store.Finalize(id, 2, "lead-9")
	require.ErrorIs(t, err, ErrIncompleteUpload)
}

func TestFinalizeFailureProducesNoRecording(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Init("call.m4a", "lead-5")
	require.NoError(t, err)
	appendBytes(t, store, id, 0, []byte("partial"))

	_, err = store.Finalize(id, 2, "lead-5")
	require.Error(t, err)

	entries, err := os.ReadDir(store.recordingDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial recording may appear on failed finalize")
}

func TestFinalizeConsumesSession(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Init("call.m4a", "lead-5")
	require.NoError(t, err)
	appendBytes(t, store, id, 0, []byte("data"))

	_, err = store.Finalize(id, 1, "lead-5")
	require.NoError(t, err)

	_, err = store.Append(id, 1, bytes.NewReader([]byte("late")))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Finalize(id, 1, "lead-5")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCancelIsSafeOnEmptyPartialAndUnknownSessions(t *testing.T) {
	store := newTestStore(t)

	empty, err := store.Init("a.m4a", "lead-1")
	require.NoError(t, err)
	require.NoError(t, store.Cancel(empty))

	partial, err := store.Init("b.m4a", "lead-1")
	require.NoError(t, err)
	appendBytes(t, store, partial, 0, []byte("bytes"))
	require.NoError(t, store.Cancel(partial))

	require.NoError(t, store.Cancel("never-existed"))

	_, err = store.Append(partial, 1, bytes.NewReader([]byte("late")))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendUnknownSession(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append("nope", 0, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFinalizeOwnerMismatch(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Init("call.m4a", "lead-1")
	require.NoError(t, err)
	appendBytes(t, store, id, 0, []byte("data"))

	_, err = store.Finalize(id, 1, "lead-2")
	require.Error(t, err)

	// still finalizable by the right owner
	_, err = store.Finalize(id, 1, "lead-1")
	require.NoError(t, err)
}

func TestThreeChunkCallUploadScenario(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Init("call_1700000000.m4a", "lead-42")
	require.NoError(t, err)

	mib := 1 << 20
	sizes := []int{mib, mib, 400 * 1024}
	var want int64
	for i, size := range sizes {
		result := appendBytes(t, store, id, int64(i), bytes.Repeat([]byte{byte(i + 1)}, size))
		want += int64(size)
		assert.Equal(t, int64(i+1), result.ChunksReceived)
		assert.Equal(t, want, result.TotalBytesSoFar)
	}

	rec, err := store.Finalize(id, 3, "lead-42")
	require.NoError(t, err)
	assert.Equal(t, want, rec.SizeBytes)
	assert.Equal(t, "lead-42", rec.OwnerRecordID)

	info, err := os.Stat(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, want, info.Size())
}

func TestSweepDropsOnlyExpiredSessions(t *testing.T) {
	store := newTestStore(t)

	old, err := store.Init("old.m4a", "lead-1")
	require.NoError(t, err)
	fresh, err := store.Init("fresh.m4a", "lead-1")
	require.NoError(t, err)

	// age the first session by rewriting its metadata timestamp
	dir := store.sessionDir(old)
	m, err := store.readMeta(dir)
	require.NoError(t, err)
	m.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.writeMeta(dir, m))

	removed := store.Sweep(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, err = store.Append(old, 0, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Append(fresh, 0, bytes.NewReader([]byte("x")))
	assert.NoError(t, err)
}

func TestRecordingNameSanitizesOwner(t *testing.T) {
	name := recordingName("lead/42 weird", "call.m4a")
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, " ")
	assert.Equal(t, ".m4a", filepath.Ext(name))
}
