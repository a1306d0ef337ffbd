package uploader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientInit(t *testing.T) {
	var gotAuth, gotFilename, gotOwner string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/uploads", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotFilename = body["filename"]
		gotOwner = body["owner_record_id"]

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-abc"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123")
	id, err := client.Init(context.Background(), "call.m4a", "lead-42")
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", id)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "call.m4a", gotFilename)
	assert.Equal(t, "lead-42", gotOwner)
}

func TestClientInitRejectsEmptySessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Init(context.Background(), "a.m4a", "lead-1")
	assert.Error(t, err)
}

func TestClientAppend(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/uploads/sess-1/chunks/3", r.URL.Path)
		buf, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = buf
		_ = json.NewEncoder(w).Encode(AppendResult{ChunksReceived: 4, TotalBytesSoFar: 4096})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL, "").Append(context.Background(), "sess-1", 3, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.ChunksReceived)
	assert.Equal(t, int64(4096), result.TotalBytesSoFar)
	assert.Equal(t, []byte("data"), gotBody)
}

func TestClientAppendSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Append(context.Background(), "sess-gone", 0, []byte("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestClientFinalize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/uploads/sess-1/finalize", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 3, body["expected_chunk_count"])
		assert.Equal(t, "lead-42", body["owner_record_id"])
		_ = json.NewEncoder(w).Encode(FinalizeResult{
			RecordingID:   "rec-1",
			RecordingPath: "/recordings/rec-1.m4a",
			SizeBytes:     2506752,
		})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL, "").Finalize(context.Background(), "sess-1", 3, "lead-42")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", result.RecordingID)
	assert.Equal(t, int64(2506752), result.SizeBytes)
}

func TestClientFinalizeErrorMapping(t *testing.T) {
	status := http.StatusConflict
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	_, err := client.Finalize(context.Background(), "sess-1", 3, "lead-1")
	assert.ErrorIs(t, err, ErrIncompleteUpload)

	status = http.StatusNotFound
	_, err = client.Finalize(context.Background(), "sess-1", 3, "lead-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	status = http.StatusInternalServerError
	_, err = client.Finalize(context.Background(), "sess-1", 3, "lead-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
	assert.NotErrorIs(t, err, ErrIncompleteUpload)
}

func TestClientCancelToleratesUnknownSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, "").Cancel(context.Background(), "sess-gone"))
}
