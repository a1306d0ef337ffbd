package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrSessionNotFound means the server no longer knows the session; the
	// transfer must restart from init.
	ErrSessionNotFound = errors.New("upload session not found on server")
	// ErrIncompleteUpload means finalize was attempted with missing chunks;
	// the session is still open and the client should resume sending.
	ErrIncompleteUpload = errors.New("upload incomplete on server")
)

// Client talks to the recording server's chunked upload surface.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, authToken string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(2 * time.Minute)
	if authToken != "" {
		c.SetAuthToken(authToken)
	}
	return &Client{http: c}
}

type initResponse struct {
	SessionID string `json:"session_id"`
}

// AppendResult mirrors the server's per-chunk acknowledgment.
type AppendResult struct {
	ChunksReceived  int64 `json:"chunks_received"`
	TotalBytesSoFar int64 `json:"total_bytes_so_far"`
}

// FinalizeResult identifies the recording produced by a completed session.
type FinalizeResult struct {
	RecordingID   string `json:"recording_id"`
	RecordingPath string `json:"recording_path"`
	SizeBytes     int64  `json:"size_bytes"`
}

func (c *Client) Init(ctx context.Context, filename, ownerRecordID string) (string, error) {
	var out initResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"filename":        filename,
			"owner_record_id": ownerRecordID,
		}).
		SetResult(&out).
		Post("/api/uploads")
	if err != nil {
		return "", fmt.Errorf("init session: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("init session: server returned %s", resp.Status())
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("init session: empty session id")
	}
	return out.SessionID, nil
}

func (c *Client) Append(ctx context.Context, sessionID string, index int64, data []byte) (AppendResult, error) {
	var out AppendResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		SetResult(&out).
		Put(fmt.Sprintf("/api/uploads/%s/chunks/%d", sessionID, index))
	if err != nil {
		return AppendResult{}, fmt.Errorf("append chunk %d: %w", index, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return AppendResult{}, ErrSessionNotFound
	}
	if resp.IsError() {
		return AppendResult{}, fmt.Errorf("append chunk %d: server returned %s", index, resp.Status())
	}
	return out, nil
}

func (c *Client) Finalize(ctx context.Context, sessionID string, expectedChunkCount int64, ownerRecordID string) (FinalizeResult, error) {
	var out FinalizeResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"expected_chunk_count": expectedChunkCount,
			"owner_record_id":      ownerRecordID,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/api/uploads/%s/finalize", sessionID))
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize session: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return FinalizeResult{}, ErrSessionNotFound
	case http.StatusConflict:
		return FinalizeResult{}, ErrIncompleteUpload
	}
	if resp.IsError() {
		return FinalizeResult{}, fmt.Errorf("finalize session: server returned %s", resp.Status())
	}
	return out, nil
}

func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/api/uploads/%s", sessionID))
	if err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("cancel session: server returned %s", resp.Status())
	}
	return nil
}
