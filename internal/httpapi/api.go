package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callrecorder/internal/domain"
	"callrecorder/internal/service"
	"callrecorder/internal/session"
	"callrecorder/internal/storage"
)

// Handler wires HTTP routes to the upload session store and recording services.
type Handler struct {
	sessions   *session.Store
	recordings service.RecordingService
	storage    storage.Service
	bucket     string
	keyPrefix  string
	jwtSecret  string
	logger     *logrus.Logger
}

func NewHandler(sessions *session.Store, recordings service.RecordingService, store storage.Service, bucket, keyPrefix, jwtSecret string, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		sessions:   sessions,
		recordings: recordings,
		storage:    store,
		bucket:     bucket,
		keyPrefix:  keyPrefix,
		jwtSecret:  jwtSecret,
		logger:     logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	api.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	guarded := api.Group("")
	guarded.Use(authMiddleware(h.jwtSecret))
	{
		guarded.POST("/uploads", h.initUpload)
		guarded.PUT("/uploads/:id/chunks/:index", h.appendChunk)
		guarded.POST("/uploads/:id/finalize", h.finalizeUpload)
		guarded.DELETE("/uploads/:id", h.cancelUpload)
		guarded.GET("/recordings", h.listRecordings)
		guarded.GET("/recordings/:id", h.getRecording)
		guarded.GET("/recordings/:id/stream", h.streamRecording)
		guarded.GET("/recordings/:id/url", h.recordingURL)
		guarded.DELETE("/recordings/:id", h.deleteRecording)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, Range")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type initUploadRequest struct {
	Filename      string `json:"filename" binding:"required"`
	OwnerRecordID string `json:"owner_record_id" binding:"required"`
}

func (h *Handler) initUpload(c *gin.Context) {
	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.sessions.Init(req.Filename, req.OwnerRecordID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

func (h *Handler) appendChunk(c *gin.Context) {
	sessionID := c.Param("id")
	index, err := strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunk index"})
		return
	}

	result, err := h.sessions.Append(sessionID, index, c.Request.Body)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chunks_received":    result.ChunksReceived,
		"total_bytes_so_far": result.TotalBytesSoFar,
	})
}

type finalizeUploadRequest struct {
	ExpectedChunkCount int64  `json:"expected_chunk_count" binding:"required"`
	OwnerRecordID      string `json:"owner_record_id" binding:"required"`
}

func (h *Handler) finalizeUpload(c *gin.Context) {
	sessionID := c.Param("id")

	var req finalizeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	finalized, err := h.sessions.Finalize(sessionID, req.ExpectedChunkCount, req.OwnerRecordID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrIncompleteUpload):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	rec := &domain.Recording{
		ID:            uuid.NewString(),
		OwnerRecordID: finalized.OwnerRecordID,
		Filename:      finalized.Filename,
		Path:          finalized.Path,
		SizeBytes:     finalized.SizeBytes,
	}
	if err := h.recordings.CreateRecording(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.storage != nil && h.bucket != "" {
		go h.archiveRecording(rec)
	}

	c.JSON(http.StatusOK, gin.H{
		"recording_id":   rec.ID,
		"recording_path": rec.Path,
		"size_bytes":     rec.SizeBytes,
	})
}

// archiveRecording mirrors a finalized recording to S3. Best effort: failures
// are logged and the local copy stays authoritative.
func (h *Handler) archiveRecording(rec *domain.Recording) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger := h.logger.WithField("recording_id", rec.ID)
	key := h.objectKey(rec)
	location, err := h.storage.UploadFile(ctx, rec.Path, storage.UploadOptions{
		Bucket: h.bucket,
		Key:    key,
	})
	if err != nil {
		logger.Warnf("archive recording: %v", err)
		return
	}
	if err := h.recordings.SetS3Location(ctx, rec.ID, location); err != nil {
		logger.Warnf("persist archive location: %v", err)
		return
	}
	logger.Infof("recording archived to %s", location)
}

func (h *Handler) objectKey(rec *domain.Recording) string {
	prefix := strings.Trim(h.keyPrefix, "/")
	base := filepath.Base(rec.Path)
	if prefix == "" {
		return fmt.Sprintf("%s/%s", rec.OwnerRecordID, base)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, rec.OwnerRecordID, base)
}

func (h *Handler) cancelUpload(c *gin.Context) {
	if err := h.sessions.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": c.Param("id")})
}

func (h *Handler) listRecordings(c *gin.Context) {
	recordings, err := h.recordings.ListRecordings(c.Request.Context(), c.Query("owner"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]RecordingResponse, len(recordings))
	for i := range recordings {
		resp[i] = recordingToResponse(recordings[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getRecording(c *gin.Context) {
	rec, err := h.recordings.GetRecording(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recordingToResponse(*rec))
}

// streamRecording serves a finalized recording with byte-range support so a
// player can seek without downloading the whole file. Ownership was already
// confirmed by the CRM layer before the caller got here.
func (h *Handler) streamRecording(c *gin.Context) {
	rec, err := h.recordings.GetRecording(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	f, err := os.Open(rec.Path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recording data unavailable"})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recording data unavailable"})
		return
	}
	size := info.Size()

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", contentTypeFor(rec.Filename))

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, f); err != nil {
			h.logger.Warnf("stream recording %s: %v", rec.ID, err)
		}
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.AbortWithStatus(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "seek failed"})
		return
	}

	length := end - start + 1
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.Header("Content-Length", strconv.FormatInt(length, 10))
	c.Status(http.StatusPartialContent)
	if _, err := io.CopyN(c.Writer, f, length); err != nil {
		h.logger.Warnf("stream recording %s range %d-%d: %v", rec.ID, start, end, err)
	}
}

func (h *Handler) recordingURL(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}

	rec, err := h.recordings.GetRecording(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if rec.S3Location == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "recording not yet archived"})
		return
	}

	url, err := h.storage.GetObjectURL(c.Request.Context(), h.bucket, h.objectKey(rec), 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) deleteRecording(c *gin.Context) {
	rec, err := h.recordings.DeleteRecording(c.Request.Context(), c.Param("id"))
	if err != nil {
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var warnings []string
	if rec.S3Location != "" && h.storage != nil && h.bucket != "" {
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := h.storage.DeletePrefix(remoteCtx, h.bucket, h.objectKey(rec)); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete remote data: %v", err))
		}
	}

	resp := gin.H{"deleted": rec.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

type RecordingResponse struct {
	ID            string `json:"id"`
	OwnerRecordID string `json:"owner_record_id"`
	Filename      string `json:"filename"`
	SizeBytes     int64  `json:"size_bytes"`
	S3Location    string `json:"s3_location,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func recordingToResponse(rec domain.Recording) RecordingResponse {
	return RecordingResponse{
		ID:            rec.ID,
		OwnerRecordID: rec.OwnerRecordID,
		Filename:      rec.Filename,
		SizeBytes:     rec.SizeBytes,
		S3Location:    rec.S3Location,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
