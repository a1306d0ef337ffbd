package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"callrecorder/internal/capture"
	"callrecorder/internal/config"
	"callrecorder/internal/httpapi"
	"callrecorder/internal/queue"
	"callrecorder/internal/repository/sqlite"
	"callrecorder/internal/service"
	"callrecorder/internal/uploader"
)

// The agent is the on-device half of the system: it observes call state,
// captures audio, and drains the upload queue. It is expected to run
// supervised by the host platform, independent of any foreground UI.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(filepath.Join(cfg.Agent.DataDir, "agent.db"))
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	taskRepo := sqlite.NewUploadTaskRepository(db)
	prefRepo := sqlite.NewPreferenceRepository(db)
	if err := taskRepo.Init(ctx); err != nil {
		logger.Fatalf("init task repository: %v", err)
	}
	if err := prefRepo.Init(ctx); err != nil {
		logger.Fatalf("init preference repository: %v", err)
	}

	taskService := service.NewTaskService(taskRepo)
	transport := uploader.NewClient(cfg.Agent.ServerURL, cfg.Agent.AuthToken)

	uploads := queue.NewManager(queue.Config{
		Workers:     cfg.Agent.Workers,
		MaxAttempts: cfg.Agent.MaxAttempts,
		Backoff:     cfg.Agent.Backoff,
		Logger:      logger,
	}, taskService, transport)

	agent := capture.NewAgent(capture.Config{
		CaptureDir:  filepath.Join(cfg.Agent.DataDir, "captures"),
		ChunkSize:   cfg.Agent.ChunkSize,
		MinFileSize: cfg.Agent.MinFileSize,
		Logger:      logger,
	}, capture.StubDevice{}, prefRepo, taskService, uploads)

	if err := uploads.Start(ctx); err != nil {
		logger.Fatalf("start upload queue: %v", err)
	}
	if err := uploads.Resume(ctx); err != nil {
		logger.Warnf("resume tasks: %v", err)
	}
	if err := agent.Start(ctx); err != nil {
		logger.Fatalf("start capture agent: %v", err)
	}

	// The CRM layer consumes these for UI feedback; here they are only logged.
	go func() {
		for ev := range agent.Events() {
			logger.WithField("session_id", ev.SessionID).Infof("capture event: %s", ev.Type)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.NewControlHandler(agent, taskService, uploads).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Agent.ControlAddr,
		Handler: router,
	}

	go func() {
		logger.Infof("control surface on %s", cfg.Agent.ControlAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("control server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("control shutdown: %v", err)
	}
	agent.Shutdown()
	uploads.Shutdown()

	logger.Info("bye")
}
