package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/longform-transcriber/internal/app"
	"github.com/codebuildervaibhav/longform-transcriber/internal/cleanup"
	"github.com/codebuildervaibhav/longform-transcriber/internal/config"
	"github.com/codebuildervaibhav/longform-transcriber/internal/handlers"
	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/queue"
	"github.com/codebuildervaibhav/longform-transcriber/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logBuffer := logger.NewBuffer(1000)
	log := logger.New(cfg.Debug, logBuffer)
	defer log.Sync()

	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	log.Info("Initializing components...")

	pipe, err := app.NewPipeline(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize %s engine: %v", cfg.Whisper.Provider, err)
	}

	results := storage.NewResultStore()
	localStorage := storage.NewLocalStorage(cfg.Storage.OutputDir, results)

	// Google Drive is optional
	var uploader queue.Uploader
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err := storage.NewDriveClient(context.Background(),
			cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cfg.GoogleDrive.FolderName)
		if err != nil {
			log.Warnf("Google Drive not available: %v", err)
			log.Info("Transcripts will only be saved locally")
		} else {
			uploader = driveClient
			log.Info("Google Drive integration enabled")
		}
	} else {
		log.Info("Google Drive credentials not found - saving locally only")
	}

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	workerPool := queue.NewWorkerPool(queue.Options{
		Workers:     cfg.Workers.Count,
		SinkBuffer:  cfg.Pipeline.SinkBuffer,
		AudioFormat: cfg.Pipeline.AudioFormat,
		Model:       cfg.Whisper.Model,
	}, pipe, localStorage, uploader, db, log)
	workerPool.Start()
	defer workerPool.Stop()

	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour,
		log,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	server := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	server.Use(recover.New())
	server.Use(fiberlogger.New(fiberlogger.Config{Output: logBuffer}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	settings := handlers.Settings{
		TempDir:   cfg.Storage.TempDir,
		Language:  cfg.Pipeline.Language,
		MaxSizeMB: cfg.Limits.MaxFileSizeMB,
	}
	uploadHandler := handlers.NewUploadHandler(workerPool, settings, log)
	gdriveHandler := handlers.NewGDriveHandler(workerPool, settings, log)
	youtubeHandler := handlers.NewYouTubeHandler(workerPool, settings, log)
	streamHandler := handlers.NewStreamHandler(workerPool, log)
	jobsHandler := handlers.NewJobsHandler(workerPool, db, results)

	server.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"version":  "1.0.0",
			"provider": cfg.Whisper.Provider,
			"model":    cfg.Whisper.Model,
		})
	})

	server.Post("/upload", uploadHandler.Handle)
	server.Post("/gdrive", gdriveHandler.Handle)
	server.Post("/youtube", youtubeHandler.Handle)

	server.Get("/ws/jobs/:id", streamHandler.Upgrade, websocket.New(streamHandler.Handle))

	server.Get("/jobs/:id", jobsHandler.Status)
	server.Post("/jobs/:id/cancel", jobsHandler.Cancel)
	server.Get("/transcripts", jobsHandler.List)
	server.Get("/transcripts/:id/text", jobsHandler.Text)
	server.Get("/transcripts/:id/result", jobsHandler.Result)

	server.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.Lines(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Infof("Server starting on %s", addr)
	log.Info("Endpoints:")
	log.Info("   POST /upload                  - Upload audio or video file")
	log.Info("   POST /gdrive                  - Process Google Drive link")
	log.Info("   POST /youtube                 - Capture YouTube audio")
	log.Info("   GET  /ws/jobs/:id             - WebSocket stream of job segments")
	log.Info("   GET  /jobs/:id                - Job status")
	log.Info("   POST /jobs/:id/cancel         - Cancel a job before its next window")
	log.Info("   GET  /transcripts             - List all transcripts")
	log.Info("   GET  /transcripts/:id/text    - Get transcript text")
	log.Info("   GET  /transcripts/:id/result  - Get windowed result log")
	log.Info("   GET  /logs                    - View server logs")
	log.Info("   GET  /health                  - Health check")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down gracefully...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Warnf("Shutdown: %v", err)
		}
	}()

	if err := server.Listen(addr); err != nil {
		log.Errorf("Server failed: %v", err)
	}
}
