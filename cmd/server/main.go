package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"finetune-orchestrator/api/rest/routes"
	"finetune-orchestrator/config"
	"finetune-orchestrator/core/downloader"
	"finetune-orchestrator/core/manager"
	"finetune-orchestrator/core/postprocess"
	"finetune-orchestrator/core/repository"
	"finetune-orchestrator/storage"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the job store
	jobRepo, err := repository.NewJobRepository(cfg.Paths.JobsDir)
	if err != nil {
		logrus.Fatalf("Failed to open job store: %v", err)
	}

	// Initialize download components
	hub := downloader.NewHubClient(cfg.Hub.Endpoint, cfg.Hub.Token)
	dl := downloader.NewDownloader(hub, cfg.Download.Concurrency)
	cache := storage.NewModelCache(cfg.Paths.ModelCacheDir)

	// Initialize the post-processing pipeline
	pipeline := postprocess.NewPipeline(cfg.Paths.Python, cfg.Paths.ConvertScript)

	// Initialize the job manager
	mgr := manager.NewManager(jobRepo, hub, dl, cache, pipeline, manager.Options{
		Python:   cfg.Paths.Python,
		HubToken: cfg.Hub.Token,
	})
	if err := mgr.Load(); err != nil {
		logrus.Fatalf("Failed to load jobs: %v", err)
	}

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, mgr)

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logrus.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	// Kill any live training processes without touching stored state so the
	// restart recovery pass can mark them failed.
	mgr.Shutdown()
	logrus.Info("Server exited")
}
