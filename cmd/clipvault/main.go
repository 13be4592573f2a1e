package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/workpool"
	"github.com/clipvault/clipvault/pkg/blob"
	"github.com/clipvault/clipvault/pkg/config"
	"github.com/clipvault/clipvault/pkg/mediaworker"
	"github.com/clipvault/clipvault/pkg/service"
	"github.com/clipvault/clipvault/pkg/staging"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to set log output: %v", err)
	}

	fmt.Println("clipvault - video cloud storage backend")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Data root: %s", cfg.Storage.DataRoot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog, err := config.CreateCatalog(ctx, &cfg.Catalog)
	if err != nil {
		log.Fatalf("Failed to create catalog: %v", err)
	}
	defer func() {
		if err := catalog.Close(); err != nil {
			logger.Error("Failed to close catalog: %v", err)
		}
	}()
	logger.Info("Catalog initialized: type=%s", cfg.Catalog.Type)

	archive, err := config.CreateArchive(ctx, &cfg.Archive)
	if err != nil {
		log.Fatalf("Failed to create archive: %v", err)
	}
	logger.Info("Archive initialized: type=%s", cfg.Archive.Type)

	layout := blob.NewLayout(cfg.Storage.DataRoot)
	area, err := staging.NewArea(layout.StagingRoot())
	if err != nil {
		log.Fatalf("Failed to create staging area: %v", err)
	}

	svc := service.New(service.Deps{
		Catalog: catalog,
		Archive: archive,
		Mirror:  blob.NewMirror(layout),
		Staging: area,
		Worker:  mediaworker.NewClient(cfg.Worker.Endpoint, cfg.Worker.Timeout),
		Pool:    workpool.New(cfg.Server.MaxMergeWorkers),
	})
	logger.Info("Worker endpoint: %s", cfg.Worker.Endpoint)

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: callbackMux(svc),
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		<-serverDone
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

// callbackMux exposes the thin endpoint transcode workers report back to.
func callbackMux(svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/job_result", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var result mediaworker.Result
		if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}

		if err := svc.TaskDone(r.Context(), result); err != nil {
			logger.Error("Failed to record result of task %d: %v", result.TaskID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}
