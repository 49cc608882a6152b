// Command server is the meshchat HTTP entrypoint: it loads configuration,
// opens the database, builds the worker pool, orchestrator, and router, and
// serves until SIGINT/SIGTERM, draining in-flight streams on shutdown.
// Grounded on the teacher's cmd/server/main.go graceful-shutdown shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/meshchat/meshchat-service/internal/auth"
	"github.com/meshchat/meshchat-service/internal/config"
	"github.com/meshchat/meshchat-service/internal/httpapi"
	"github.com/meshchat/meshchat-service/internal/logger"
	"github.com/meshchat/meshchat-service/internal/orchestrator"
	"github.com/meshchat/meshchat-service/internal/repository"
	"github.com/meshchat/meshchat-service/internal/worker"
	"github.com/meshchat/meshchat-service/internal/workerpool"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting meshchat server", "instance_id", logger.GetInstanceID())

	db, err := repository.OpenDatabase(cfg)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tokenValidator, err := auth.NewTokenValidator(cfg.JWTJWKSURL)
	if err != nil {
		log.Error("failed to initialize token validator", "error", err)
		os.Exit(1)
	}
	authMiddleware := auth.NewMiddleware(tokenValidator)

	chats := repository.NewChatRepository(db)
	messages := repository.NewMessageRepository(db)
	blobs, err := repository.NewBlobRepository(db, cfg.BlobStorageDir)
	if err != nil {
		log.Error("failed to initialize blob repository", "error", err)
		os.Exit(1)
	}

	workerBinary, err := meshworkerBinaryPath()
	if err != nil {
		log.Error("failed to locate meshworker binary", "error", err)
		os.Exit(1)
	}

	pool := workerpool.New(cfg.Assistant.MaxWorkers, func() (*worker.Worker, error) {
		env := []string{
			"MESHWORKER_IMPLEMENTATION=" + string(cfg.Assistant.Implementation),
			"MESHWORKER_MODEL_PATH=" + cfg.Assistant.ModelPath,
			"MESHWORKER_LORA_PATH=" + cfg.Assistant.LoraPath,
		}
		return worker.Spawn(workerBinary, env)
	})

	orch := orchestrator.New(pool, messages, blobs, log)

	router := httpapi.NewRouter(authMiddleware, chats, messages, orch, blobs.Dir(), splitCSV(cfg.CORSAllowedOrigins), log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	orch.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}

// meshworkerBinaryPath resolves the meshworker subprocess binary: next to
// the running executable if present there, otherwise on $PATH. The build
// produces both cmd/server and cmd/meshworker binaries; deployments place
// them side by side.
func meshworkerBinaryPath() (string, error) {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "meshworker")
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	return exec.LookPath("meshworker")
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
