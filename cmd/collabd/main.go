// Command collabd runs the ARTIFACTOR collaboration core: the WebSocket
// hub, its HTTP API, and the background services (presence sweep,
// notification dispatch, inference pipeline) that back them. Grounded on
// the teacher's cmd/v1/session/main.go composition, generalized from one
// Hub to the full service set.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/app"
	"github.com/artifactor-hq/collab-core/internal/v1/config"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"go.uber.org/zap"
)

func main() {
	bg := context.Background()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logging.Fatal(bg, "collabd: load config", zap.Error(err))
	}

	application, err := app.Initialize(cfg)
	if err != nil {
		logging.Fatal(bg, "collabd: initialize application", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: application.Engine,
	}

	go func() {
		logging.Info(bg, "collabd: listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(bg, "collabd: server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(bg, "collabd: shutting down")

	ctx, cancel := context.WithTimeout(bg, 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error(bg, "collabd: forced shutdown", zap.Error(err))
	}
	if err := application.Shutdown(ctx); err != nil {
		logging.Error(bg, "collabd: application shutdown error", zap.Error(err))
	}
	logging.Info(bg, "collabd: exited")
}
