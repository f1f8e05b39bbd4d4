package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/peer-signaling/config"
	"github.com/mossy-p/peer-signaling/internal/handlers"
	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/presence"
	"github.com/mossy-p/peer-signaling/internal/redis"
	"github.com/mossy-p/peer-signaling/internal/relay"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if cfg.Environment != "production" {
		logging.EnableDebug()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []presence.Option{presence.WithUniqueNames(cfg.UniqueNames)}

	// Mirror the roster to Redis when enabled
	var mirrorDone chan struct{}
	if cfg.Redis.Enabled {
		mirror, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			logging.Error("%v", err)
			os.Exit(1)
		}
		defer mirror.Close()
		logging.Info("Redis connection established, mirroring roster to %q", cfg.Redis.RosterKey)

		opts = append(opts, presence.WithObserver(mirror))
		mirrorDone = make(chan struct{})
		go func() {
			mirror.Run(ctx)
			close(mirrorDone)
		}()
	}

	directory := presence.NewDirectory(opts...)
	r := relay.New(directory)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(cfg, directory, r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info("Starting signaling relay on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Failed to start server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		logging.Warn("Failed to shut down cleanly: %v", err)
	}
	if mirrorDone != nil {
		<-mirrorDone
	}
}
