package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/app"
	"github.com/xelth-com/pcsyncgo/internal/buildinfo"
	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/handlers"
	"github.com/xelth-com/pcsyncgo/internal/logging"
	"github.com/xelth-com/pcsyncgo/internal/sync"
	"github.com/xelth-com/pcsyncgo/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	syncCfg, err := config.LoadSyncConfig("")
	if err != nil {
		log.Fatalf("Failed to load sync configuration: %v", err)
	}
	log.Printf("🚀 pcsync %s (built %s)", buildinfo.Version(), buildinfo.BuildTime)

	// 2. Event hub for admin clients
	hub := websocket.NewHub()
	go hub.Run()

	// 3. Database, host store, remote client and engine
	a, err := app.New(cfg, syncCfg, hub)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	// 4. Scheduler
	scheduler := sync.NewScheduler(a.Engine)
	if syncCfg.SchedulerEnabled {
		if err := scheduler.Start(); err != nil {
			log.Printf("⚠️ Scheduler: failed to start: %v", err)
		}
	} else {
		log.Println("⏭️ Scheduler disabled (PCSYNC_SCHEDULER_ENABLED=false)")
	}

	// 5. HTTP router
	router := handlers.NewRouter(handlers.Deps{
		DB:        a.DB,
		Engine:    a.Engine,
		Scheduler: scheduler,
		Remote:    a.Remote,
		Hub:       hub,
		JWTSecret: cfg.JWTSecret,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("🚀 Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("⚠️  Received signal: %v. Shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	scheduler.Stop()
	hub.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := a.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
