package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wenwu/saas-platform/provisioning-service/internal/config"
	"github.com/wenwu/saas-platform/provisioning-service/internal/db"
	"github.com/wenwu/saas-platform/provisioning-service/internal/http"
	"github.com/wenwu/saas-platform/provisioning-service/internal/index"
	"github.com/wenwu/saas-platform/provisioning-service/internal/notify"
	"github.com/wenwu/saas-platform/provisioning-service/internal/protocol"
	"github.com/wenwu/saas-platform/provisioning-service/internal/remote"
	"github.com/wenwu/saas-platform/provisioning-service/internal/repository"
	"github.com/wenwu/saas-platform/provisioning-service/internal/service"
)

func main() {
	log.Println("Starting Provisioning Service...")

	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Apply migrations before opening the pool
	if err := db.Migrate(cfg); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	database, err := db.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	pool := database.Pool

	// Redis existence mirror
	rdb, err := index.Connect(context.Background(), cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	idx := index.New(rdb)

	// Repositories
	serverRepo := repository.NewServerRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)
	logRepo := repository.NewLogRepository(pool)

	// Remote engine and protocol adapters
	executor := remote.NewSSHExecutor(cfg.Remote.ConnectTimeout)
	registry := protocol.NewRegistry(executor, protocol.Budgets{
		Create: cfg.Remote.CreateTimeout,
		Renew:  cfg.Remote.RenewTimeout,
		Delete: cfg.Remote.DeleteTimeout,
		Trial:  cfg.Remote.TrialTimeout,
		Bundle: cfg.Remote.BundleTimeout,
	})

	// Services
	reconciler := service.NewReconciler(accountRepo, serverRepo, idx)
	tracker := service.NewOperationTracker(cfg.Sweep.OpRetention)
	gateway := notify.NewGateway(cfg.Notify.GatewayURL, cfg.InternalSecret)

	provisioning := service.NewProvisionService(
		cfg,
		registry,
		serverRepo,
		accountRepo,
		logRepo,
		reconciler,
		tracker,
	)

	scanner := service.NewScanner(
		cfg,
		accountRepo,
		serverRepo,
		registry,
		reconciler,
		gateway,
		logRepo,
	)

	// Background loops stop on shutdown
	bg, stopBg := context.WithCancel(context.Background())
	go scanner.Run(bg)
	go tracker.Run(bg)

	// HTTP server
	server := http.NewServer(cfg, pool, provisioning, scanner, serverRepo, idx)
	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := server.Run(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopBg()

	// In-flight provisioning calls block on SSH for up to the largest
	// watchdog budget; give them time to settle
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}

	log.Println("Server exited")
}
