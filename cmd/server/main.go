package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aquasight/deepsee/internal/config"
	"github.com/aquasight/deepsee/internal/database"
	"github.com/aquasight/deepsee/internal/handler"
	"github.com/aquasight/deepsee/internal/history"
	"github.com/aquasight/deepsee/internal/identity"
	"github.com/aquasight/deepsee/internal/inference"
	"github.com/aquasight/deepsee/internal/metrics"
	"github.com/aquasight/deepsee/internal/queue"
	"github.com/aquasight/deepsee/internal/router"
	"github.com/aquasight/deepsee/internal/session"
	"github.com/aquasight/deepsee/internal/store"
	"github.com/aquasight/deepsee/internal/upload"
)

func main() {
	_ = godotenv.Load() // best effort; real deployments set the environment directly
	cfg := config.Load()

	// Record store backing: MySQL for durability, the broker for change
	// notifications.
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := database.EnsureSchema(ctx, db); err != nil {
		cancel()
		log.Fatalf("ensure schema: %v", err)
	}
	cancel()

	events := queue.NewDispatcher()
	go func() {
		if err := queue.StartPredictionConsumer(events); err != nil {
			log.Printf("record-consumer stopped: %v", err)
		}
	}()
	records := store.New(db, events)

	// External collaborators.
	provider := identity.NewClient(cfg.IdentityURL, cfg.IdentityAPIKey)
	infer := inference.NewClient(cfg.InferenceURL)

	var google *identity.GoogleProvider
	if cfg.GoogleClientID != "" {
		google, err = identity.NewGoogleProvider(context.Background(), cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			log.Fatalf("google provider: %v", err)
		}
	} else {
		log.Printf("federated sign-in disabled: GOOGLE_CLIENT_ID not set")
	}

	// Workflow core.
	gate := session.NewGate(records, provider)
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)
	uploads := upload.NewRegistry(gate, infer, records, collector)
	streamer := history.NewStreamer(records)

	// Redis is optional: without it the cache and rate limiter disable
	// themselves.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: response cache and rate limiting disabled")
	}

	e := echo.New()
	router.RegisterRoutes(e, promReg)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, provider, google, gate, records), cfg.JWTSecret, gate)
	router.RegisterPredictions(e, handler.NewPredictionHandler(cfg, gate, uploads, streamer, records), cfg.JWTSecret, gate, rdb)

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
