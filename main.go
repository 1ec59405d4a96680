package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interview-system/config"
	"interview-system/handlers"
	"interview-system/monitoring"
	"interview-system/retell"
	"interview-system/security"
	"interview-system/services"
	"interview-system/storage"
	"interview-system/utils"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Voice provider client
	providerOpts := []retell.Option{}
	if cfg.RetellBaseURL != "" {
		providerOpts = append(providerOpts, retell.WithBaseURL(cfg.RetellBaseURL))
	}
	provider := retell.New(cfg.RetellAPIKey, providerOpts...)

	// Interview log
	interviews, err := storage.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open interview store: %v", err)
	}
	defer interviews.Close()

	// Monitoring
	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(redisClient, services.WaitingKey, services.ReservedKey)
	}

	// Initialize services
	queueStore := services.NewQueueStore(redisClient, pn, cfg.WaitingListLimit)
	oracle := services.NewCapacityOracle(provider)
	creditService := services.NewCreditService(redisClient)
	admissionService := services.NewAdmissionService(queueStore, oracle, creditService, monitor, cfg.MaxConcurrency)
	promotionService := services.NewPromotionService(queueStore, cfg, monitor)
	sessionService := services.NewSessionService(queueStore, creditService, interviews, provider, cfg.RetellAgentID)

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(admissionService, queueStore, monitor)
	webhookHandler := handlers.NewWebhookHandler(promotionService, interviews, provider, cfg.MaxConcurrency)
	interviewHandler := handlers.NewInterviewHandler(sessionService, interviews)
	rateLimiter := security.NewRateLimiter(redisClient)

	// Start background services
	promotionService.Start()

	// Clear anything that expired while we were down
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := promotionService.HandleCallEnded(ctx); err != nil {
			log.Printf("Startup sweep error: %v", err)
		}
	}()

	// Register routes
	e := echo.New()

	e.POST("/api/queue/join", queueHandler.JoinQueue, rateLimiter.QueueRateLimit())
	e.POST("/api/queue/leave", queueHandler.LeaveQueue)
	e.GET("/api/queue/status", queueHandler.GetQueueStatus)

	e.POST("/api/retell/webhook", webhookHandler.HandleProviderEvent)
	e.GET("/api/retell/status", webhookHandler.GetProviderStatus)

	e.POST("/api/interviews", interviewHandler.StartInterview, rateLimiter.QueueRateLimit())
	e.GET("/api/interviews", interviewHandler.GetHistory)

	e.GET("/health", func(c echo.Context) error {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]string{"status": "healthy"})
	})

	log.Println("Server routes registered")

	// Metrics listener
	if cfg.EnableMetrics {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	go func() {
		log.Printf("Listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	promotionService.Shutdown()
	log.Println("Shutdown complete")
}
