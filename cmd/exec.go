package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"gatepass/config"
	"gatepass/handlers"
	"gatepass/monitoring"
	"gatepass/security"
	"gatepass/services"
	"gatepass/utils"

	_ "gatepass/migrations"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	registrationService := services.NewRegistrationService(app.DB())
	checkInService := services.NewCheckInService(redisClient, registrationService, pn)

	// Initialize security
	rateLimiter := security.NewRateLimiter(redisClient)
	deviceAuth := security.NewDeviceAuthenticator(redisClient)

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(app, registrationService, checkInService)
	checkInHandler := handlers.NewCheckInHandler(app, checkInService, registrationService)
	registrationHandler := handlers.NewRegistrationHandler(app, registrationService)
	scanHandler := handlers.NewScanHandler(app)
	adminHandler := handlers.NewAdminHandler(app, deviceAuth, checkInService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Device-side commands sharing the same binary
	app.RootCmd.AddCommand(newGateCommand(cfg), newIssueCommand(cfg))

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
		go serveMetrics(cfg.MetricsPort)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		go logAdmissionState(ctx, redisClient)

		// Ticket endpoints
		e.Router.POST("/api/v1/tickets/issue", ticketHandler.IssueTicket).
			BindFunc(rateLimiter.AntiBotMiddleware())
		e.Router.GET("/api/v1/tickets/{registrationId}/qr", ticketHandler.TicketQR)
		e.Router.GET("/api/v1/tickets/{registrationId}/pdf", ticketHandler.TicketPDF)

		// Check-in endpoints, scanner devices only
		e.Router.POST("/api/v1/checkin/attempt", checkInHandler.AttemptCheckIn).
			BindFunc(deviceAuth.Require()).
			BindFunc(rateLimiter.ScanRateLimit())
		e.Router.GET("/api/v1/checkin/{registrationId}/status", checkInHandler.GetStatus).
			BindFunc(deviceAuth.Require())
		e.Router.POST("/api/v1/scan/decode", scanHandler.DecodeImage).
			BindFunc(deviceAuth.Require()).
			BindFunc(rateLimiter.ScanRateLimit())

		// Registration endpoints
		e.Router.GET("/api/v1/registrations/{registrationId}/photo", registrationHandler.GetPhoto).
			BindFunc(deviceAuth.Require())

		// Admin endpoints
		e.Router.POST("/api/v1/admin/devices/provision", adminHandler.ProvisionDevice)
		e.Router.POST("/api/v1/admin/devices/revoke", adminHandler.RevokeDevice)
		e.Router.GET("/api/v1/admin/events/{eventId}/admissions", adminHandler.GetAdmissionCount)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupRegistrationHooks(app, redisClient)

		return e.Next()
	})

	// Start server
	return app.Start()
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

// logAdmissionState reports the admission counters that survived a restart.
// Check-in state lives in Redis, so a server restart mid-event loses nothing.
func logAdmissionState(ctx context.Context, redisClient *redis.Client) {
	keys, err := redisClient.Keys(ctx, "event:checkins:*").Result()
	if err != nil {
		log.Printf("Error reading admission state: %v", err)
		return
	}

	for _, key := range keys {
		eventID := key[len("event:checkins:"):]
		count, _ := redisClient.SCard(ctx, key).Result()
		log.Printf("Event %s has %d admitted registrations", eventID, count)
	}
}

func setupRegistrationHooks(app *pocketbase.PocketBase, redisClient *redis.Client) {
	// A cancelled registration must stop admitting immediately, even if a
	// previously issued token is still circulating. The Redis check-in hash
	// is cleared so a later re-approval starts from a clean state.
	app.OnRecordUpdateRequest("registrations").BindFunc(func(e *core.RecordRequestEvent) error {
		ctx := e.Request.Context()

		registrationID := e.Record.Id
		newStatus := e.Record.GetString("status")

		if newStatus == "cancelled" {
			if err := redisClient.Del(ctx, "checkin:"+registrationID).Err(); err != nil {
				slog.Error("Failed to clear check-in state for cancelled registration",
					"registrationID", registrationID,
					"error", err,
				)
				return nil // Don't block the request if Redis cleanup fails
			}
			slog.Info("Cleared check-in state for cancelled registration", "registrationID", registrationID)
		}
		return nil
	})

	app.OnRecordDeleteRequest("registrations").BindFunc(func(e *core.RecordRequestEvent) error {
		ctx := e.Request.Context()

		registrationID := e.Record.Id
		if err := redisClient.Del(ctx, "checkin:"+registrationID).Err(); err != nil {
			slog.Error("Failed to clear check-in state for deleted registration",
				"registrationID", registrationID,
				"error", err,
			)
			return nil
		}
		slog.Info("Cleared check-in state for deleted registration", "registrationID", registrationID)
		return nil
	})
}

func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")
	cancel()
}
