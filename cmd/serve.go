package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // tz query parameter must resolve on slim images

	"wildlife-challenge-system/handlers"
	"wildlife-challenge-system/services"
	"wildlife-challenge-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the challenge HTTP service and its background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("addr") {
			serveAddr = cfg.ListenAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":5200", "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	c, err := buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.badges.SeedBadgeTypes(ctx); err != nil {
		return err
	}

	zone, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return err
	}

	var publisher services.ChallengeEventPublisher = services.NewNoopPublisher()
	if cfg.RedisAddr != "" {
		redisPub, err := services.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel, log)
		if err != nil {
			log.Warn("⚠️ challenge events disabled, redis unreachable", "addr", cfg.RedisAddr, "error", err)
		} else {
			publisher = redisPub
		}
	}
	defer publisher.Close()

	tracker := services.NewProgressTracker(c.db, c.progression,
		services.WithBadgeChecker(c.progression),
		services.WithPublisher(publisher),
		services.WithTrackerMetrics(c.metrics),
		services.WithTrackerLogger(log),
	)

	scheduler, err := services.NewMaintenanceScheduler(tracker, c.manifests, cfg.SightingLedgerRetention, log)
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Warn("scheduler shutdown", "error", err)
		}
	}()

	var running []<-chan struct{}
	if cfg.CatalogServiceURL != "" {
		w := workers.NewAnimalCatalogSyncWorker(c.db, cfg.CatalogServiceURL, cfg.ServiceToken, cfg.CatalogSyncInterval, log)
		w.Start(ctx)
		running = append(running, w.Done())
	} else {
		log.Warn("⚠️ CATALOG_SERVICE_URL not set, animal catalog will not sync")
	}
	if cfg.SightingServiceURL != "" {
		p := workers.NewSightingFeedPoller(cfg.SightingServiceURL, cfg.ServiceToken, tracker, cfg.SightingPollInterval, log)
		p.Start(ctx)
		running = append(running, p.Done())
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.Register(app, handlers.Deps{
		ServiceToken: cfg.ServiceToken,
		Challenges: &handlers.ChallengeHandler{
			Keyer:       c.keyer,
			Store:       c.challenges,
			DefaultZone: zone,
		},
		Manifests:   c.manifests,
		Tracker:     tracker,
		Progression: c.progression,
		Badges:      c.badges,
		Metrics:     c.metrics,
		Log:         log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(serveAddr)
	}()

	log.Info("✅ Server running", "addr", serveAddr)
	log.Info("✅ CORS configured", "origins", cfg.AllowedOrigins)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	for _, done := range running {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Warn("worker did not stop in time")
		}
	}
	return nil
}
