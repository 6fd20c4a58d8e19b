package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"github.com/shibob53/webook-scraper/browser"
	"github.com/shibob53/webook-scraper/config"
	"github.com/shibob53/webook-scraper/handlers"
	_ "github.com/shibob53/webook-scraper/migrations"
	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/monitoring"
	"github.com/shibob53/webook-scraper/realtime"
	"github.com/shibob53/webook-scraper/services"
	"github.com/shibob53/webook-scraper/store"
	"github.com/shibob53/webook-scraper/utils"
)

const cleanupTimeout = 30 * time.Second

func main() {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	// Initialize PubNub
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	}
	emitter := realtime.NewEmitter(pn, cfg.LogChannel)

	// Initialize browser
	driver := browser.NewChromeDriver(browser.ChromeOptions{
		Headless:          cfg.Headless,
		NavigationTimeout: cfg.NavigationTimeout,
		SelectorTimeout:   cfg.SelectorTimeout,
		EvalTimeout:       cfg.EvalTimeout,
	})

	// Initialize services
	st := store.New(app)
	inventory := services.NewInventoryCache()
	listing := services.NewListingService(redisClient, cfg.ListingAPIURL, cfg.ListingCacheTTL)
	session := services.NewSessionService(
		st, redisClient, emitter,
		cfg.BaseURL+cfg.HomePath,
		cfg.BaseURL+cfg.LoginPath,
		cfg.LoginTimeout,
		cfg.LoginBurst,
	)
	sweeper := services.NewSweeper(st, emitter, cfg.HoldTTL)

	newReserver := func(settings *models.Settings) services.Reserver {
		return services.NewReservationService(
			st, inventory, listing, emitter,
			settings, cfg.ClaimBatchSize, cfg.NavigationTimeout,
		)
	}
	engine := services.NewEngine(
		st, driver, inventory, session, sweeper, emitter,
		newReserver, cfg.WorkerPause, cfg.RefreshInterval,
	)

	// Initialize handlers
	crawlerHandler := handlers.NewCrawlerHandler(engine)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// The cron fires every minute; the settings' recheck interval gates how
	// often the engine actually sweeps lapsed holds and reconciles quota
	// counters on a live run.
	app.Cron().MustAdd("checkHoldTokens", "*/1 * * * *", func() {
		if err := engine.CheckHoldTokens(context.Background()); err != nil {
			log.Printf("hold token check failed: %v", err)
		}
	})

	if cfg.EnableMetrics {
		monitoring.CollectRuntimeMetrics()
	}

	// Setup graceful shutdown
	go handleShutdown(engine, driver)

	// Register routes
	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		if err := driver.Launch(context.Background()); err != nil {
			return err
		}

		// Crawler endpoints
		e.Router.POST("/api/crawler/start", crawlerHandler.Start)
		e.Router.POST("/api/crawler/stop", crawlerHandler.Stop)
		e.Router.POST("/api/crawler/resume", crawlerHandler.Resume)
		e.Router.POST("/api/crawler/reset", crawlerHandler.Reset)
		e.Router.GET("/api/crawler/status", crawlerHandler.Status)

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", func(re *core.RequestEvent) error {
				promhttp.Handler().ServeHTTP(re.Response, re.Request)
				return nil
			})
		}

		// Test endpoint for forcing a sweep
		if cfg.Environment == "development" {
			e.Router.POST("/api/test/sweep", func(re *core.RequestEvent) error {
				swept, err := sweeper.Sweep(re.Request.Context())
				if err != nil {
					return err
				}
				return re.JSON(200, map[string]any{"swept": swept})
			})
		}

		// Health check
		e.Router.GET("/health", func(re *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return re.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return re.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(engine *services.Engine, driver *browser.ChromeDriver) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")

	if engine.IsRunning() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := engine.Stop(ctx); err != nil {
			log.Printf("engine stop: %v", err)
		}
		cancel()
	}
	if err := driver.Close(); err != nil {
		log.Printf("browser close: %v", err)
	}
}
