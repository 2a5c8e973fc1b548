package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/onboard/internal/config"
	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/handlers/firewall"
	"github.com/charleshuang3/onboard/internal/handlers/invites"
	"github.com/charleshuang3/onboard/internal/handlers/middleware"
	"github.com/charleshuang3/onboard/internal/identity"
	"github.com/charleshuang3/onboard/internal/invite"
	"github.com/charleshuang3/onboard/internal/notify"
	"github.com/charleshuang3/onboard/internal/storage"
)

var (
	configPath = flag.String("c", os.Getenv("CONFIG_PATH"), "Path to configuration file")
)

func main() {
	flag.Parse()
	if *configPath == "" {
		log.Fatal().Msg("Config path must be provided via CONFIG_PATH env var or -c flag")
	}

	// Load configuration
	cfg := config.LoadConfig(*configPath)

	// cron schedule
	scheduler, _ := gocron.NewScheduler()
	scheduler.Start()

	// Initialize database
	db, err := gormw.Open(&cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	if err := storage.RegisterExpiredInvitesCleaner(scheduler, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to register expired invites cleaner")
	}

	manager := invite.NewManager(invite.ManagerConfig{
		WebOrigin: cfg.WebOrigin,
		Invites:   storage.NewInviteStore(db),
		Profiles:  storage.NewProfileStore(db),
		Notifier:  notify.New(&cfg.SMTP),
		Directory: storage.NewDirectory(db),
	})
	identities := identity.NewLocalProvider(&cfg.Identity, db)
	coordinator := invite.NewCoordinator(manager, identities, cfg.Redeem.Policy())

	// Set up Gin router
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	fw := firewall.New(&cfg.Firewall)
	router.Use(fw.Middleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.NewAuthenticator(&cfg.Auth)
	api := router.Group("/api")
	inviteHandlers := invites.New(manager, coordinator, auth)
	inviteHandlers.RegisterHandlers(api)
	fw.RegisterHandlers(api.Group("/firewall", auth.RequireRequester(), inviteHandlers.RequireAdmin()))

	// Start server
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		// Redemption sleeps between retries, leave it room.
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	// Run our server in a goroutine so that it doesn't block.
	go func() {
		log.Info().Msgf("start server at %q", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	c := make(chan os.Signal, 1)
	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
	signal.Notify(c, os.Interrupt)

	// Block until we receive our signal.
	<-c

	// Create a deadline to wait for.
	wait := time.Second * 15
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait
	// until the timeout deadline.
	srv.Shutdown(ctx)

	// let background self-healing and profile triggers finish
	manager.Wait()
	identities.Wait()
	_ = scheduler.Shutdown()

	log.Info().Msg("shutting down")
	os.Exit(0)
}
