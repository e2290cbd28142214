package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/config"
	"github.com/Merlotec/jdsite/internal/handler"
	"github.com/Merlotec/jdsite/internal/mailer"
	"github.com/Merlotec/jdsite/internal/middleware"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/repository"
	"github.com/Merlotec/jdsite/internal/router"
	"github.com/Merlotec/jdsite/internal/service"
	"github.com/Merlotec/jdsite/internal/store"
	"github.com/Merlotec/jdsite/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := os.MkdirAll(cfg.FsRoot, 0o755); err != nil {
		log.Fatalf("failed to create filesystem root: %v", err)
	}

	env, err := store.Open(cfg.DatabasePath())
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer env.Close()

	stores, err := repository.NewStores(env, logger)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}

	catalogue, err := models.LoadCatalogue(cfg.CataloguePath)
	if err != nil {
		log.Fatalf("failed to load award catalogue: %v", err)
	}

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail, err = mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			Sender:   cfg.Sender,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create mailer: %v", err)
		}
	} else {
		logger.Warn().Msg("no smtp host configured; mail is logged only")
		mail = mailer.NewConsole(logger)
	}
	defer mail.Close()

	validate := utils.NewValidator()

	assets := service.NewAssetService(cfg.SectionsRoot(), logger)
	accounts := service.NewAccountService(stores, assets, mail, validate, catalogue, cfg.SiteHost, cfg.SessionTTL, cfg.LinkTTL, logger)
	orgs := service.NewOrgService(stores, accounts, validate, logger)
	sections := service.NewSectionService(stores, assets, catalogue, logger)
	stats := service.NewStatsService(stores, catalogue, logger)
	sweeper := service.NewSweeperService(stores, assets, logger)
	notifier := service.NewNotificationService(stores, mail, logger)

	if err := accounts.Bootstrap(context.Background(), cfg.RootEmail); err != nil {
		log.Fatalf("failed to bootstrap owner account: %v", err)
	}

	authHandler := handler.NewAuthHandler(accounts, cfg.SessionTTL, logger)
	accountHandler := handler.NewAccountHandler(accounts, logger)
	orgHandler := handler.NewOrgHandler(orgs, logger)
	sectionHandler := handler.NewSectionHandler(sections, logger)
	statsHandler := handler.NewStatsHandler(stats, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:    authHandler,
		AccountHandler: accountHandler,
		OrgHandler:     orgHandler,
		SectionHandler: sectionHandler,
		StatsHandler:   statsHandler,
		SessionAuth:    middleware.SessionAuth(accounts),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx, cfg.SweepInterval)
	go notifier.Run(ctx, cfg.NotificationSleep)

	go func() {
		if err := app.Listen(cfg.HTTPBind); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	if cfg.TLSEnabled() {
		go func() {
			if err := app.ListenTLS(cfg.HTTPSBind, cfg.TLSCert, cfg.TLSKey); err != nil {
				log.Fatalf("failed to start tls server: %v", err)
			}
		}()
	}

	waitForShutdown(app, cancel, logger)
}

// waitForShutdown blocks until SIGINT/SIGTERM or a literal "k" line on
// standard input, then drains the server.
func waitForShutdown(app *fiber.App, cancel context.CancelFunc, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kill := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == "k" {
				close(kill)
				return
			}
		}
	}()

	select {
	case <-shutdownCtx.Done():
	case <-kill:
		logger.Info().Msg("kill command received")
	}

	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
