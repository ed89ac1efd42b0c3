package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mocha-rewards/chain"
	"mocha-rewards/config"
	"mocha-rewards/handlers"
	"mocha-rewards/models"
	"mocha-rewards/services"
	"mocha-rewards/utils"
	"mocha-rewards/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:          "mocha-rewards",
	Short:        "Memory redemption and chain reconciliation service",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, chain listener and reconciler",
		RunE:  runServe,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func newQRGenerator(ctx context.Context, cfg *config.Config) (*services.QRGenerator, error) {
	if !cfg.R2Enabled() {
		log.Println("⚠️  R2 not configured, QR images are stored as data URLs")
		return services.NewQRGenerator(nil), nil
	}
	store, err := utils.NewR2Store(ctx, utils.R2Settings{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		Bucket:          cfg.R2Bucket,
		CDNBaseURL:      cfg.CDNBaseURL,
	})
	if err != nil {
		return nil, err
	}
	return services.NewQRGenerator(store), nil
}

func defaultMemory(cfg *config.Config) services.DefaultMemory {
	return services.DefaultMemory{
		ContractAddress: cfg.ContractAddress,
		CreatorWallet:   cfg.DefaultCreatorWallet,
		Title:           cfg.DefaultTitle,
		Description:     cfg.DefaultDescription,
		ImageURL:        cfg.DefaultImageURL,
	}
}

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Cache-Control",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	return app
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.ContractAddress)
	if err != nil {
		return err
	}
	defer client.Close()

	qr, err := newQRGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	// The root memory must exist before the first mint is handled.
	boot := services.NewBootstrapper(db, client, qr, defaultMemory(cfg))
	if _, _, err := boot.EnsureDefaultMemory(ctx); err != nil {
		return fmt.Errorf("bootstrap root memory: %w", err)
	}

	ledger := services.NewLedger(db)
	hub := services.NewHub(cfg.SessionBuffer)
	engine := services.NewRedemptionEngine(db, hub)
	memoryService := services.NewMemoryService(db, ledger, qr, engine)
	verifier := services.NewTokenVerifier(cfg.JWTSecret)

	listener := workers.NewChainListener(client, ledger, services.NewMetadataFetcher(utils.HTTPClient))
	reconciler := workers.NewReconciler(listener, cfg.StartBlock, cfg.BackfillWindow, cfg.ReconcileInterval)

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := listener.Run(ctx); err != nil {
			log.Printf("❌ [ChainListener] %v", err)
		}
	}()
	if err := reconciler.Start(ctx); err != nil {
		return err
	}

	app := newApp(cfg)
	handlers.SetupHealthRoutes(app, db)
	handlers.SetupMemoryRoutes(app, memoryService, hub, verifier)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Printf("Server error: %v", err)
			stop()
		}
	}()

	log.Printf("✅ Server running on http://localhost:%d", cfg.Port)
	log.Printf("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("⚠️  fiber shutdown: %v", err)
	}
	if err := reconciler.Shutdown(); err != nil {
		log.Printf("⚠️  scheduler shutdown: %v", err)
	}
	<-listenerDone
	return nil
}
