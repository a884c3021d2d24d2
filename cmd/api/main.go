package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/mixstationgo/internal/config"
	"github.com/xelth-com/mixstationgo/internal/database"
	"github.com/xelth-com/mixstationgo/internal/handlers"
	"github.com/xelth-com/mixstationgo/internal/models"
	"github.com/xelth-com/mixstationgo/internal/services/erp"
	"github.com/xelth-com/mixstationgo/internal/station"
	"github.com/xelth-com/mixstationgo/internal/utils"
	"github.com/xelth-com/mixstationgo/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.UserAuth{},
		&models.Workorder{},
		&models.BOMLine{},
		&models.Session{},
		&models.ScanEvent{},
		&models.CatalogItem{},
		&models.ERPSyncJob{},
		&models.AuditEntry{},
	); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("✅ Database migration completed")

	seedOperator(db, cfg)

	hub := websocket.NewHub()
	go hub.Run()

	store, err := station.NewStore(station.NewGormRepository(db), hub)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}
	validator := station.NewValidator(station.NewCatalogResolver(db))

	erpService := erp.NewService(db, erp.Config{
		URL:          cfg.ERP.URL,
		Database:     cfg.ERP.Database,
		Username:     cfg.ERP.Username,
		Password:     cfg.ERP.Password,
		SyncInterval: cfg.ERP.SyncIntervalMin,
		MaxRetries:   cfg.ERP.MaxRetries,
		CallTimeout:  time.Duration(cfg.ERP.CallTimeoutSec) * time.Second,
	})
	erpService.Start()

	router := handlers.NewRouter(
		cfg,
		store,
		validator,
		erpService,
		handlers.NewGormWorkorderSource(db),
		handlers.NewGormSessionSource(db),
		handlers.NewGormUserStore(db),
		hub,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Station %s listening on port %s", cfg.StationID, cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Server shutdown error: %v", err)
	}

	erpService.Stop()

	if err := db.Close(); err != nil {
		log.Printf("⚠️ Database close error: %v", err)
	}
	log.Println("✅ Shutdown complete")
}

// seedOperator creates the bootstrap account when the user table is empty,
// so a freshly installed station is operable without manual SQL.
func seedOperator(db *database.DB, cfg *config.Config) {
	var count int64
	if err := db.Model(&models.UserAuth{}).Count(&count).Error; err != nil || count > 0 {
		return
	}
	if cfg.Seed.Password == "" {
		log.Println("⚠️ No operators exist and SEED_OPERATOR_PASSWORD is unset; login will be impossible")
		return
	}

	hash, err := utils.HashPassword(cfg.Seed.Password)
	if err != nil {
		log.Printf("❌ Failed to hash seed password: %v", err)
		return
	}
	user := models.UserAuth{
		Username: cfg.Seed.Username,
		Password: hash,
		Name:     "Station Operator",
		Role:     "operator",
		IsActive: true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Printf("❌ Failed to seed operator account: %v", err)
		return
	}
	log.Printf("✅ Seeded operator account %q", user.Username)
}
