package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/filegate/internal/api"
	"github.com/zots0127/filegate/internal/catalog"
	"github.com/zots0127/filegate/internal/cdn"
	"github.com/zots0127/filegate/internal/config"
	"github.com/zots0127/filegate/internal/keys"
	"github.com/zots0127/filegate/internal/objectstore"
	"github.com/zots0127/filegate/internal/usecase"
	"github.com/zots0127/filegate/internal/validation"
)

func main() {
	cfg := config.Load()

	if cfg.API.Key == "" {
		log.Fatal("API key must be set via FILEGATE_API_KEY environment variable or config file")
	}
	if cfg.S3.Bucket == "" {
		log.Fatal("S3 bucket must be configured")
	}

	cat, err := catalog.New(cfg.Catalog.Database)
	if err != nil {
		log.Fatal("Failed to initialize catalog:", err)
	}
	defer cat.Close()

	store, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		PathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		log.Fatal("Failed to initialize object store:", err)
	}

	policy, err := validation.NewPolicy(cfg.Upload.MaxSizeBytes, cfg.Upload.Categories)
	if err != nil {
		log.Fatal("Invalid upload policy:", err)
	}

	coordinator := usecase.NewCoordinator(
		validation.NewValidator(policy),
		keys.NewAllocator(),
		store,
		cat,
		usecase.DefaultRetryConfig(),
	)
	signer := cdn.NewSigner(cfg.CDN.Domain, cfg.CDN.Secret, cfg.CDNExpiry())

	router := gin.Default()
	api.NewAPI(coordinator, signer, cfg.API.Key).RegisterRoutes(router)

	log.Printf("Starting server on port %s", cfg.API.Port)
	if err := router.Run(":" + cfg.API.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
