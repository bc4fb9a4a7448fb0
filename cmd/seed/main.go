package main

import (
	"errors"

	"github.com/stackspay/gateway/internal/config"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/repository"
	"github.com/stackspay/gateway/internal/service"
)

// 开发环境种子：创建一个演示商户并打印一次性 API Key。
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	merchantRepo := repository.NewMerchantRepository(models.DB)
	webhookRepo := repository.NewWebhookRepository(models.DB)
	merchantService := service.NewMerchantService(merchantRepo, webhookRepo, cfg.Stacks.Network, cfg.Payment.DefaultFeeRateBasisPoints)

	demoAddress := "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	if cfg.Stacks.Network != "mainnet" {
		demoAddress = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"
	}

	result, err := merchantService.RegisterMerchant(service.RegisterMerchantInput{
		Name:          "Demo Merchant",
		Email:         "demo@example.com",
		BusinessName:  "Demo Store",
		StacksAddress: demoAddress,
	})
	if err != nil {
		if errors.Is(err, service.ErrMerchantEmailExists) {
			stdLog.Printf("Demo merchant already exists: demo@example.com")
			return
		}
		stdLog.Fatalf("Failed to create demo merchant: %v", err)
	}

	stdLog.Printf("Created demo merchant: %s (id=%d)", result.Merchant.Email, result.Merchant.ID)
	stdLog.Printf("API key (shown once, store it now): %s", result.APIKey)
}
