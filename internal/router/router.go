package router

import (
	"fmt"
	"strings"

	"github.com/stackspay/gateway/internal/cache"
	"github.com/stackspay/gateway/internal/config"
	publichandlers "github.com/stackspay/gateway/internal/http/handlers/public"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "sp"
	}
	redisClient := cache.Client()
	apiRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:api", redisPrefix),
		WindowSeconds: cfg.Security.APIRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.APIRateLimit.MaxRequests,
		Message:       "API rate limit exceeded",
	}
	registerRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:register", redisPrefix),
		WindowSeconds: cfg.Security.RegisterRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.RegisterRateLimit.MaxRequests,
		Message:       "registration rate limit exceeded",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		apiV1.POST("/merchants", RateLimitMiddleware(redisClient, registerRule, KeyByIP), publicHandler.RegisterMerchant)

		// 链上事件推送（Chainhook 回调，使用共享密钥鉴权）
		apiV1.POST("/chainhook/events", publicHandler.IngestChainEvents)

		// 商户接口（需 API Key 鉴权）
		merchant := apiV1.Group("")
		merchant.Use(MerchantAPIKeyMiddleware(c.MerchantService))
		merchant.Use(RateLimitMiddleware(redisClient, apiRule, KeyByMerchant))
		{
			merchant.GET("/account", publicHandler.GetAccount)
			merchant.POST("/payments", publicHandler.CreatePayment)
			merchant.GET("/payments", publicHandler.ListPayments)
			merchant.GET("/payments/:payment_id", publicHandler.GetPayment)
			merchant.POST("/payments/:payment_id/cancel", publicHandler.CancelPayment)
			merchant.POST("/webhooks", publicHandler.CreateWebhookEndpoint)
			merchant.GET("/webhooks", publicHandler.ListWebhookEndpoints)
			merchant.DELETE("/webhooks/:endpoint_id", publicHandler.DisableWebhookEndpoint)
			merchant.GET("/webhook-deliveries", publicHandler.ListWebhookDeliveries)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
