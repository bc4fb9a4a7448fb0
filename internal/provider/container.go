package provider

import (
	"time"

	"github.com/stackspay/gateway/internal/cache"
	"github.com/stackspay/gateway/internal/config"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/queue"
	"github.com/stackspay/gateway/internal/repository"
	"github.com/stackspay/gateway/internal/service"
	"github.com/stackspay/gateway/internal/stacks"
	"github.com/stackspay/gateway/internal/wallet"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	ChainClient stacks.Client
	WalletGen   *wallet.Generator

	// Repositories
	PaymentRepo  repository.PaymentRepository
	MerchantRepo repository.MerchantRepository
	WebhookRepo  repository.WebhookRepository

	// Services
	PaymentService      *service.PaymentService
	SettlementService   *service.SettlementService
	NotificationService *service.NotificationService
	MerchantService     *service.MerchantService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	chainClient, err := stacks.NewHTTPClient(stacks.Config{
		BaseURL:          cfg.Stacks.APIBaseURL,
		Network:          cfg.Stacks.Network,
		RequestTimeoutMS: cfg.Stacks.RequestTimeoutMS,
	})
	if err != nil {
		logger.Errorw("provider_init_chain_client_failed", "error", err)
		panic(err)
	}

	cipher, err := wallet.NewKeyCipher(cfg.Security.KeyEncryptionSecret)
	if err != nil {
		logger.Errorw("provider_init_key_cipher_failed", "error", err)
		panic(err)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		ChainClient: chainClient,
		WalletGen:   wallet.NewGenerator(cfg.Stacks.Network, cipher),
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.PaymentRepo = repository.NewPaymentRepository(db)
	c.MerchantRepo = repository.NewMerchantRepository(db)
	c.WebhookRepo = repository.NewWebhookRepository(db)
}

func (c *Container) initServices() {
	deliverTimeout := time.Duration(c.Config.Stacks.WebhookDeliverTimeoutMS) * time.Millisecond
	c.NotificationService = service.NewNotificationService(c.WebhookRepo, c.PaymentRepo, c.QueueClient, deliverTimeout)
	c.MerchantService = service.NewMerchantService(c.MerchantRepo, c.WebhookRepo, c.Config.Stacks.Network, c.Config.Payment.DefaultFeeRateBasisPoints)
	c.PaymentService = service.NewPaymentService(c.PaymentRepo, c.MerchantRepo, c.WalletGen, c.QueueClient, c.NotificationService, &c.Config.Payment)
	c.SettlementService = service.NewSettlementService(c.PaymentRepo, c.MerchantRepo, c.WalletGen, c.ChainClient, c.QueueClient, c.NotificationService, &c.Config.Payment, c.Config.Stacks.FallbackTransferFee)
}
