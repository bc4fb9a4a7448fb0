package worker

import (
	"context"
	"errors"
	"time"

	"github.com/stackspay/gateway/internal/config"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	defaultSweepInterval = time.Minute
	sweepBatchSize       = 200
	reclaimBatchSize     = 50
)

// Service 异步队列服务。
// 除消费队列任务外还运行到期清扫循环，兜底超时任务丢失的场景。
type Service struct {
	name          string
	server        *asynq.Server
	mux           *asynq.ServeMux
	consumer      *Consumer
	sweepInterval time.Duration
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, paymentCfg *config.PaymentConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)

	sweepInterval := defaultSweepInterval
	if paymentCfg != nil && paymentCfg.SweepIntervalSeconds > 0 {
		sweepInterval = time.Duration(paymentCfg.SweepIntervalSeconds) * time.Second
	}
	return &Service{
		name:          "worker",
		server:        server,
		mux:           mux,
		consumer:      consumer,
		sweepInterval: sweepInterval,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.PaymentService != nil {
		go s.runSweepLoop(ctx)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runSweepLoop 周期清扫：到期支付置 expired，回收残留的结算在途标记。
func (s *Service) runSweepLoop(ctx context.Context) {
	if s == nil || s.consumer == nil || s.consumer.PaymentService == nil {
		return
	}
	runOnce := func() {
		expired, err := s.consumer.PaymentService.ExpireDuePayments(sweepBatchSize)
		if err != nil {
			logger.Warnw("worker_expire_sweep_failed", "error", err)
		} else if expired > 0 {
			logger.Infow("worker_expire_sweep_done", "expired", expired)
		}
		if s.consumer.SettlementService == nil {
			return
		}
		reclaimed, err := s.consumer.SettlementService.ReclaimStaleSettling(reclaimBatchSize)
		if err != nil {
			logger.Warnw("worker_reclaim_settling_failed", "error", err)
		} else if reclaimed > 0 {
			logger.Infow("worker_reclaim_settling_done", "reclaimed", reclaimed)
		}
	}
	runOnce()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
