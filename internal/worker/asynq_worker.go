package worker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/provider"
	"github.com/stackspay/gateway/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentSettle, c.handlePaymentSettle)
	mux.HandleFunc(queue.TaskPaymentTimeoutExpire, c.handlePaymentTimeoutExpire)
	mux.HandleFunc(queue.TaskPaymentConfirmPoll, c.handlePaymentConfirmPoll)
	mux.HandleFunc(queue.TaskWebhookDeliver, c.handleWebhookDeliver)
}

func (c *Consumer) handlePaymentSettle(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_settle_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentSettlePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_settle_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentID == 0 {
		logger.Debugw("worker_payment_settle_skip_invalid_payload", "payment_id", payload.PaymentID)
		return nil
	}
	if c.SettlementService == nil {
		logger.Warnw("worker_payment_settle_skip_service_nil", "payment_id", payload.PaymentID)
		return nil
	}
	return c.SettlementService.Settle(ctx, payload.PaymentID, payload.Attempt)
}

func (c *Consumer) handlePaymentTimeoutExpire(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_timeout_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentTimeoutExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_timeout_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentID == 0 {
		logger.Debugw("worker_payment_timeout_skip_invalid_payload", "payment_id", payload.PaymentID)
		return nil
	}
	if c.PaymentService == nil {
		logger.Warnw("worker_payment_timeout_skip_service_nil", "payment_id", payload.PaymentID)
		return nil
	}
	return c.PaymentService.HandlePaymentTimeout(payload.PaymentID)
}

func (c *Consumer) handlePaymentConfirmPoll(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_confirm_poll_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentConfirmPollPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_confirm_poll_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentID == 0 {
		logger.Debugw("worker_confirm_poll_skip_invalid_payload", "payment_id", payload.PaymentID)
		return nil
	}
	if c.SettlementService == nil {
		logger.Warnw("worker_confirm_poll_skip_service_nil", "payment_id", payload.PaymentID)
		return nil
	}
	return c.SettlementService.PollSettlementTx(ctx, payload.PaymentID, payload.Attempt)
}

func (c *Consumer) handleWebhookDeliver(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_webhook_deliver_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_webhook_deliver_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.DeliveryID) == "" {
		logger.Debugw("worker_webhook_deliver_skip_invalid_payload")
		return nil
	}
	if c.NotificationService == nil {
		logger.Warnw("worker_webhook_deliver_skip_service_nil", "delivery_id", payload.DeliveryID)
		return nil
	}
	return c.NotificationService.Deliver(ctx, payload.DeliveryID)
}
