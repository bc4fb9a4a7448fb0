package queue

import (
	"encoding/json"

	"github.com/stackspay/gateway/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentSettle 结算任务
	TaskPaymentSettle = constants.TaskPaymentSettle
	// TaskPaymentTimeoutExpire 支付超时任务
	TaskPaymentTimeoutExpire = constants.TaskPaymentTimeoutExpire
	// TaskPaymentConfirmPoll 结算交易确认轮询任务
	TaskPaymentConfirmPoll = constants.TaskPaymentConfirmPoll
	// TaskWebhookDeliver Webhook 投递任务
	TaskWebhookDeliver = constants.TaskWebhookDeliver
)

// PaymentSettlePayload 结算任务载荷
type PaymentSettlePayload struct {
	PaymentID uint `json:"payment_id"`
	Attempt   int  `json:"attempt"`
}

// PaymentTimeoutExpirePayload 支付超时任务载荷
type PaymentTimeoutExpirePayload struct {
	PaymentID uint `json:"payment_id"`
}

// PaymentConfirmPollPayload 结算确认轮询任务载荷
type PaymentConfirmPollPayload struct {
	PaymentID uint `json:"payment_id"`
	Attempt   int  `json:"attempt"`
}

// WebhookDeliverPayload Webhook 投递任务载荷
type WebhookDeliverPayload struct {
	DeliveryID string `json:"delivery_id"`
}

// NewPaymentSettleTask 创建结算任务
func NewPaymentSettleTask(payload PaymentSettlePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentSettle, body), nil
}

// NewPaymentTimeoutExpireTask 创建支付超时任务
func NewPaymentTimeoutExpireTask(payload PaymentTimeoutExpirePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentTimeoutExpire, body), nil
}

// NewPaymentConfirmPollTask 创建结算确认轮询任务
func NewPaymentConfirmPollTask(payload PaymentConfirmPollPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentConfirmPoll, body), nil
}

// NewWebhookDeliverTask 创建 Webhook 投递任务
func NewWebhookDeliverTask(payload WebhookDeliverPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookDeliver, body), nil
}
