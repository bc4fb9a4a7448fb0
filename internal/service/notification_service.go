package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/queue"
	"github.com/stackspay/gateway/internal/repository"

	"github.com/google/uuid"
)

// NotificationService 商户通知服务。
// 生命周期事件尽力投递，投递失败绝不回滚状态迁移。
type NotificationService struct {
	webhookRepo repository.WebhookRepository
	paymentRepo repository.PaymentRepository
	queueClient *queue.Client
	httpClient  *http.Client
	now         func() time.Time
}

// NewNotificationService 创建通知服务
func NewNotificationService(webhookRepo repository.WebhookRepository, paymentRepo repository.PaymentRepository, queueClient *queue.Client, deliverTimeout time.Duration) *NotificationService {
	if deliverTimeout <= 0 {
		deliverTimeout = 10 * time.Second
	}
	return &NotificationService{
		webhookRepo: webhookRepo,
		paymentRepo: paymentRepo,
		queueClient: queueClient,
		httpClient:  &http.Client{Timeout: deliverTimeout},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// webhookPayload 投递给商户端点的报文
type webhookPayload struct {
	Event     string                 `json:"event"`
	PaymentID string                 `json:"payment_id"`
	Status    string                 `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	Data      map[string]interface{} `json:"data"`
}

// Dispatch 为商户每个启用端点登记一条投递并入队。
// 任何失败只记日志，状态迁移不受影响。
func (s *NotificationService) Dispatch(payment *models.Payment, event string) {
	if s == nil || payment == nil {
		return
	}
	endpoints, err := s.webhookRepo.ListActiveEndpoints(payment.MerchantID)
	if err != nil {
		logger.Errorw("list webhook endpoints failed",
			"merchant_id", payment.MerchantID,
			"payment_id", payment.PaymentID,
			"error", err)
		return
	}
	for i := range endpoints {
		delivery := &models.WebhookDelivery{
			DeliveryID: "whd_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			EndpointID: endpoints[i].ID,
			MerchantID: payment.MerchantID,
			PaymentID:  payment.PaymentID,
			EventType:  event,
			Status:     constants.WebhookDeliveryStatusPending,
		}
		if err := s.webhookRepo.CreateDelivery(delivery); err != nil {
			logger.Errorw("create webhook delivery failed",
				"payment_id", payment.PaymentID,
				"endpoint_id", endpoints[i].ID,
				"error", err)
			continue
		}
		if err := s.queueClient.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{DeliveryID: delivery.DeliveryID}); err != nil {
			logger.Errorw("enqueue webhook delivery failed",
				"delivery_id", delivery.DeliveryID,
				"error", err)
		}
	}
}

// Deliver 执行一次 Webhook 投递。
// 返回错误交给队列按既定次数重试；非 2xx 视为失败。
func (s *NotificationService) Deliver(ctx context.Context, deliveryID string) error {
	delivery, err := s.webhookRepo.GetDeliveryByDeliveryID(deliveryID)
	if err != nil {
		return err
	}
	if delivery == nil {
		logger.Warnw("webhook delivery not found", "delivery_id", deliveryID)
		return nil
	}
	if delivery.Status == constants.WebhookDeliveryStatusSuccess {
		return nil
	}
	endpoint, err := s.webhookRepo.GetEndpointByID(delivery.EndpointID)
	if err != nil {
		return err
	}
	if endpoint == nil || !endpoint.Active {
		return s.webhookRepo.UpdateDeliveryFields(delivery.ID, map[string]interface{}{
			"status":     constants.WebhookDeliveryStatusFailed,
			"last_error": "endpoint missing or disabled",
		})
	}
	payment, err := s.paymentRepo.GetByPaymentID(delivery.PaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return s.webhookRepo.UpdateDeliveryFields(delivery.ID, map[string]interface{}{
			"status":     constants.WebhookDeliveryStatusFailed,
			"last_error": "payment missing",
		})
	}

	body, err := json.Marshal(buildWebhookPayload(delivery.EventType, payment, s.now()))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-StacksPay-Event", delivery.EventType)
	req.Header.Set("X-StacksPay-Delivery", delivery.DeliveryID)
	req.Header.Set("X-StacksPay-Signature", SignWebhookBody(endpoint.Secret, body))

	attempts := delivery.Attempts + 1
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordFailure(delivery.ID, attempts, err.Error())
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		s.recordFailure(delivery.ID, attempts, reason)
		return fmt.Errorf("webhook delivery %s: %s", delivery.DeliveryID, reason)
	}

	if err := s.webhookRepo.UpdateDeliveryFields(delivery.ID, map[string]interface{}{
		"status":     constants.WebhookDeliveryStatusSuccess,
		"attempts":   attempts,
		"last_error": "",
	}); err != nil {
		return err
	}
	logger.Infow("webhook delivered",
		"delivery_id", delivery.DeliveryID,
		"event", delivery.EventType,
		"payment_id", delivery.PaymentID)
	return nil
}

func (s *NotificationService) recordFailure(id uint, attempts int, reason string) {
	if err := s.webhookRepo.UpdateDeliveryFields(id, map[string]interface{}{
		"status":     constants.WebhookDeliveryStatusFailed,
		"attempts":   attempts,
		"last_error": reason,
	}); err != nil {
		logger.Errorw("record webhook failure failed", "id", id, "error", err)
	}
}

func buildWebhookPayload(event string, payment *models.Payment, now time.Time) webhookPayload {
	data := map[string]interface{}{
		"currency":         payment.Currency,
		"unique_address":   payment.UniqueAddress,
		"expected_amount":  payment.ExpectedAmount,
		"description":      payment.Description,
		"metadata":         payment.Metadata,
		"expires_at":       payment.ExpiresAt,
		"confirmed_at":     payment.ConfirmedAt,
		"settled_at":       payment.SettledAt,
		"receive_tx_id":    payment.ReceiveTxID,
		"settlement_tx_id": payment.SettlementTxID,
	}
	if payment.ReceivedAmount != nil {
		data["received_amount"] = *payment.ReceivedAmount
	}
	if payment.FeeAmount != nil {
		data["fee_amount"] = *payment.FeeAmount
	}
	if payment.NetAmount != nil {
		data["net_amount"] = *payment.NetAmount
	}
	if payment.ErrorMessage != "" {
		data["error_message"] = payment.ErrorMessage
	}
	return webhookPayload{
		Event:     event,
		PaymentID: payment.PaymentID,
		Status:    payment.Status,
		CreatedAt: now,
		Data:      data,
	}
}

// SignWebhookBody 计算投递报文签名：sha256=HMAC-SHA256(secret, body) 十六进制
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
