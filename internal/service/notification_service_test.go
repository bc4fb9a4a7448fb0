package service

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/models"
)

func TestDispatchCreatesDeliveryPerActiveEndpoint(t *testing.T) {
	env := setupPaymentServiceTest(t)

	active := &models.WebhookEndpoint{MerchantID: env.merchant.ID, URL: "https://example.com/hooks", Secret: "whsec_a", Active: true}
	disabled := &models.WebhookEndpoint{MerchantID: env.merchant.ID, URL: "https://example.com/hooks2", Secret: "whsec_b", Active: false}
	for _, endpoint := range []*models.WebhookEndpoint{active, disabled} {
		if err := env.webhookRepo.CreateEndpoint(endpoint); err != nil {
			t.Fatalf("create endpoint failed: %v", err)
		}
	}

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	var deliveries []models.WebhookDelivery
	if err := env.db.Where("payment_id = ?", payment.PaymentID).Find(&deliveries).Error; err != nil {
		t.Fatalf("load deliveries failed: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery for the active endpoint, got %d", len(deliveries))
	}
	if deliveries[0].EventType != constants.NotificationEventPaymentCreated {
		t.Fatalf("expected payment.created event, got %s", deliveries[0].EventType)
	}
	if deliveries[0].EndpointID != active.ID {
		t.Fatalf("expected delivery bound to active endpoint")
	}
}

func TestDeliverSignsAndMarksSuccess(t *testing.T) {
	env := setupPaymentServiceTest(t)

	var gotSignature, gotEvent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-StacksPay-Signature")
		gotEvent = r.Header.Get("X-StacksPay-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := &models.WebhookEndpoint{MerchantID: env.merchant.ID, URL: server.URL, Secret: "whsec_test", Active: true}
	if err := env.webhookRepo.CreateEndpoint(endpoint); err != nil {
		t.Fatalf("create endpoint failed: %v", err)
	}

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	var delivery models.WebhookDelivery
	if err := env.db.Where("payment_id = ?", payment.PaymentID).First(&delivery).Error; err != nil {
		t.Fatalf("load delivery failed: %v", err)
	}

	notifier := NewNotificationService(env.webhookRepo, env.paymentRepo, env.paymentSvc.queueClient, time.Second)
	if err := notifier.Deliver(context.Background(), delivery.DeliveryID); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if gotEvent != constants.NotificationEventPaymentCreated {
		t.Fatalf("expected event header, got %s", gotEvent)
	}
	if !hmac.Equal([]byte(gotSignature), []byte(SignWebhookBody("whsec_test", gotBody))) {
		t.Fatalf("signature mismatch: %s", gotSignature)
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if payload.PaymentID != payment.PaymentID || payload.Status != constants.PaymentStatusPending {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	var updated models.WebhookDelivery
	if err := env.db.First(&updated, delivery.ID).Error; err != nil {
		t.Fatalf("reload delivery failed: %v", err)
	}
	if updated.Status != constants.WebhookDeliveryStatusSuccess {
		t.Fatalf("expected success status, got %s", updated.Status)
	}
	if updated.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", updated.Attempts)
	}
}

func TestDeliverFailureRecordedAndReturned(t *testing.T) {
	env := setupPaymentServiceTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	endpoint := &models.WebhookEndpoint{MerchantID: env.merchant.ID, URL: server.URL, Secret: "whsec_test", Active: true}
	if err := env.webhookRepo.CreateEndpoint(endpoint); err != nil {
		t.Fatalf("create endpoint failed: %v", err)
	}

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	var delivery models.WebhookDelivery
	if err := env.db.Where("payment_id = ?", payment.PaymentID).First(&delivery).Error; err != nil {
		t.Fatalf("load delivery failed: %v", err)
	}

	notifier := NewNotificationService(env.webhookRepo, env.paymentRepo, env.paymentSvc.queueClient, time.Second)
	if err := notifier.Deliver(context.Background(), delivery.DeliveryID); err == nil {
		t.Fatalf("expected delivery error for 5xx response")
	}

	var updated models.WebhookDelivery
	if err := env.db.First(&updated, delivery.ID).Error; err != nil {
		t.Fatalf("reload delivery failed: %v", err)
	}
	if updated.Status != constants.WebhookDeliveryStatusFailed {
		t.Fatalf("expected failed status, got %s", updated.Status)
	}
	if updated.LastError == "" {
		t.Fatalf("expected last error recorded")
	}
}

func TestDeliverAlreadySucceededIsNoop(t *testing.T) {
	env := setupPaymentServiceTest(t)

	endpoint := &models.WebhookEndpoint{MerchantID: env.merchant.ID, URL: "https://example.com/never", Secret: "whsec_test", Active: true}
	if err := env.webhookRepo.CreateEndpoint(endpoint); err != nil {
		t.Fatalf("create endpoint failed: %v", err)
	}
	delivery := &models.WebhookDelivery{
		DeliveryID: "whd_done",
		EndpointID: endpoint.ID,
		MerchantID: env.merchant.ID,
		PaymentID:  "pay_x",
		EventType:  constants.NotificationEventPaymentCreated,
		Status:     constants.WebhookDeliveryStatusSuccess,
		Attempts:   1,
	}
	if err := env.webhookRepo.CreateDelivery(delivery); err != nil {
		t.Fatalf("create delivery failed: %v", err)
	}

	notifier := NewNotificationService(env.webhookRepo, env.paymentRepo, env.paymentSvc.queueClient, time.Second)
	if err := notifier.Deliver(context.Background(), delivery.DeliveryID); err != nil {
		t.Fatalf("expected noop for delivered record, got %v", err)
	}
}
