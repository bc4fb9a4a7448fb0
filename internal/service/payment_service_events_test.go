package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stackspay/gateway/internal/constants"
)

func TestHandleTransferEventConfirmsPayment(t *testing.T) {
	env := setupPaymentServiceTest(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.paymentSvc.SetNowFunc(func() time.Time { return base })

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	event := TransferEvent{
		TxID:             "0xdeadbeef",
		SenderAddress:    "ST3PAYER",
		RecipientAddress: payment.UniqueAddress,
		AmountMicroStx:   5000000,
		BlockHeight:      1234,
	}
	if err := env.paymentSvc.HandleTransferEvent(event); err != nil {
		t.Fatalf("handle transfer event failed: %v", err)
	}

	got, _ := env.paymentSvc.GetPayment(env.merchant.ID, payment.PaymentID)
	if got.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
	if got.ReceivedAmount == nil || *got.ReceivedAmount != 5000000 {
		t.Fatalf("expected received amount 5000000, got %v", got.ReceivedAmount)
	}
	if got.ReceiveTxID != "0xdeadbeef" {
		t.Fatalf("expected receive tx id recorded, got %s", got.ReceiveTxID)
	}
	if got.ConfirmedAt == nil {
		t.Fatalf("expected confirmed_at set")
	}
}

func TestHandleTransferEventIsIdempotent(t *testing.T) {
	env := setupPaymentServiceTest(t)

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	event := TransferEvent{
		TxID:             "0xcafe",
		RecipientAddress: payment.UniqueAddress,
		AmountMicroStx:   5000000,
	}
	for i := 0; i < 3; i++ {
		if err := env.paymentSvc.HandleTransferEvent(event); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	got, _ := env.paymentSvc.GetPayment(env.merchant.ID, payment.PaymentID)
	if got.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
	if *got.ReceivedAmount != 5000000 {
		t.Fatalf("expected received amount unchanged, got %d", *got.ReceivedAmount)
	}
}

func TestHandleTransferEventTxConsumedByOtherPayment(t *testing.T) {
	env := setupPaymentServiceTest(t)

	first, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create first payment failed: %v", err)
	}
	second, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create second payment failed: %v", err)
	}

	if err := env.paymentSvc.HandleTransferEvent(TransferEvent{
		TxID:             "0xshared",
		RecipientAddress: first.UniqueAddress,
		AmountMicroStx:   5000000,
	}); err != nil {
		t.Fatalf("confirm first payment failed: %v", err)
	}

	// 同一交易ID指向另一支付地址：丢弃，不得二次入账
	if err := env.paymentSvc.HandleTransferEvent(TransferEvent{
		TxID:             "0xshared",
		RecipientAddress: second.UniqueAddress,
		AmountMicroStx:   5000000,
	}); err != nil {
		t.Fatalf("handle duplicate tx event failed: %v", err)
	}

	got, _ := env.paymentSvc.GetPayment(env.merchant.ID, second.PaymentID)
	if got.Status != constants.PaymentStatusPending {
		t.Fatalf("expected second payment untouched, got %s", got.Status)
	}
	if got.ReceiveTxID != "" {
		t.Fatalf("expected no receive tx recorded, got %s", got.ReceiveTxID)
	}
}

func TestHandleTransferEventUnknownAddressDropped(t *testing.T) {
	env := setupPaymentServiceTest(t)

	err := env.paymentSvc.HandleTransferEvent(TransferEvent{
		TxID:             "0x1",
		RecipientAddress: "ST2UNKNOWNADDRESS",
		AmountMicroStx:   100,
	})
	if err != nil {
		t.Fatalf("expected unknown address to be dropped silently, got %v", err)
	}
}

func TestHandleTransferEventRejectsMalformed(t *testing.T) {
	env := setupPaymentServiceTest(t)

	cases := []TransferEvent{
		{TxID: "", RecipientAddress: "ST2X", AmountMicroStx: 100},
		{TxID: "0x1", RecipientAddress: "", AmountMicroStx: 100},
		{TxID: "0x1", RecipientAddress: "ST2X", AmountMicroStx: 0},
		{TxID: "0x1", RecipientAddress: "ST2X", AmountMicroStx: -5},
	}
	for i, event := range cases {
		if err := env.paymentSvc.HandleTransferEvent(event); !errors.Is(err, ErrEventInvalid) {
			t.Fatalf("case %d: expected invalid event error, got %v", i, err)
		}
	}
}

func TestHandleTransferEventStaleAfterExpiry(t *testing.T) {
	env := setupPaymentServiceTest(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.paymentSvc.SetNowFunc(func() time.Time { return base })

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	env.paymentSvc.SetNowFunc(func() time.Time { return base.Add(time.Hour) })
	if _, err := env.paymentSvc.ExpireDuePayments(10); err != nil {
		t.Fatalf("expire due failed: %v", err)
	}

	err = env.paymentSvc.HandleTransferEvent(TransferEvent{
		TxID:             "0xlate",
		RecipientAddress: payment.UniqueAddress,
		AmountMicroStx:   5000000,
	})
	if err != nil {
		t.Fatalf("late event should be absorbed, got %v", err)
	}

	got, _ := env.paymentSvc.GetPayment(env.merchant.ID, payment.PaymentID)
	if got.Status != constants.PaymentStatusExpired {
		t.Fatalf("expected expired to stay terminal, got %s", got.Status)
	}
	if got.ReceivedAmount != nil {
		t.Fatalf("expected no received amount on expired payment, got %v", got.ReceivedAmount)
	}
}

func TestExpirySweepLosesRaceToConfirmation(t *testing.T) {
	env := setupPaymentServiceTest(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.paymentSvc.SetNowFunc(func() time.Time { return base })

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	if err := env.paymentSvc.HandleTransferEvent(TransferEvent{
		TxID:             "0xontime",
		RecipientAddress: payment.UniqueAddress,
		AmountMicroStx:   5000000,
	}); err != nil {
		t.Fatalf("handle transfer event failed: %v", err)
	}

	env.paymentSvc.SetNowFunc(func() time.Time { return base.Add(time.Hour) })
	expired, err := env.paymentSvc.ExpireDuePayments(10)
	if err != nil {
		t.Fatalf("expire due failed: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected sweep to skip confirmed payment, got %d expired", expired)
	}

	got, _ := env.paymentSvc.GetPayment(env.merchant.ID, payment.PaymentID)
	if got.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("expected confirmed to win race, got %s", got.Status)
	}
}

func TestHandleContractEventRecordsRegistration(t *testing.T) {
	env := setupPaymentServiceTest(t)

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	event := ContractEvent{
		ContractIdentifier: "SP000.payment-registry",
		Topic:              "payment-registered",
		TxID:               "0xreg",
		Value:              map[string]interface{}{"payment_id": payment.PaymentID},
	}
	if err := env.paymentSvc.HandleContractEvent(event); err != nil {
		t.Fatalf("handle contract event failed: %v", err)
	}
	// 重复投递不报错不改写
	if err := env.paymentSvc.HandleContractEvent(event); err != nil {
		t.Fatalf("duplicate contract event failed: %v", err)
	}

	got, _ := env.paymentSvc.GetPayment(env.merchant.ID, payment.PaymentID)
	if got.ContractRegistrationTxID != "0xreg" {
		t.Fatalf("expected registration tx recorded, got %s", got.ContractRegistrationTxID)
	}
}
