package service

import (
	"context"
	"testing"
	"time"

	"github.com/stackspay/gateway/internal/config"
	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/stacks"
)

type fakeChainClient struct {
	balance      int64
	balanceErr   error
	nonce        uint64
	nonceErr     error
	fee          int64
	feeErr       error
	broadcastTx  string
	broadcastErr error
	broadcasts   []stacks.TransferInput
	tx           *stacks.Transaction
	txErr        error
}

func (f *fakeChainClient) GetBalance(ctx context.Context, address string) (int64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeChainClient) GetNextNonce(ctx context.Context, address string) (uint64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakeChainClient) EstimateTransferFee(ctx context.Context) (int64, error) {
	return f.fee, f.feeErr
}

func (f *fakeChainClient) BroadcastTransfer(ctx context.Context, input stacks.TransferInput) (string, error) {
	f.broadcasts = append(f.broadcasts, input)
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	return f.broadcastTx, nil
}

func (f *fakeChainClient) GetTransaction(ctx context.Context, txID string) (*stacks.Transaction, error) {
	return f.tx, f.txErr
}

func setupSettlementTest(t *testing.T, chain *fakeChainClient) (*serviceTestEnv, *SettlementService) {
	t.Helper()
	env := setupPaymentServiceTest(t)
	cfg := &config.PaymentConfig{
		SettleMaxAttempts:          3,
		SettleBackoffBaseSeconds:   1,
		ConfirmPollMaxAttempts:     5,
		ConfirmPollIntervalSeconds: 1,
		StaleSettlingSeconds:       600,
	}
	notifier := NewNotificationService(env.webhookRepo, env.paymentRepo, env.paymentSvc.queueClient, time.Second)
	svc := NewSettlementService(env.paymentRepo, env.merchantRepo, env.paymentSvc.walletGen, chain, env.paymentSvc.queueClient, notifier, cfg, 1000)
	return env, svc
}

func confirmedPayment(t *testing.T, env *serviceTestEnv, received int64) *models.Payment {
	t.Helper()
	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: received,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	if err := env.paymentSvc.HandleTransferEvent(TransferEvent{
		TxID:             "0xreceive_" + payment.PaymentID,
		RecipientAddress: payment.UniqueAddress,
		AmountMicroStx:   received,
	}); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	confirmed, err := env.paymentRepo.GetByID(payment.ID)
	if err != nil {
		t.Fatalf("reload payment failed: %v", err)
	}
	return confirmed
}

func TestComputeFee(t *testing.T) {
	cases := []struct {
		received int64
		bp       int
		want     int64
	}{
		{5000000, 100, 50000},
		{5000000, 0, 0},
		{999, 100, 9},
		{1, 100, 0},
		{0, 100, 0},
	}
	for _, tc := range cases {
		if got := ComputeFee(tc.received, tc.bp); got != tc.want {
			t.Fatalf("ComputeFee(%d, %d) = %d, want %d", tc.received, tc.bp, got, tc.want)
		}
	}
}

func TestSettleHappyPath(t *testing.T) {
	chain := &fakeChainClient{
		balance:     5000000,
		nonce:       0,
		fee:         1000,
		broadcastTx: "0xsettle",
	}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusSettled {
		t.Fatalf("expected settled, got %s (error=%s)", got.Status, got.ErrorMessage)
	}
	if got.FeeAmount == nil || *got.FeeAmount != 50000 {
		t.Fatalf("expected fee 50000, got %v", got.FeeAmount)
	}
	if got.NetAmount == nil || *got.NetAmount != 4949000 {
		t.Fatalf("expected net 4949000, got %v", got.NetAmount)
	}
	if got.SettlementTxID != "0xsettle" {
		t.Fatalf("expected settlement tx recorded, got %s", got.SettlementTxID)
	}
	if got.Settling {
		t.Fatalf("expected settling marker cleared")
	}
	if got.SettledAt == nil {
		t.Fatalf("expected settled_at set")
	}

	if len(chain.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(chain.broadcasts))
	}
	sent := chain.broadcasts[0]
	if sent.AmountMicroStx != 4949000 {
		t.Fatalf("expected exact net amount sent, got %d", sent.AmountMicroStx)
	}
	if sent.MaxAmountMicroStx != 4950000 {
		t.Fatalf("expected spend cap net+fee, got %d", sent.MaxAmountMicroStx)
	}
	if sent.Recipient != env.merchant.StacksAddress {
		t.Fatalf("expected merchant payout address, got %s", sent.Recipient)
	}
	if len(sent.SenderKey) == 0 {
		t.Fatalf("expected sender key supplied to broadcast")
	}
}

func TestSettleFeeUsesCreationSnapshot(t *testing.T) {
	chain := &fakeChainClient{
		balance:     5000000,
		nonce:       0,
		fee:         1000,
		broadcastTx: "0xsnapshot",
	}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	// 确认后商户费率上调，不得影响已创建支付的结算
	env.merchant.FeeRateBasisPoints = 500
	if err := env.merchantRepo.Update(env.merchant); err != nil {
		t.Fatalf("update merchant fee rate failed: %v", err)
	}

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusSettled {
		t.Fatalf("expected settled, got %s (error=%s)", got.Status, got.ErrorMessage)
	}
	if got.FeeAmount == nil || *got.FeeAmount != 50000 {
		t.Fatalf("expected creation-rate fee 50000, got %v", got.FeeAmount)
	}
	if got.NetAmount == nil || got.NetworkFee == nil || got.ReceivedAmount == nil {
		t.Fatalf("expected settlement amounts recorded")
	}
	if *got.FeeAmount+*got.NetAmount+*got.NetworkFee != *got.ReceivedAmount {
		t.Fatalf("fee %d + net %d + network fee %d should equal received %d",
			*got.FeeAmount, *got.NetAmount, *got.NetworkFee, *got.ReceivedAmount)
	}
}

func TestSettleNetNotPositiveFailsPayment(t *testing.T) {
	chain := &fakeChainClient{balance: 2000, fee: 5000, broadcastTx: "0xnever"}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 2000)

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected descriptive error message")
	}
	if len(chain.broadcasts) != 0 {
		t.Fatalf("expected no broadcast for doomed transfer")
	}
	if got.Settling {
		t.Fatalf("expected settling marker cleared")
	}
	// 托管资金保持原地
	if got.ReceivedAmount == nil || *got.ReceivedAmount != 2000 {
		t.Fatalf("expected received amount intact, got %v", got.ReceivedAmount)
	}
}

func TestSettleTransientFailureIncrementsRetry(t *testing.T) {
	chain := &fakeChainClient{
		balance:      5000000,
		fee:          1000,
		broadcastErr: stacks.ErrRequestFailed,
	}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("expected still confirmed after transient failure, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", got.RetryCount)
	}
	if got.Settling {
		t.Fatalf("expected settling marker released for retry")
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected failure reason recorded")
	}
}

func TestSettleExhaustedAttemptsFailsAndKeepsCustody(t *testing.T) {
	chain := &fakeChainClient{
		balance:      5000000,
		fee:          1000,
		broadcastErr: stacks.ErrRequestFailed,
	}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	// 最后一次允许的尝试再失败即转 failed
	if err := svc.Settle(context.Background(), payment.ID, 2); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusFailed {
		t.Fatalf("expected failed after exhausting attempts, got %s", got.Status)
	}
	if got.RetryCount != 3 {
		t.Fatalf("expected retry count 3, got %d", got.RetryCount)
	}
	if got.ReceivedAmount == nil || *got.ReceivedAmount != 5000000 {
		t.Fatalf("expected custody intact, got %v", got.ReceivedAmount)
	}
	if got.SettlementTxID != "" {
		t.Fatalf("expected no settlement tx, got %s", got.SettlementTxID)
	}
}

func TestSettleInsufficientBalanceRetries(t *testing.T) {
	chain := &fakeChainClient{balance: 1000, fee: 1000, broadcastTx: "0xnever"}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("expected confirmed retained, got %s", got.Status)
	}
	if len(chain.broadcasts) != 0 {
		t.Fatalf("expected no broadcast with insufficient balance")
	}
}

func TestSettleSkipsWhenMarkerHeld(t *testing.T) {
	chain := &fakeChainClient{balance: 5000000, fee: 1000, broadcastTx: "0xsettle"}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	ok, err := env.paymentRepo.BeginSettling(payment.ID, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("pre-acquire settling marker failed: ok=%v err=%v", ok, err)
	}

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if len(chain.broadcasts) != 0 {
		t.Fatalf("expected concurrent settle attempt to back off")
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("expected confirmed unchanged, got %s", got.Status)
	}
}

func TestSettleNonConfirmedIsNoop(t *testing.T) {
	chain := &fakeChainClient{balance: 5000000, fee: 1000, broadcastTx: "0xsettle"}
	env, svc := setupSettlementTest(t, chain)

	payment, err := env.paymentSvc.CreatePayment(CreatePaymentInput{
		MerchantID:     env.merchant.ID,
		AmountMicroStx: 5000000,
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Status != constants.PaymentStatusPending {
		t.Fatalf("expected pending unchanged, got %s", got.Status)
	}
	if len(chain.broadcasts) != 0 {
		t.Fatalf("expected no broadcast for pending payment")
	}
}

func TestPollSettlementTxRecordsConfirmations(t *testing.T) {
	chain := &fakeChainClient{balance: 5000000, fee: 1000, broadcastTx: "0xsettle"}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	chain.tx = &stacks.Transaction{TxID: "0xsettle", Status: stacks.TxStatusSuccess, Confirmations: 7}
	if err := svc.PollSettlementTx(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.SettlementTxStatus != constants.SettlementTxStatusConfirmed {
		t.Fatalf("expected confirmed tx status, got %s", got.SettlementTxStatus)
	}
	if got.SettlementConfirmations != 7 {
		t.Fatalf("expected 7 confirmations, got %d", got.SettlementConfirmations)
	}
	if got.Status != constants.PaymentStatusSettled {
		t.Fatalf("expected settled retained, got %s", got.Status)
	}
}

func TestPollSettlementTxPendingTracksConfirmations(t *testing.T) {
	chain := &fakeChainClient{balance: 5000000, fee: 1000, broadcastTx: "0xsettle"}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	chain.tx = &stacks.Transaction{TxID: "0xsettle", Status: stacks.TxStatusPending, Confirmations: 2}
	if err := svc.PollSettlementTx(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.SettlementTxStatus != constants.SettlementTxStatusPending {
		t.Fatalf("expected pending tx status, got %s", got.SettlementTxStatus)
	}
	if got.SettlementConfirmations != 2 {
		t.Fatalf("expected 2 confirmations, got %d", got.SettlementConfirmations)
	}

	// 确认数只增不减
	chain.tx = &stacks.Transaction{TxID: "0xsettle", Status: stacks.TxStatusPending, Confirmations: 1}
	if err := svc.PollSettlementTx(context.Background(), payment.ID, 1); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	got, _ = env.paymentRepo.GetByID(payment.ID)
	if got.SettlementConfirmations != 2 {
		t.Fatalf("expected confirmations retained at 2, got %d", got.SettlementConfirmations)
	}
}

func TestPollSettlementTxAbortedKeepsSettled(t *testing.T) {
	chain := &fakeChainClient{balance: 5000000, fee: 1000, broadcastTx: "0xsettle"}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	if err := svc.Settle(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	chain.tx = &stacks.Transaction{TxID: "0xsettle", Status: stacks.TxStatusAborted}
	if err := svc.PollSettlementTx(context.Background(), payment.ID, 0); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.SettlementTxStatus != constants.SettlementTxStatusAborted {
		t.Fatalf("expected aborted tx status, got %s", got.SettlementTxStatus)
	}
	if got.Status != constants.PaymentStatusSettled {
		t.Fatalf("expected settled retained for manual follow-up, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected abort noted in error message")
	}
}

func TestReclaimStaleSettling(t *testing.T) {
	chain := &fakeChainClient{balance: 5000000, fee: 1000, broadcastTx: "0xsettle"}
	env, svc := setupSettlementTest(t, chain)
	payment := confirmedPayment(t, env, 5000000)

	stale := time.Now().UTC().Add(-time.Hour)
	if err := env.db.Model(&models.Payment{}).Where("id = ?", payment.ID).
		Updates(map[string]interface{}{"settling": true, "settling_at": stale}).Error; err != nil {
		t.Fatalf("mark stale failed: %v", err)
	}

	reclaimed, err := svc.ReclaimStaleSettling(10)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", reclaimed)
	}

	got, _ := env.paymentRepo.GetByID(payment.ID)
	if got.Settling {
		t.Fatalf("expected marker cleared")
	}
}
