package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stackspay/gateway/internal/cache"
	"github.com/stackspay/gateway/internal/config"
	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/queue"
	"github.com/stackspay/gateway/internal/repository"
	"github.com/stackspay/gateway/internal/stacks"
	"github.com/stackspay/gateway/internal/wallet"
)

// 结算交易 memo 上限（Stacks 协议限制 34 字节）
const settlementMemoMaxLength = 34

// SettlementService 结算服务。
// 把一次性地址上的入账扣除平台费后转给商户收款地址。
// 同一支付同一时刻最多一笔在途转账，由 settling 标记保证；
// 广播被接受即视为结算完成，确认数由轮询任务补录。
type SettlementService struct {
	paymentRepo  repository.PaymentRepository
	merchantRepo repository.MerchantRepository
	walletGen    *wallet.Generator
	chainClient  stacks.Client
	queueClient  *queue.Client
	notifier     *NotificationService
	cfg          *config.PaymentConfig
	fallbackFee  int64
	now          func() time.Time
}

// NewSettlementService 创建结算服务
func NewSettlementService(paymentRepo repository.PaymentRepository, merchantRepo repository.MerchantRepository, walletGen *wallet.Generator, chainClient stacks.Client, queueClient *queue.Client, notifier *NotificationService, cfg *config.PaymentConfig, fallbackFee int64) *SettlementService {
	return &SettlementService{
		paymentRepo:  paymentRepo,
		merchantRepo: merchantRepo,
		walletGen:    walletGen,
		chainClient:  chainClient,
		queueClient:  queueClient,
		notifier:     notifier,
		cfg:          cfg,
		fallbackFee:  fallbackFee,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc 替换时钟，仅测试使用
func (s *SettlementService) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ComputeFee 平台费：floor(received * basisPoints / 10000)
func ComputeFee(receivedAmount int64, basisPoints int) int64 {
	if receivedAmount <= 0 || basisPoints <= 0 {
		return 0
	}
	return receivedAmount * int64(basisPoints) / 10000
}

// Settle 执行一次结算尝试。
// attempt 从 0 起计；瞬时失败按指数退避重新入队，
// 超过最大尝试次数转 failed，资金留在托管地址等待人工处理。
func (s *SettlementService) Settle(ctx context.Context, paymentID uint, attempt int) error {
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		logger.Warnw("settle task for unknown payment", "id", paymentID)
		return nil
	}
	if payment.Status != constants.PaymentStatusConfirmed {
		logger.Debugw("settle skipped for non-confirmed payment",
			"payment_id", payment.PaymentID,
			"status", payment.Status)
		return nil
	}
	if payment.ReceivedAmount == nil || *payment.ReceivedAmount <= 0 {
		return s.failPayment(payment, "settlement without received amount")
	}

	ok, err := s.paymentRepo.BeginSettling(payment.ID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		logger.Debugw("settlement already in flight", "payment_id", payment.PaymentID)
		return nil
	}

	received := *payment.ReceivedAmount
	fee := ComputeFee(received, payment.FeeRateBasisPoints)
	networkFee := s.estimateNetworkFee(ctx, payment.PaymentID)

	net := received - fee - networkFee
	if net <= 0 {
		s.releaseSettling(payment.ID)
		return s.failPayment(payment, fmt.Sprintf("net amount not positive: received=%d fee=%d network_fee=%d", received, fee, networkFee))
	}

	merchant, err := s.merchantRepo.GetByID(payment.MerchantID)
	if err != nil {
		s.releaseSettling(payment.ID)
		return err
	}
	if merchant == nil || merchant.StacksAddress == "" {
		s.releaseSettling(payment.ID)
		return s.failPayment(payment, "merchant payout address missing")
	}

	// 余额以链上为准，入账后可能又有零散资金到达；
	// 只发送计划内的 net，绝不清空地址。
	balance, err := s.chainClient.GetBalance(ctx, payment.UniqueAddress)
	if err != nil {
		s.releaseSettling(payment.ID)
		return s.retryOrFail(payment, attempt, fmt.Sprintf("query balance failed: %v", err))
	}
	if balance < net+networkFee {
		s.releaseSettling(payment.ID)
		return s.retryOrFail(payment, attempt, fmt.Sprintf("insufficient balance: have=%d need=%d", balance, net+networkFee))
	}

	nonce, err := s.chainClient.GetNextNonce(ctx, payment.UniqueAddress)
	if err != nil {
		s.releaseSettling(payment.ID)
		return s.retryOrFail(payment, attempt, fmt.Sprintf("query nonce failed: %v", err))
	}

	senderKey, err := s.walletGen.DecryptPrivateKey(payment.EncryptedPrivateKey)
	if err != nil {
		s.releaseSettling(payment.ID)
		return s.failPayment(payment, "decrypt settlement key failed")
	}
	defer zeroBytes(senderKey)

	txID, err := s.chainClient.BroadcastTransfer(ctx, stacks.TransferInput{
		SenderKey:         senderKey,
		Recipient:         merchant.StacksAddress,
		AmountMicroStx:    net,
		FeeMicroStx:       networkFee,
		Nonce:             nonce,
		Memo:              settlementMemo(payment.PaymentID),
		MaxAmountMicroStx: net + networkFee,
	})
	if err != nil {
		s.releaseSettling(payment.ID)
		return s.retryOrFail(payment, attempt, fmt.Sprintf("broadcast failed: %v", err))
	}

	now := s.now()
	ok, err = s.paymentRepo.UpdateStatusIf(payment.ID,
		[]string{constants.PaymentStatusConfirmed},
		constants.PaymentStatusSettled,
		map[string]interface{}{
			"fee_amount":           fee,
			"net_amount":           net,
			"network_fee":          networkFee,
			"settlement_tx_id":     txID,
			"settlement_tx_status": constants.SettlementTxStatusPending,
			"settled_at":           now,
			"settling":             false,
			"settling_at":          nil,
			"error_message":        "",
		})
	if err != nil {
		return err
	}
	if !ok {
		// 广播已出但状态被并发改走，只能记录待排查
		logger.Errorw("settled transition lost race after broadcast",
			"payment_id", payment.PaymentID,
			"tx_id", txID)
		return nil
	}

	settled, err := s.paymentRepo.GetByID(payment.ID)
	if err != nil || settled == nil {
		return err
	}
	s.notifier.Dispatch(settled, constants.NotificationEventPaymentSettled)
	logger.Infow("payment settled",
		"payment_id", settled.PaymentID,
		"tx_id", txID,
		"net_amount", net,
		"fee_amount", fee,
		"network_fee", networkFee)

	if err := s.queueClient.EnqueuePaymentConfirmPoll(queue.PaymentConfirmPollPayload{PaymentID: settled.ID, Attempt: 0}, s.confirmPollInterval()); err != nil {
		logger.Warnw("enqueue confirm poll failed", "payment_id", settled.PaymentID, "error", err)
	}
	return nil
}

// PollSettlementTx 轮询结算交易的链上状态并补录确认数。
// 交易被链上中止只记录状态，settled 是广播接受时点的终态。
func (s *SettlementService) PollSettlementTx(ctx context.Context, paymentID uint, attempt int) error {
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil || payment.Status != constants.PaymentStatusSettled || payment.SettlementTxID == "" {
		return nil
	}
	if payment.SettlementTxStatus == constants.SettlementTxStatusConfirmed ||
		payment.SettlementTxStatus == constants.SettlementTxStatusAborted {
		return nil
	}

	tx, err := s.chainClient.GetTransaction(ctx, payment.SettlementTxID)
	if err != nil {
		logger.Warnw("query settlement tx failed",
			"payment_id", payment.PaymentID,
			"tx_id", payment.SettlementTxID,
			"error", err)
		return s.reschedulePoll(payment, attempt)
	}

	switch tx.Status {
	case stacks.TxStatusSuccess:
		return s.paymentRepo.UpdateFields(payment.ID, map[string]interface{}{
			"settlement_tx_status":     constants.SettlementTxStatusConfirmed,
			"settlement_confirmations": tx.Confirmations,
		})
	case stacks.TxStatusAborted:
		logger.Errorw("settlement tx aborted on chain",
			"payment_id", payment.PaymentID,
			"tx_id", payment.SettlementTxID)
		return s.paymentRepo.UpdateFields(payment.ID, map[string]interface{}{
			"settlement_tx_status": constants.SettlementTxStatusAborted,
			"error_message":        "settlement transaction aborted on chain",
		})
	default:
		if tx.Confirmations > payment.SettlementConfirmations {
			if err := s.paymentRepo.UpdateFields(payment.ID, map[string]interface{}{
				"settlement_confirmations": tx.Confirmations,
			}); err != nil {
				return err
			}
		}
		return s.reschedulePoll(payment, attempt)
	}
}

// ReclaimStaleSettling 回收进程崩溃遗留的在途标记并重新入队结算。
func (s *SettlementService) ReclaimStaleSettling(limit int) (int, error) {
	cutoff := s.now().Add(-s.staleSettlingWindow())
	stale, err := s.paymentRepo.ListStaleSettling(cutoff, limit)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for i := range stale {
		payment := stale[i]
		if err := s.paymentRepo.UpdateFields(payment.ID, map[string]interface{}{
			"settling":    false,
			"settling_at": nil,
		}); err != nil {
			logger.Errorw("reclaim settling marker failed", "payment_id", payment.PaymentID, "error", err)
			continue
		}
		reclaimed++
		if payment.Status != constants.PaymentStatusConfirmed {
			continue
		}
		logger.Warnw("reclaimed stale settlement", "payment_id", payment.PaymentID, "retry_count", payment.RetryCount)
		if err := s.queueClient.EnqueuePaymentSettle(queue.PaymentSettlePayload{PaymentID: payment.ID, Attempt: payment.RetryCount}, 0); err != nil {
			logger.Errorw("re-enqueue settlement failed", "payment_id", payment.PaymentID, "error", err)
		}
	}
	return reclaimed, nil
}

// estimateNetworkFee 估算链上转账费，结果短暂缓存减少外呼。
// 估算不可用时退回配置的保底费率。
func (s *SettlementService) estimateNetworkFee(ctx context.Context, paymentID string) int64 {
	const cacheKey = "stacks:transfer_fee"

	var cached int64
	if hit, err := cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit && cached > 0 {
		return cached
	}

	networkFee, err := s.chainClient.EstimateTransferFee(ctx)
	if err != nil || networkFee <= 0 {
		if err != nil {
			logger.Warnw("estimate transfer fee failed, using fallback",
				"payment_id", paymentID, "error", err)
		}
		return s.fallbackFee
	}
	if err := cache.SetJSON(ctx, cacheKey, networkFee, time.Minute); err != nil {
		logger.Debugw("cache transfer fee failed", "error", err)
	}
	return networkFee
}

// retryOrFail 瞬时失败处理：未达上限按指数退避重试，否则置 failed。
func (s *SettlementService) retryOrFail(payment *models.Payment, attempt int, reason string) error {
	nextAttempt := attempt + 1
	if err := s.paymentRepo.UpdateFields(payment.ID, map[string]interface{}{
		"retry_count":   nextAttempt,
		"error_message": reason,
	}); err != nil {
		return err
	}
	if nextAttempt >= s.maxAttempts() {
		logger.Errorw("settlement attempts exhausted",
			"payment_id", payment.PaymentID,
			"attempts", nextAttempt,
			"reason", reason)
		return s.failPayment(payment, fmt.Sprintf("settlement failed after %d attempts: %s", nextAttempt, reason))
	}
	delay := s.backoffDelay(nextAttempt)
	logger.Warnw("settlement attempt failed, retrying",
		"payment_id", payment.PaymentID,
		"attempt", nextAttempt,
		"delay", delay,
		"reason", reason)
	return s.queueClient.EnqueuePaymentSettle(queue.PaymentSettlePayload{PaymentID: payment.ID, Attempt: nextAttempt}, delay)
}

// failPayment 置为 failed，资金保持在托管地址。
func (s *SettlementService) failPayment(payment *models.Payment, reason string) error {
	ok, err := s.paymentRepo.UpdateStatusIf(payment.ID,
		[]string{constants.PaymentStatusPending, constants.PaymentStatusConfirmed},
		constants.PaymentStatusFailed,
		map[string]interface{}{"error_message": reason})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	failed, err := s.paymentRepo.GetByID(payment.ID)
	if err != nil || failed == nil {
		return err
	}
	s.notifier.Dispatch(failed, constants.NotificationEventPaymentFailed)
	logger.Errorw("payment failed", "payment_id", failed.PaymentID, "reason", reason)
	return nil
}

func (s *SettlementService) releaseSettling(id uint) {
	if err := s.paymentRepo.UpdateFields(id, map[string]interface{}{
		"settling":    false,
		"settling_at": nil,
	}); err != nil {
		logger.Errorw("release settling marker failed", "id", id, "error", err)
	}
}

func (s *SettlementService) reschedulePoll(payment *models.Payment, attempt int) error {
	nextAttempt := attempt + 1
	if nextAttempt >= s.confirmPollMaxAttempts() {
		logger.Warnw("confirm poll attempts exhausted",
			"payment_id", payment.PaymentID,
			"tx_id", payment.SettlementTxID)
		return s.paymentRepo.UpdateFields(payment.ID, map[string]interface{}{
			"settlement_tx_status": constants.SettlementTxStatusUnknown,
		})
	}
	return s.queueClient.EnqueuePaymentConfirmPoll(queue.PaymentConfirmPollPayload{PaymentID: payment.ID, Attempt: nextAttempt}, s.confirmPollInterval())
}

func (s *SettlementService) maxAttempts() int {
	if s.cfg != nil && s.cfg.SettleMaxAttempts > 0 {
		return s.cfg.SettleMaxAttempts
	}
	return 5
}

func (s *SettlementService) backoffDelay(attempt int) time.Duration {
	base := 30
	if s.cfg != nil && s.cfg.SettleBackoffBaseSeconds > 0 {
		base = s.cfg.SettleBackoffBaseSeconds
	}
	delay := time.Duration(base) * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return delay
}

func (s *SettlementService) confirmPollInterval() time.Duration {
	if s.cfg != nil && s.cfg.ConfirmPollIntervalSeconds > 0 {
		return time.Duration(s.cfg.ConfirmPollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

func (s *SettlementService) confirmPollMaxAttempts() int {
	if s.cfg != nil && s.cfg.ConfirmPollMaxAttempts > 0 {
		return s.cfg.ConfirmPollMaxAttempts
	}
	return 60
}

func (s *SettlementService) staleSettlingWindow() time.Duration {
	if s.cfg != nil && s.cfg.StaleSettlingSeconds > 0 {
		return time.Duration(s.cfg.StaleSettlingSeconds) * time.Second
	}
	return 10 * time.Minute
}

func settlementMemo(paymentID string) string {
	if len(paymentID) > settlementMemoMaxLength {
		return paymentID[:settlementMemoMaxLength]
	}
	return paymentID
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
