package service

import (
	"strings"
	"time"

	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/queue"
)

// TransferEvent 链上 STX 转账事件
type TransferEvent struct {
	TxID             string
	SenderAddress    string
	RecipientAddress string
	AmountMicroStx   int64
	BlockHeight      int64
}

// ContractEvent 链上合约事件
type ContractEvent struct {
	ContractIdentifier string
	Topic              string
	TxID               string
	Value              map[string]interface{}
}

// HandleTransferEvent 处理入账转账事件。
// 幂等：同一 (payment, txId) 重复投递不改变结果；未知地址直接丢弃。
// 生命周期一致性问题不向投递方抛出，避免索引器替引擎重试。
func (s *PaymentService) HandleTransferEvent(event TransferEvent) error {
	txID := strings.TrimSpace(event.TxID)
	recipient := strings.TrimSpace(event.RecipientAddress)
	if txID == "" || recipient == "" || event.AmountMicroStx <= 0 {
		return ErrEventInvalid
	}

	payment, err := s.paymentRepo.GetByUniqueAddress(recipient)
	if err != nil {
		return err
	}
	if payment == nil {
		logger.Debugw("transfer event for unknown address dropped", "tx_id", txID, "recipient", recipient)
		return nil
	}

	if payment.ReceiveTxID == txID {
		logger.Debugw("duplicate transfer event ignored", "payment_id", payment.PaymentID, "tx_id", txID)
		return nil
	}

	// 同一笔链上交易不能入账到第二笔支付
	consumer, err := s.paymentRepo.GetByReceiveTxID(txID)
	if err != nil {
		return err
	}
	if consumer != nil && consumer.ID != payment.ID {
		logger.Warnw("transfer tx already consumed by another payment",
			"payment_id", payment.PaymentID,
			"consumed_by", consumer.PaymentID,
			"tx_id", txID)
		return nil
	}

	if isTerminalStatus(payment.Status) || payment.Status == constants.PaymentStatusConfirmed {
		logger.Warnw("transfer event for non-pending payment ignored",
			"payment_id", payment.PaymentID,
			"status", payment.Status,
			"tx_id", txID)
		return nil
	}

	now := s.now()
	ok, err := s.paymentRepo.UpdateStatusIf(payment.ID,
		[]string{constants.PaymentStatusPending},
		constants.PaymentStatusConfirmed,
		map[string]interface{}{
			"received_amount": event.AmountMicroStx,
			"receive_tx_id":   txID,
			"confirmed_at":    now,
		})
	if err != nil {
		return err
	}
	if !ok {
		// 被过期清扫或并发投递抢先，稳定状态为准
		logger.Warnw("confirm transition lost race",
			"payment_id", payment.PaymentID,
			"tx_id", txID)
		return nil
	}

	confirmed, err := s.paymentRepo.GetByID(payment.ID)
	if err != nil || confirmed == nil {
		return err
	}
	s.notifier.Dispatch(confirmed, constants.NotificationEventPaymentConfirmed)
	logger.Infow("payment confirmed",
		"payment_id", confirmed.PaymentID,
		"tx_id", txID,
		"received_amount", event.AmountMicroStx,
		"block_height", event.BlockHeight)

	if err := s.queueClient.EnqueuePaymentSettle(queue.PaymentSettlePayload{PaymentID: confirmed.ID, Attempt: 0}, 0); err != nil {
		// 入队失败不回滚状态，结算由在途标记回收兜底
		logger.Errorw("enqueue settlement failed", "payment_id", confirmed.PaymentID, "error", err)
	}
	return nil
}

// HandleContractEvent 处理合约事件。
// 当前仅记录支付注册类事件的交易ID，其余主题忽略。
func (s *PaymentService) HandleContractEvent(event ContractEvent) error {
	txID := strings.TrimSpace(event.TxID)
	topic := strings.TrimSpace(event.Topic)
	if txID == "" || topic == "" {
		return ErrEventInvalid
	}

	if topic != "payment-registered" {
		logger.Debugw("contract event topic ignored", "topic", topic, "tx_id", txID)
		return nil
	}
	paymentID, _ := event.Value["payment_id"].(string)
	if paymentID == "" {
		logger.Warnw("payment-registered event without payment_id", "tx_id", txID)
		return nil
	}
	payment, err := s.paymentRepo.GetByPaymentID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		logger.Debugw("contract event for unknown payment dropped", "payment_id", paymentID, "tx_id", txID)
		return nil
	}
	if payment.ContractRegistrationTxID == txID {
		return nil
	}
	if payment.ContractRegistrationTxID != "" {
		logger.Warnw("payment already registered on chain",
			"payment_id", payment.PaymentID,
			"existing_tx_id", payment.ContractRegistrationTxID,
			"tx_id", txID)
		return nil
	}
	return s.paymentRepo.UpdateFields(payment.ID, map[string]interface{}{
		"contract_registration_tx_id": txID,
		"updated_at":                  s.now(),
	})
}

func isTerminalStatus(status string) bool {
	switch status {
	case constants.PaymentStatusSettled,
		constants.PaymentStatusRefunded,
		constants.PaymentStatusExpired,
		constants.PaymentStatusFailed:
		return true
	}
	return false
}

// IsExpired 判断支付在给定时间是否已过截止
func IsExpired(expiresAt *time.Time, at time.Time) bool {
	return expiresAt != nil && !expiresAt.After(at)
}
