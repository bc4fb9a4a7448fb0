package public

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/stackspay/gateway/internal/http/response"
	"github.com/stackspay/gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// TransferEventPayload 索引器推送的转账事件
type TransferEventPayload struct {
	TxID             string `json:"tx_id"`
	SenderAddress    string `json:"sender_address"`
	RecipientAddress string `json:"recipient_address"`
	AmountMicroStx   int64  `json:"amount_micro_stx"`
	BlockHeight      int64  `json:"block_height"`
}

// ContractEventPayload 索引器推送的合约事件
type ContractEventPayload struct {
	ContractIdentifier string                 `json:"contract_identifier"`
	Topic              string                 `json:"topic"`
	TxID               string                 `json:"tx_id"`
	Value              map[string]interface{} `json:"value"`
}

// ChainEventBatch 索引器批量推送载荷。
// 区块重推时同一事件会重复出现，引擎按 (payment, txId) 幂等吸收。
type ChainEventBatch struct {
	Transfers      []TransferEventPayload `json:"transfers"`
	ContractEvents []ContractEventPayload `json:"contract_events"`
}

// IngestChainEvents 链上事件摄入入口。
// 生命周期一致性问题不回传错误，避免索引器对引擎内部逻辑重试；
// 只有载荷本身无法解析或鉴权失败才拒绝。
func (h *Handler) IngestChainEvents(c *gin.Context) {
	if !h.authorizeChainhook(c) {
		return
	}

	var batch ChainEventBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	accepted := 0
	rejected := 0
	for _, event := range batch.Transfers {
		err := h.PaymentService.HandleTransferEvent(service.TransferEvent{
			TxID:             event.TxID,
			SenderAddress:    event.SenderAddress,
			RecipientAddress: event.RecipientAddress,
			AmountMicroStx:   event.AmountMicroStx,
			BlockHeight:      event.BlockHeight,
		})
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, service.ErrEventInvalid):
			rejected++
			requestLog(c).Warnw("malformed transfer event rejected", "tx_id", event.TxID)
		default:
			accepted++
			requestLog(c).Errorw("transfer event absorbed with error", "tx_id", event.TxID, "error", err)
		}
	}
	for _, event := range batch.ContractEvents {
		err := h.PaymentService.HandleContractEvent(service.ContractEvent{
			ContractIdentifier: event.ContractIdentifier,
			Topic:              event.Topic,
			TxID:               event.TxID,
			Value:              event.Value,
		})
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, service.ErrEventInvalid):
			rejected++
			requestLog(c).Warnw("malformed contract event rejected", "tx_id", event.TxID)
		default:
			accepted++
			requestLog(c).Errorw("contract event absorbed with error", "tx_id", event.TxID, "error", err)
		}
	}

	response.Success(c, gin.H{
		"accepted": accepted,
		"rejected": rejected,
	})
}

func (h *Handler) authorizeChainhook(c *gin.Context) bool {
	secret := strings.TrimSpace(h.Config.Security.ChainhookSecret)
	if secret == "" {
		respondError(c, response.CodeUnauthorized, "chainhook secret not configured", nil)
		c.Abort()
		return false
	}
	provided := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		respondError(c, response.CodeUnauthorized, "unauthorized", nil)
		c.Abort()
		return false
	}
	return true
}
