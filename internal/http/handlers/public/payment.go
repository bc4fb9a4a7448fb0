package public

import (
	"time"

	"github.com/stackspay/gateway/internal/http/handlers/shared"
	"github.com/stackspay/gateway/internal/http/response"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/repository"
	"github.com/stackspay/gateway/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CreatePaymentRequest 创建支付请求
type CreatePaymentRequest struct {
	Currency       string                 `json:"currency"`
	AmountMicroStx int64                  `json:"amount_micro_stx" binding:"required"`
	USDAmount      string                 `json:"usd_amount"`
	Description    string                 `json:"description"`
	Metadata       map[string]interface{} `json:"metadata"`
	ExpireMinutes  int                    `json:"expire_minutes"`
}

// ListPaymentsQuery 支付列表查询参数
type ListPaymentsQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Status   string `form:"status"`
	Currency string `form:"currency"`
}

// PaymentView 支付对外视图
type PaymentView struct {
	PaymentID               string       `json:"payment_id"`
	Status                  string       `json:"status"`
	Currency                string       `json:"currency"`
	UniqueAddress           string       `json:"unique_address"`
	PaymentURI              string       `json:"payment_uri"`
	ExpectedAmount          int64        `json:"expected_amount"`
	ReceivedAmount          *int64       `json:"received_amount,omitempty"`
	FeeAmount               *int64       `json:"fee_amount,omitempty"`
	NetAmount               *int64       `json:"net_amount,omitempty"`
	USDAmount               models.Money `json:"usd_amount"`
	Description             string       `json:"description"`
	Metadata                models.JSON  `json:"metadata,omitempty"`
	ExpiresAt               *time.Time   `json:"expires_at"`
	ConfirmedAt             *time.Time   `json:"confirmed_at,omitempty"`
	SettledAt               *time.Time   `json:"settled_at,omitempty"`
	ReceiveTxID             string       `json:"receive_tx_id,omitempty"`
	SettlementTxID          string       `json:"settlement_tx_id,omitempty"`
	SettlementTxStatus      string       `json:"settlement_tx_status,omitempty"`
	SettlementConfirmations int64        `json:"settlement_confirmations"`
	ErrorMessage            string       `json:"error_message,omitempty"`
	CreatedAt               time.Time    `json:"created_at"`
}

func newPaymentView(payment *models.Payment) PaymentView {
	return PaymentView{
		PaymentID:               payment.PaymentID,
		Status:                  payment.Status,
		Currency:                payment.Currency,
		UniqueAddress:           payment.UniqueAddress,
		PaymentURI:              service.PaymentURI(payment.UniqueAddress, payment.ExpectedAmount, payment.PaymentID),
		ExpectedAmount:          payment.ExpectedAmount,
		ReceivedAmount:          payment.ReceivedAmount,
		FeeAmount:               payment.FeeAmount,
		NetAmount:               payment.NetAmount,
		USDAmount:               payment.USDAmount,
		Description:             payment.Description,
		Metadata:                payment.Metadata,
		ExpiresAt:               payment.ExpiresAt,
		ConfirmedAt:             payment.ConfirmedAt,
		SettledAt:               payment.SettledAt,
		ReceiveTxID:             payment.ReceiveTxID,
		SettlementTxID:          payment.SettlementTxID,
		SettlementTxStatus:      payment.SettlementTxStatus,
		SettlementConfirmations: payment.SettlementConfirmations,
		ErrorMessage:            payment.ErrorMessage,
		CreatedAt:               payment.CreatedAt,
	}
}

// CreatePayment 创建支付
func (h *Handler) CreatePayment(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	usdAmount := decimal.Zero
	if req.USDAmount != "" {
		parsed, err := decimal.NewFromString(req.USDAmount)
		if err != nil || parsed.IsNegative() {
			respondError(c, response.CodeBadRequest, "usd amount invalid", nil)
			return
		}
		usdAmount = parsed
	}

	payment, err := h.PaymentService.CreatePayment(service.CreatePaymentInput{
		MerchantID:     merchantID,
		Currency:       req.Currency,
		AmountMicroStx: req.AmountMicroStx,
		USDAmount:      usdAmount,
		Description:    req.Description,
		Metadata:       req.Metadata,
		ExpireMinutes:  req.ExpireMinutes,
	})
	if err != nil {
		respondWithMappedError(c, err, paymentCommonErrorRules, response.CodeInternal, "create payment failed")
		return
	}
	response.Success(c, newPaymentView(payment))
}

// GetPayment 查询支付
func (h *Handler) GetPayment(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}
	paymentID := c.Param("payment_id")

	// 状态查询直读数据库：worker 侧随时可能推进状态，缓存会返回过期状态
	payment, err := h.PaymentService.GetPayment(merchantID, paymentID)
	if err != nil {
		respondWithMappedError(c, err, paymentCommonErrorRules, response.CodeInternal, "get payment failed")
		return
	}

	response.Success(c, newPaymentView(payment))
}

// ListPayments 支付列表
func (h *Handler) ListPayments(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}

	var query ListPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}
	page, pageSize := shared.NormalizePagination(query.Page, query.PageSize)

	payments, total, err := h.PaymentService.ListPayments(repository.PaymentListFilter{
		Page:       page,
		PageSize:   pageSize,
		MerchantID: merchantID,
		Status:     query.Status,
		Currency:   query.Currency,
	})
	if err != nil {
		respondError(c, response.CodeInternal, "list payments failed", err)
		return
	}

	views := make([]PaymentView, 0, len(payments))
	for i := range payments {
		views = append(views, newPaymentView(&payments[i]))
	}
	totalPage := (total + int64(pageSize) - 1) / int64(pageSize)
	response.SuccessWithPage(c, views, response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: totalPage,
	})
}

// CancelPayment 取消支付
func (h *Handler) CancelPayment(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}
	paymentID := c.Param("payment_id")

	payment, err := h.PaymentService.CancelPayment(merchantID, paymentID)
	if err != nil {
		respondWithMappedError(c, err, paymentCommonErrorRules, response.CodeInternal, "cancel payment failed")
		return
	}
	response.Success(c, newPaymentView(payment))
}
