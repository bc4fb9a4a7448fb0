package public

import (
	"time"

	"github.com/stackspay/gateway/internal/http/handlers/shared"
	"github.com/stackspay/gateway/internal/http/response"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/repository"
	"github.com/stackspay/gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// RegisterMerchantRequest 商户注册请求
type RegisterMerchantRequest struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required"`
	BusinessName  string `json:"business_name"`
	StacksAddress string `json:"stacks_address" binding:"required"`
}

// CreateWebhookEndpointRequest 创建 Webhook 端点请求
type CreateWebhookEndpointRequest struct {
	URL string `json:"url" binding:"required"`
}

// ListWebhookDeliveriesQuery Webhook 投递记录查询参数
type ListWebhookDeliveriesQuery struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	PaymentID string `form:"payment_id"`
	Status    string `form:"status"`
}

// MerchantView 商户对外视图
type MerchantView struct {
	ID                 uint      `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	BusinessName       string    `json:"business_name"`
	StacksAddress      string    `json:"stacks_address"`
	FeeRateBasisPoints int       `json:"fee_rate_basis_points"`
	APIKeyPrefix       string    `json:"api_key_prefix"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

func newMerchantView(merchant *models.Merchant) MerchantView {
	return MerchantView{
		ID:                 merchant.ID,
		Name:               merchant.Name,
		Email:              merchant.Email,
		BusinessName:       merchant.BusinessName,
		StacksAddress:      merchant.StacksAddress,
		FeeRateBasisPoints: merchant.FeeRateBasisPoints,
		APIKeyPrefix:       merchant.APIKeyPrefix,
		Status:             merchant.Status,
		CreatedAt:          merchant.CreatedAt,
	}
}

// RegisterMerchant 商户注册。
// API Key 明文只在本次响应返回一次。
func (h *Handler) RegisterMerchant(c *gin.Context) {
	var req RegisterMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	result, err := h.MerchantService.RegisterMerchant(service.RegisterMerchantInput{
		Name:          req.Name,
		Email:         req.Email,
		BusinessName:  req.BusinessName,
		StacksAddress: req.StacksAddress,
	})
	if err != nil {
		respondWithMappedError(c, err, merchantCommonErrorRules, response.CodeInternal, "register merchant failed")
		return
	}
	response.Success(c, gin.H{
		"merchant": newMerchantView(result.Merchant),
		"api_key":  result.APIKey,
	})
}

// GetAccount 获取当前商户信息
func (h *Handler) GetAccount(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}
	merchant, err := h.MerchantService.GetMerchant(merchantID)
	if err != nil {
		respondWithMappedError(c, err, merchantCommonErrorRules, response.CodeInternal, "get merchant failed")
		return
	}
	response.Success(c, newMerchantView(merchant))
}

// CreateWebhookEndpoint 创建 Webhook 端点。
// 签名密钥明文只在本次响应返回一次。
func (h *Handler) CreateWebhookEndpoint(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}

	var req CreateWebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	endpoint, err := h.MerchantService.CreateWebhookEndpoint(service.CreateWebhookEndpointInput{
		MerchantID: merchantID,
		URL:        req.URL,
	})
	if err != nil {
		respondWithMappedError(c, err, merchantCommonErrorRules, response.CodeInternal, "create webhook endpoint failed")
		return
	}
	response.Success(c, gin.H{
		"id":     endpoint.ID,
		"url":    endpoint.URL,
		"secret": endpoint.Secret,
		"active": endpoint.Active,
	})
}

// ListWebhookEndpoints Webhook 端点列表
func (h *Handler) ListWebhookEndpoints(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}
	endpoints, err := h.MerchantService.ListWebhookEndpoints(merchantID)
	if err != nil {
		respondError(c, response.CodeInternal, "list webhook endpoints failed", err)
		return
	}
	views := make([]gin.H, 0, len(endpoints))
	for i := range endpoints {
		views = append(views, gin.H{
			"id":         endpoints[i].ID,
			"url":        endpoints[i].URL,
			"active":     endpoints[i].Active,
			"created_at": endpoints[i].CreatedAt,
		})
	}
	response.Success(c, views)
}

// DisableWebhookEndpoint 停用 Webhook 端点
func (h *Handler) DisableWebhookEndpoint(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}
	endpointID, ok := parseUintParam(c, "endpoint_id")
	if !ok {
		return
	}
	if err := h.MerchantService.DisableWebhookEndpoint(merchantID, endpointID); err != nil {
		respondWithMappedError(c, err, merchantCommonErrorRules, response.CodeInternal, "disable webhook endpoint failed")
		return
	}
	response.SuccessWithMsg(c, "endpoint disabled", nil)
}

// ListWebhookDeliveries Webhook 投递记录列表
func (h *Handler) ListWebhookDeliveries(c *gin.Context) {
	merchantID, ok := getMerchantID(c)
	if !ok {
		return
	}

	var query ListWebhookDeliveriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}
	page, pageSize := shared.NormalizePagination(query.Page, query.PageSize)

	deliveries, total, err := h.MerchantService.ListWebhookDeliveries(repository.WebhookDeliveryListFilter{
		Page:       page,
		PageSize:   pageSize,
		MerchantID: merchantID,
		PaymentID:  query.PaymentID,
		Status:     query.Status,
	})
	if err != nil {
		respondError(c, response.CodeInternal, "list webhook deliveries failed", err)
		return
	}
	totalPage := (total + int64(pageSize) - 1) / int64(pageSize)
	response.SuccessWithPage(c, deliveries, response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: totalPage,
	})
}
