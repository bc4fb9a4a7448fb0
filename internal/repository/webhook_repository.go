package repository

import (
	"errors"

	"github.com/stackspay/gateway/internal/models"

	"gorm.io/gorm"
)

// WebhookRepository Webhook 端点与投递记录的数据访问接口
type WebhookRepository interface {
	CreateEndpoint(endpoint *models.WebhookEndpoint) error
	GetEndpointByID(id uint) (*models.WebhookEndpoint, error)
	ListActiveEndpoints(merchantID uint) ([]models.WebhookEndpoint, error)
	ListEndpoints(merchantID uint) ([]models.WebhookEndpoint, error)
	UpdateEndpoint(endpoint *models.WebhookEndpoint) error
	CreateDelivery(delivery *models.WebhookDelivery) error
	GetDeliveryByDeliveryID(deliveryID string) (*models.WebhookDelivery, error)
	UpdateDeliveryFields(id uint, updates map[string]interface{}) error
	ListDeliveries(filter WebhookDeliveryListFilter) ([]models.WebhookDelivery, int64, error)
	WithTx(tx *gorm.DB) *GormWebhookRepository
}

// GormWebhookRepository GORM 实现
type GormWebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository 创建 Webhook 仓库
func NewWebhookRepository(db *gorm.DB) *GormWebhookRepository {
	return &GormWebhookRepository{db: db}
}

// WithTx 绑定事务
func (r *GormWebhookRepository) WithTx(tx *gorm.DB) *GormWebhookRepository {
	if tx == nil {
		return r
	}
	return &GormWebhookRepository{db: tx}
}

// CreateEndpoint 创建端点
func (r *GormWebhookRepository) CreateEndpoint(endpoint *models.WebhookEndpoint) error {
	return r.db.Create(endpoint).Error
}

// GetEndpointByID 根据主键获取端点
func (r *GormWebhookRepository) GetEndpointByID(id uint) (*models.WebhookEndpoint, error) {
	var endpoint models.WebhookEndpoint
	if err := r.db.First(&endpoint, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &endpoint, nil
}

// ListActiveEndpoints 获取商户启用中的端点
func (r *GormWebhookRepository) ListActiveEndpoints(merchantID uint) ([]models.WebhookEndpoint, error) {
	var endpoints []models.WebhookEndpoint
	err := r.db.Where("merchant_id = ? AND active = ?", merchantID, true).Find(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

// ListEndpoints 获取商户全部端点
func (r *GormWebhookRepository) ListEndpoints(merchantID uint) ([]models.WebhookEndpoint, error) {
	var endpoints []models.WebhookEndpoint
	err := r.db.Where("merchant_id = ?", merchantID).Order("id asc").Find(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

// UpdateEndpoint 保存端点变更
func (r *GormWebhookRepository) UpdateEndpoint(endpoint *models.WebhookEndpoint) error {
	return r.db.Save(endpoint).Error
}

// CreateDelivery 创建投递记录
func (r *GormWebhookRepository) CreateDelivery(delivery *models.WebhookDelivery) error {
	return r.db.Create(delivery).Error
}

// GetDeliveryByDeliveryID 根据投递编号获取记录
func (r *GormWebhookRepository) GetDeliveryByDeliveryID(deliveryID string) (*models.WebhookDelivery, error) {
	if deliveryID == "" {
		return nil, nil
	}
	var delivery models.WebhookDelivery
	result := r.db.Where("delivery_id = ?", deliveryID).Limit(1).Find(&delivery)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &delivery, nil
}

// UpdateDeliveryFields 更新投递记录字段
func (r *GormWebhookRepository) UpdateDeliveryFields(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.WebhookDelivery{}).Where("id = ?", id).Updates(updates).Error
}

// ListDeliveries 获取投递记录列表
func (r *GormWebhookRepository) ListDeliveries(filter WebhookDeliveryListFilter) ([]models.WebhookDelivery, int64, error) {
	query := r.db.Model(&models.WebhookDelivery{}).Where("merchant_id = ?", filter.MerchantID)

	if filter.PaymentID != "" {
		query = query.Where("payment_id = ?", filter.PaymentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var deliveries []models.WebhookDelivery
	if err := query.Order("id desc").Find(&deliveries).Error; err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}
