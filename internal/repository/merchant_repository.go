package repository

import (
	"errors"
	"strings"

	"github.com/stackspay/gateway/internal/models"

	"gorm.io/gorm"
)

// MerchantRepository 商户数据访问接口
type MerchantRepository interface {
	Create(merchant *models.Merchant) error
	GetByID(id uint) (*models.Merchant, error)
	GetByEmail(email string) (*models.Merchant, error)
	GetByAPIKeyHash(hash string) (*models.Merchant, error)
	Update(merchant *models.Merchant) error
	WithTx(tx *gorm.DB) *GormMerchantRepository
}

// GormMerchantRepository GORM 实现
type GormMerchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository 创建商户仓库
func NewMerchantRepository(db *gorm.DB) *GormMerchantRepository {
	return &GormMerchantRepository{db: db}
}

// WithTx 绑定事务
func (r *GormMerchantRepository) WithTx(tx *gorm.DB) *GormMerchantRepository {
	if tx == nil {
		return r
	}
	return &GormMerchantRepository{db: tx}
}

// Create 创建商户
func (r *GormMerchantRepository) Create(merchant *models.Merchant) error {
	return r.db.Create(merchant).Error
}

// GetByID 根据主键获取商户
func (r *GormMerchantRepository) GetByID(id uint) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := r.db.First(&merchant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &merchant, nil
}

// GetByEmail 根据邮箱获取商户
func (r *GormMerchantRepository) GetByEmail(email string) (*models.Merchant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	var merchant models.Merchant
	result := r.db.Where("email = ?", email).Limit(1).Find(&merchant)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &merchant, nil
}

// GetByAPIKeyHash 根据 API Key 摘要获取商户
func (r *GormMerchantRepository) GetByAPIKeyHash(hash string) (*models.Merchant, error) {
	if hash == "" {
		return nil, nil
	}
	var merchant models.Merchant
	result := r.db.Where("api_key_hash = ?", hash).Limit(1).Find(&merchant)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &merchant, nil
}

// Update 保存商户变更
func (r *GormMerchantRepository) Update(merchant *models.Merchant) error {
	return r.db.Save(merchant).Error
}
