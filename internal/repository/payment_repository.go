package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/models"

	"gorm.io/gorm"
)

// PaymentRepository 支付数据访问接口。
// 状态迁移一律通过条件更新完成，不做读-改-写。
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	GetByPaymentID(paymentID string) (*models.Payment, error)
	GetByUniqueAddress(address string) (*models.Payment, error)
	GetByReceiveTxID(txID string) (*models.Payment, error)
	ListByMerchant(filter PaymentListFilter) ([]models.Payment, int64, error)
	ListExpirable(now time.Time, limit int) ([]models.Payment, error)
	ListStaleSettling(cutoff time.Time, limit int) ([]models.Payment, error)
	UpdateStatusIf(id uint, fromStatuses []string, toStatus string, updates map[string]interface{}) (bool, error)
	BeginSettling(id uint, now time.Time) (bool, error)
	UpdateFields(id uint, updates map[string]interface{}) error
	WithTx(tx *gorm.DB) *GormPaymentRepository
}

// GormPaymentRepository GORM 实现
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建支付仓库
func NewPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentRepository) WithTx(tx *gorm.DB) *GormPaymentRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRepository{db: tx}
}

// Create 创建支付记录
func (r *GormPaymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

// GetByID 根据主键获取支付记录
func (r *GormPaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByPaymentID 根据对外支付编号获取支付记录
func (r *GormPaymentRepository) GetByPaymentID(paymentID string) (*models.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, nil
	}
	return r.getOne("payment_id = ?", paymentID)
}

// GetByUniqueAddress 根据一次性收款地址获取支付记录
func (r *GormPaymentRepository) GetByUniqueAddress(address string) (*models.Payment, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	return r.getOne("unique_address = ?", address)
}

// GetByReceiveTxID 根据入账交易ID获取支付记录
func (r *GormPaymentRepository) GetByReceiveTxID(txID string) (*models.Payment, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, nil
	}
	return r.getOne("receive_tx_id = ?", txID)
}

func (r *GormPaymentRepository) getOne(query string, args ...interface{}) (*models.Payment, error) {
	var payment models.Payment
	result := r.db.Where(query, args...).Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// ListByMerchant 获取商户支付列表
func (r *GormPaymentRepository) ListByMerchant(filter PaymentListFilter) ([]models.Payment, int64, error) {
	query := r.db.Model(&models.Payment{}).Where("merchant_id = ?", filter.MerchantID)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var payments []models.Payment
	if err := query.Order("id desc").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// ListExpirable 获取已到期但仍为 pending 的支付
func (r *GormPaymentRepository) ListExpirable(now time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 200
	}
	var payments []models.Payment
	err := r.db.
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", constants.PaymentStatusPending, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ListStaleSettling 获取结算在途标记超时未清理的支付（进程崩溃残留）
func (r *GormPaymentRepository) ListStaleSettling(cutoff time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	var payments []models.Payment
	err := r.db.
		Where("settling = ? AND settling_at IS NOT NULL AND settling_at <= ?", true, cutoff).
		Order("settling_at asc").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// UpdateStatusIf 条件状态迁移：仅当当前状态在 fromStatuses 内时生效。
// 返回 false 表示竞争失败（其他迁移先到），调用方据此放弃本次迁移。
func (r *GormPaymentRepository) UpdateStatusIf(id uint, fromStatuses []string, toStatus string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = toStatus
	result := r.db.Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// BeginSettling 抢占结算在途标记：仅 confirmed 且无在途结算时成功。
// 同一支付同一时刻最多一笔在途转账由这里保证。
func (r *GormPaymentRepository) BeginSettling(id uint, now time.Time) (bool, error) {
	result := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ? AND settling = ?", id, constants.PaymentStatusConfirmed, false).
		Updates(map[string]interface{}{
			"settling":    true,
			"settling_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateFields 更新非状态字段
func (r *GormPaymentRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}
