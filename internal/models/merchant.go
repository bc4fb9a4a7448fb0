package models

import (
	"time"
)

// Merchant 商户表
type Merchant struct {
	ID                 uint      `gorm:"primarykey" json:"id"`                  // 主键
	Name               string    `gorm:"not null" json:"name"`                  // 商户名称
	Email              string    `gorm:"uniqueIndex;not null" json:"email"`     // 商户邮箱
	BusinessName       string    `json:"business_name,omitempty"`               // 经营主体名称
	StacksAddress      string    `gorm:"not null" json:"stacks_address"`        // 结算收款地址
	FeeRateBasisPoints int       `gorm:"not null" json:"fee_rate_basis_points"` // 当前平台费率（基点）
	APIKeyHash         string    `gorm:"uniqueIndex;not null" json:"-"`         // API Key 摘要（SHA-256）
	APIKeyPrefix       string    `gorm:"index;not null" json:"api_key_prefix"`  // API Key 前缀（sk_test_/sk_live_）
	Status             string    `gorm:"index;not null" json:"status"`          // 商户状态
	CreatedAt          time.Time `json:"created_at"`                            // 创建时间
	UpdatedAt          time.Time `json:"updated_at"`                            // 更新时间
}

// TableName 指定表名
func (Merchant) TableName() string {
	return "merchants"
}
