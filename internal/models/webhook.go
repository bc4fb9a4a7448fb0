package models

import (
	"time"
)

// WebhookEndpoint 商户 Webhook 回调地址
type WebhookEndpoint struct {
	ID         uint      `gorm:"primarykey" json:"id"`                // 主键
	MerchantID uint      `gorm:"index;not null" json:"merchant_id"`   // 商户ID
	URL        string    `gorm:"not null" json:"url"`                 // 回调地址
	Secret     string    `gorm:"not null" json:"-"`                   // 签名密钥
	Active     bool      `gorm:"not null;default:true" json:"active"` // 是否启用
	CreatedAt  time.Time `json:"created_at"`                          // 创建时间
	UpdatedAt  time.Time `json:"updated_at"`                          // 更新时间
}

// TableName 指定表名
func (WebhookEndpoint) TableName() string {
	return "webhook_endpoints"
}

// WebhookDelivery Webhook 投递记录（仅审计用，投递失败不回滚支付状态）
type WebhookDelivery struct {
	ID         uint      `gorm:"primarykey" json:"id"`                    // 主键
	DeliveryID string    `gorm:"uniqueIndex;not null" json:"delivery_id"` // 对外投递编号
	EndpointID uint      `gorm:"index;not null" json:"endpoint_id"`       // Webhook 地址ID
	MerchantID uint      `gorm:"index;not null" json:"merchant_id"`       // 商户ID
	PaymentID  string    `gorm:"index;not null" json:"payment_id"`        // 支付编号
	EventType  string    `gorm:"not null" json:"event_type"`              // 事件类型
	Status     string    `gorm:"index;not null" json:"status"`            // 投递状态
	Attempts   int       `gorm:"not null;default:0" json:"attempts"`      // 投递尝试次数
	LastError  string    `gorm:"type:text" json:"last_error,omitempty"`   // 最近一次失败原因
	CreatedAt  time.Time `json:"created_at"`                              // 创建时间
	UpdatedAt  time.Time `json:"updated_at"`                              // 更新时间
}

// TableName 指定表名
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
