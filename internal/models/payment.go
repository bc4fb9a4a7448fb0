package models

import (
	"time"
)

// Payment 支付记录：每笔支付对应一个一次性收款地址
type Payment struct {
	ID                       uint       `gorm:"primarykey" json:"id"`                                     // 主键
	PaymentID                string     `gorm:"uniqueIndex;not null" json:"payment_id"`                   // 对外支付编号
	MerchantID               uint       `gorm:"index;not null" json:"merchant_id"`                        // 商户ID
	Currency                 string     `gorm:"not null" json:"currency"`                                 // 结算链路（stx）
	UniqueAddress            string     `gorm:"uniqueIndex;not null" json:"unique_address"`               // 一次性收款地址
	EncryptedPrivateKey      string     `gorm:"type:text;not null" json:"-"`                              // 收款地址私钥密文
	ExpectedAmount           int64      `gorm:"not null" json:"expected_amount"`                          // 期望金额（microSTX）
	ReceivedAmount           *int64     `json:"received_amount,omitempty"`                                // 实收金额（microSTX）
	FeeAmount                *int64     `json:"fee_amount,omitempty"`                                     // 平台手续费（结算时计算）
	NetAmount                *int64     `json:"net_amount,omitempty"`                                     // 商户到账金额（结算时计算）
	NetworkFee               *int64     `json:"network_fee,omitempty"`                                    // 链上转账费（结算时捕获）
	FeeRateBasisPoints       int        `gorm:"not null" json:"fee_rate_basis_points"`                    // 创建时快照的费率（基点）
	USDAmount                Money      `gorm:"type:decimal(20,2);not null;default:0" json:"usd_amount"`  // USD 报价（可选）
	Description              string     `gorm:"type:varchar(500)" json:"description"`                     // 支付描述
	Metadata                 JSON       `gorm:"type:json" json:"metadata,omitempty"`                      // 受限元数据键值对
	Status                   string     `gorm:"not null;index:idx_payments_status_expires" json:"status"` // 生命周期状态
	ExpiresAt                *time.Time `gorm:"index:idx_payments_status_expires" json:"expires_at"`      // 过期时间
	ConfirmedAt              *time.Time `json:"confirmed_at,omitempty"`                                   // 到账确认时间
	SettledAt                *time.Time `json:"settled_at,omitempty"`                                     // 结算时间
	ContractRegistrationTxID string     `gorm:"index" json:"contract_registration_tx_id,omitempty"`       // 合约登记交易ID
	ReceiveTxID              string     `gorm:"index" json:"receive_tx_id,omitempty"`                     // 入账交易ID
	SettlementTxID           string     `gorm:"index" json:"settlement_tx_id,omitempty"`                  // 结算交易ID
	SettlementTxStatus       string     `json:"settlement_tx_status,omitempty"`                           // 结算交易链上状态
	SettlementConfirmations  int64      `gorm:"not null;default:0" json:"settlement_confirmations"`       // 结算交易确认数（不阻塞 settled）
	Settling                 bool       `gorm:"not null;default:false" json:"-"`                          // 结算在途标记（同一支付最多一笔在途转账）
	SettlingAt               *time.Time `json:"-"`                                                        // 结算在途标记时间（用于回收僵死标记）
	ErrorMessage             string     `gorm:"type:text" json:"error_message,omitempty"`                 // 最近一次失败原因
	RetryCount               int        `gorm:"not null;default:0" json:"retry_count"`                    // 结算重试次数
	CreatedAt                time.Time  `gorm:"index" json:"created_at"`                                  // 创建时间
	UpdatedAt                time.Time  `json:"updated_at"`                                               // 更新时间
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payments"
}
