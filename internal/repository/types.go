package repository

import "time"

// PaymentListFilter 查询支付列表的过滤条件
type PaymentListFilter struct {
	Page        int
	PageSize    int
	MerchantID  uint
	Status      string
	Currency    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// WebhookDeliveryListFilter 查询 Webhook 投递记录的过滤条件
type WebhookDeliveryListFilter struct {
	Page       int
	PageSize   int
	MerchantID uint
	PaymentID  string
	Status     string
}
