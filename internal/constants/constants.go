package constants

// 支付状态常量
const (
	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusSettled   = "settled"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusExpired   = "expired"
	PaymentStatusFailed    = "failed"
)

// 结算链上交易状态常量
const (
	SettlementTxStatusPending   = "pending"
	SettlementTxStatusConfirmed = "confirmed"
	SettlementTxStatusUnknown   = "unknown"
	SettlementTxStatusAborted   = "aborted"
)

// 结算币种常量（当前仅接入 STX 专属地址链路）
const (
	CurrencySTX  = "stx"
	CurrencyBTC  = "btc"
	CurrencySBTC = "sbtc"
)

// Stacks 网络常量
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// 商户状态常量
const (
	MerchantStatusActive   = "active"
	MerchantStatusDisabled = "disabled"
)

// 商户 API Key 前缀常量
const (
	APIKeyPrefixLive = "sk_live_"
	APIKeyPrefixTest = "sk_test_"
)

// Webhook 通知事件常量
const (
	NotificationEventPaymentCreated   = "payment.created"
	NotificationEventPaymentConfirmed = "payment.confirmed"
	NotificationEventPaymentSettled   = "payment.settled"
	NotificationEventPaymentFailed    = "payment.failed"
	NotificationEventPaymentExpired   = "payment.expired"
)

// Webhook 投递状态常量
const (
	WebhookDeliveryStatusPending = "pending"
	WebhookDeliveryStatusSuccess = "success"
	WebhookDeliveryStatusFailed  = "failed"
)

// 异步任务类型常量
const (
	TaskPaymentSettle        = "payment:settle"
	TaskPaymentTimeoutExpire = "payment:timeout_expire"
	TaskPaymentConfirmPoll   = "payment:confirm_poll"
	TaskWebhookDeliver       = "webhook:deliver"
)

// 队列名称常量
const (
	QueueDefault    = "default"
	QueueSettlement = "settlement"
)

// 支付元数据约束常量
const (
	MetadataVersion          = 1
	MetadataKeyOrderID       = "order_id"
	MetadataKeyCustomerEmail = "customer_email"
	MetadataKeyCustomerName  = "customer_name"
	MetadataKeyRedirectURL   = "redirect_url"
	MetadataValueMaxLength   = 500
)
