package service

import "errors"

// 服务层错误定义，处理器层据此映射响应码。
var (
	ErrMerchantNotFound      = errors.New("merchant not found")
	ErrMerchantDisabled      = errors.New("merchant disabled")
	ErrMerchantEmailExists   = errors.New("merchant email already exists")
	ErrMerchantInvalid       = errors.New("merchant invalid")
	ErrAPIKeyInvalid         = errors.New("api key invalid")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentInvalid        = errors.New("payment invalid")
	ErrPaymentAmountTooSmall = errors.New("payment amount too small")
	ErrPaymentNotCancellable = errors.New("payment not cancellable")
	ErrMetadataInvalid       = errors.New("payment metadata invalid")
	ErrCurrencyUnsupported   = errors.New("currency unsupported")
	ErrWebhookNotFound       = errors.New("webhook endpoint not found")
	ErrWebhookURLInvalid     = errors.New("webhook url invalid")
	ErrEventInvalid          = errors.New("chain event invalid")
)
