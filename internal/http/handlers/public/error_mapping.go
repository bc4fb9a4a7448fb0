package public

import (
	"errors"

	"github.com/stackspay/gateway/internal/http/response"
	"github.com/stackspay/gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var paymentCommonErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, msg: "payment not found"},
	{target: service.ErrPaymentInvalid, code: response.CodeBadRequest, msg: "payment parameters invalid"},
	{target: service.ErrPaymentAmountTooSmall, code: response.CodeBadRequest, msg: "amount below minimum"},
	{target: service.ErrPaymentNotCancellable, code: response.CodeConflict, msg: "payment cannot be cancelled"},
	{target: service.ErrMetadataInvalid, code: response.CodeBadRequest, msg: "metadata invalid"},
	{target: service.ErrCurrencyUnsupported, code: response.CodeBadRequest, msg: "currency unsupported"},
	{target: service.ErrMerchantNotFound, code: response.CodeUnauthorized, msg: "merchant not found"},
	{target: service.ErrMerchantDisabled, code: response.CodeUnauthorized, msg: "merchant disabled"},
}

var merchantCommonErrorRules = []mappedHandlerError{
	{target: service.ErrMerchantInvalid, code: response.CodeBadRequest, msg: "merchant parameters invalid"},
	{target: service.ErrMerchantEmailExists, code: response.CodeConflict, msg: "email already registered"},
	{target: service.ErrMerchantNotFound, code: response.CodeNotFound, msg: "merchant not found"},
	{target: service.ErrWebhookNotFound, code: response.CodeNotFound, msg: "webhook endpoint not found"},
	{target: service.ErrWebhookURLInvalid, code: response.CodeBadRequest, msg: "webhook url invalid"},
}
