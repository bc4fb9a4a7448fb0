package public

import (
	"strconv"

	handlershared "github.com/stackspay/gateway/internal/http/handlers/shared"
	"github.com/stackspay/gateway/internal/http/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func getMerchantID(c *gin.Context) (uint, bool) {
	return handlershared.GetContextUint(c, "merchant_id")
}

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return handlershared.RequestLog(c)
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || value == 0 {
		respondError(c, response.CodeBadRequest, "invalid path parameter", nil)
		return 0, false
	}
	return uint(value), true
}
