package public

import "github.com/stackspay/gateway/internal/provider"

// Handler 商户 API 与回调接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
