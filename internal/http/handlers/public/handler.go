package public

import "github.com/affiliflow/internal/provider"

// Handler 公开接口处理器入口
// 说明：该处理器仅用于跟踪、回传等无需运营鉴权的 API。
type Handler struct {
	*provider.Container
}

// New 创建公开接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
