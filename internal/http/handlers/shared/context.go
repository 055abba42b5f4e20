package shared

import (
	"strconv"
	"strings"

	"github.com/affiliflow/internal/http/response"

	"github.com/gin-gonic/gin"
)

// ParseIDParam 解析路径中的正整数ID，失败时直接写回 400。
func ParseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		RespondError(c, response.CodeBadRequest, name+" must be a positive integer", nil)
		return 0, false
	}
	return uint(parsed), true
}

// ParseUintQuery 解析可选的非负整数查询参数，缺省返回 0。
func ParseUintQuery(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		RespondError(c, response.CodeBadRequest, name+" must be a non-negative integer", nil)
		return 0, false
	}
	return uint(parsed), true
}

// OperatorID 读取鉴权中间件写入的运营者ID。
func OperatorID(c *gin.Context) string {
	return c.GetString("operator_id")
}
