package shared

import (
	"strconv"

	"github.com/affiliflow/internal/http/response"

	"github.com/gin-gonic/gin"
)

// NormalizePagination 归一化分页参数。
func NormalizePagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// PaginationFromQuery 读取 page/page_size 查询参数并归一化。
func PaginationFromQuery(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return NormalizePagination(page, pageSize)
}

// BuildPagination 组装分页信息。
func BuildPagination(page, pageSize int, total int64) response.Pagination {
	return response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
}
