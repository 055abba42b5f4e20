package admin

import (
	"github.com/affiliflow/internal/authz"
	"github.com/affiliflow/internal/http/handlers/shared"
	"github.com/affiliflow/internal/http/response"

	"github.com/gin-gonic/gin"
)

// OperatorRoleItem 角色及其策略
type OperatorRoleItem struct {
	Role     string         `json:"role"`
	Policies []authz.Policy `json:"policies"`
}

// ListOperatorRoles 列出运营角色与策略
func (h *Handler) ListOperatorRoles(c *gin.Context) {
	roles, err := h.AuthzService.ListRoles()
	if err != nil {
		shared.RespondError(c, response.CodeInternal, "list roles failed", err)
		return
	}
	items := make([]OperatorRoleItem, 0, len(roles))
	for _, role := range roles {
		policies, err := h.AuthzService.GetRolePolicies(role)
		if err != nil {
			shared.RespondError(c, response.CodeInternal, "list roles failed", err)
			return
		}
		items = append(items, OperatorRoleItem{Role: role, Policies: policies})
	}
	response.Success(c, items)
}
