package authz

import "fmt"

// RoleSeed 预置角色定义
type RoleSeed struct {
	Role     string
	Inherits []string
	Policies []Policy
}

// BuiltinRoleSeeds 预置角色矩阵：审计只读，客服负责投递排障，财务负责结算与参数
func BuiltinRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role: "readonly_auditor",
			Policies: []Policy{
				{Object: "/admin/*", Action: "GET"},
			},
		},
		{
			Role:     "support",
			Inherits: []string{"readonly_auditor"},
			Policies: []Policy{
				{Object: "/admin/webhook-deliveries/:id/retry", Action: "POST"},
				{Object: "/admin/webhooks/dispatch", Action: "POST"},
			},
		},
		{
			Role:     "finance",
			Inherits: []string{"readonly_auditor"},
			Policies: []Policy{
				{Object: "/admin/payouts/:id/transition", Action: "POST"},
				{Object: "/admin/settings/pipeline", Action: "PUT"},
			},
		},
	}
}

// BootstrapBuiltinRoles 初始化预置角色与默认策略，可重复执行
func (s *Service) BootstrapBuiltinRoles() error {
	if s == nil || s.enforcer == nil {
		return fmt.Errorf("authz service unavailable")
	}

	for _, seed := range BuiltinRoleSeeds() {
		role, err := s.EnsureRole(seed.Role)
		if err != nil {
			return err
		}

		for _, parent := range seed.Inherits {
			parentRole, err := s.EnsureRole(parent)
			if err != nil {
				return err
			}
			if _, err := s.enforcer.AddNamedGroupingPolicy("g", role, parentRole); err != nil {
				return fmt.Errorf("link role inheritance failed: %w", err)
			}
		}

		for _, policy := range seed.Policies {
			action := NormalizeAction(policy.Action)
			if action == "" {
				return fmt.Errorf("builtin policy action is required")
			}
			if _, err := s.enforcer.AddPolicy(role, NormalizeObject(policy.Object), action); err != nil {
				return fmt.Errorf("add builtin policy failed: %w", err)
			}
		}
	}
	return nil
}
