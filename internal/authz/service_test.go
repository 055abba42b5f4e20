package authz

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupAuthzServiceTest(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	svc, err := NewService(db)
	if err != nil {
		t.Fatalf("new authz service failed: %v", err)
	}
	return svc
}

func TestEnforceOperatorWithClaimedRole(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("ops", "/admin/payouts/:id", "GET"); err != nil {
		t.Fatalf("grant role policy failed: %v", err)
	}

	allow, err := svc.EnforceOperator("op-1", []string{"ops"}, "/api/v1/admin/payouts/42", "get")
	if err != nil {
		t.Fatalf("enforce allow failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected allow=true")
	}

	allow, err = svc.EnforceOperator("op-1", []string{"ops"}, "/api/v1/admin/payouts/42/transition", "POST")
	if err != nil {
		t.Fatalf("enforce deny failed: %v", err)
	}
	if allow {
		t.Fatalf("expected allow=false")
	}

	allow, err = svc.EnforceOperator("op-1", []string{"__anchor__", " "}, "/api/v1/admin/payouts/42", "GET")
	if err != nil || allow {
		t.Fatalf("reserved or blank roles must not grant access, allow=%v err=%v", allow, err)
	}
}

func TestSetOperatorRolesOverride(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("ops", "/admin/conversions", "GET"); err != nil {
		t.Fatalf("grant ops policy failed: %v", err)
	}
	if err := svc.GrantRolePolicy("finance", "/admin/payouts", "GET"); err != nil {
		t.Fatalf("grant finance policy failed: %v", err)
	}

	if err := svc.SetOperatorRoles("op-2", []string{"ops"}); err != nil {
		t.Fatalf("set first role failed: %v", err)
	}
	roles, err := svc.GetOperatorRoles("op-2")
	if err != nil {
		t.Fatalf("get roles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "role:ops" {
		t.Fatalf("roles want [role:ops], got=%v", roles)
	}

	if err := svc.SetOperatorRoles("op-2", []string{"finance"}); err != nil {
		t.Fatalf("set second role failed: %v", err)
	}
	roles, err = svc.GetOperatorRoles("op-2")
	if err != nil {
		t.Fatalf("get roles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "role:finance" {
		t.Fatalf("roles want [role:finance], got=%v", roles)
	}

	allow, err := svc.EnforceOperator("op-2", nil, "/admin/conversions", "GET")
	if err != nil {
		t.Fatalf("enforce old role failed: %v", err)
	}
	if allow {
		t.Fatalf("expected old role permission removed")
	}

	allow, err = svc.EnforceOperator("op-2", nil, "/admin/payouts", "GET")
	if err != nil {
		t.Fatalf("enforce new role failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected new role permission granted")
	}
}

func TestNormalizeObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "/api/v1/admin/payouts/:id", want: "/admin/payouts/:id"},
		{in: "/admin/payouts/:id", want: "/admin/payouts/:id"},
		{in: "admin/payouts", want: "/admin/payouts"},
		{in: "/api/v1", want: "/"},
		{in: "", want: "/"},
	}
	for _, item := range cases {
		got := NormalizeObject(item.in)
		if got != item.want {
			t.Fatalf("normalize object failed, in=%q want=%q got=%q", item.in, item.want, got)
		}
	}
}

func TestBootstrapBuiltinRoles(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap builtin roles failed: %v", err)
	}
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}

	roles, err := svc.ListRoles()
	if err != nil {
		t.Fatalf("list roles failed: %v", err)
	}
	wantRoles := map[string]bool{
		"role:readonly_auditor": true,
		"role:support":          true,
		"role:finance":          true,
	}
	for _, role := range roles {
		delete(wantRoles, role)
	}
	if len(wantRoles) != 0 {
		t.Fatalf("builtin roles missing: %v", wantRoles)
	}

	policies, err := svc.GetRolePolicies("finance")
	if err != nil || len(policies) != 2 {
		t.Fatalf("want 2 finance policies, got %v %v", policies, err)
	}

	cases := []struct {
		role   string
		object string
		action string
		want   bool
	}{
		{role: "readonly_auditor", object: "/api/v1/admin/payouts", action: "GET", want: true},
		{role: "readonly_auditor", object: "/api/v1/admin/payouts/7/transition", action: "POST", want: false},
		{role: "finance", object: "/api/v1/admin/payouts/7", action: "GET", want: true},
		{role: "finance", object: "/api/v1/admin/payouts/7/transition", action: "POST", want: true},
		{role: "finance", object: "/api/v1/admin/settings/pipeline", action: "PUT", want: true},
		{role: "finance", object: "/api/v1/admin/webhook-deliveries/3/retry", action: "POST", want: false},
		{role: "support", object: "/api/v1/admin/webhook-deliveries/3/retry", action: "POST", want: true},
		{role: "support", object: "/api/v1/admin/settings/pipeline", action: "PUT", want: false},
	}
	for _, item := range cases {
		allow, err := svc.EnforceOperator("op-3", []string{item.role}, item.object, item.action)
		if err != nil {
			t.Fatalf("enforce %s %s %s failed: %v", item.role, item.action, item.object, err)
		}
		if allow != item.want {
			t.Fatalf("%s %s %s: want %v got %v", item.role, item.action, item.object, item.want, allow)
		}
	}
}
