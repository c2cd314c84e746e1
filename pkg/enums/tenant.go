package enums

import "fmt"

// TenantPlan maps to the tenant_plan enum in Postgres.
type TenantPlan string

const (
	TenantPlanStarter    TenantPlan = "starter"
	TenantPlanGrowth     TenantPlan = "growth"
	TenantPlanEnterprise TenantPlan = "enterprise"
)

var validTenantPlans = []TenantPlan{
	TenantPlanStarter,
	TenantPlanGrowth,
	TenantPlanEnterprise,
}

// IsValid reports whether the value matches a known plan.
func (p TenantPlan) IsValid() bool {
	for _, candidate := range validTenantPlans {
		if candidate == p {
			return true
		}
	}
	return false
}

// AllowsAPIAccess reports whether the plan includes programmatic access.
func (p TenantPlan) AllowsAPIAccess() bool {
	return p == TenantPlanGrowth || p == TenantPlanEnterprise
}

// ParseTenantPlan converts raw input into TenantPlan.
func ParseTenantPlan(value string) (TenantPlan, error) {
	for _, candidate := range validTenantPlans {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tenant plan %q", value)
}

// MemberRole is the role carried by session tokens.
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// IsValid reports whether the value matches a known member role.
func (r MemberRole) IsValid() bool {
	return r == MemberRoleAdmin || r == MemberRoleMember
}
