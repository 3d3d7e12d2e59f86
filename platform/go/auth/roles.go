package auth

import "fmt"

// Role is the closed set of platform roles. Parsing rejects anything outside
// the set, so a new role can never silently slip past a capability check.
type Role string

const (
	RoleDriver      Role = "DRIVER"
	RoleManager     Role = "MANAGER"
	RoleTenantAdmin Role = "TENANT_ADMIN"
	RoleSuperAdmin  Role = "SUPER_ADMIN"
)

// Capability names a privileged action gated by role.
type Capability string

const (
	// CapManageFleet covers driver/vehicle administration within a tenant.
	CapManageFleet Capability = "manage_fleet"
	// CapApproveRemittances covers remittance state transitions.
	CapApproveRemittances Capability = "approve_remittances"
	// CapVerifyPayments covers manual payment verification.
	CapVerifyPayments Capability = "verify_payments"
	// CapCrossTenant covers reads/writes that bypass tenant filtering.
	CapCrossTenant Capability = "cross_tenant"
	// CapImpersonate covers starting impersonation sessions.
	CapImpersonate Capability = "impersonate"
	// CapManageTenants covers the platform tenant registry.
	CapManageTenants Capability = "manage_tenants"
)

// ParseRole converts a claim string into a Role. Unknown values are an error,
// never a fallthrough to some permissive default.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDriver, RoleManager, RoleTenantAdmin, RoleSuperAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

var capabilities = map[Role]map[Capability]struct{}{
	RoleDriver: {},
	RoleManager: {
		CapManageFleet:        {},
		CapApproveRemittances: {},
	},
	RoleTenantAdmin: {
		CapManageFleet:        {},
		CapApproveRemittances: {},
		CapVerifyPayments:     {},
	},
	RoleSuperAdmin: {
		CapManageFleet:        {},
		CapApproveRemittances: {},
		CapVerifyPayments:     {},
		CapCrossTenant:        {},
		CapImpersonate:        {},
		CapManageTenants:      {},
	},
}

// Can reports whether the role grants the capability.
func (r Role) Can(c Capability) bool {
	caps, ok := capabilities[r]
	if !ok {
		return false
	}
	_, ok = caps[c]
	return ok
}
