package rbac

// Role names. Keep these stable; they are part of the operator token contract.
const (
	// RoleOwner administers the workspace: policies, provider credentials,
	// approval decisions.
	RoleOwner = "owner"

	// RoleOperator runs the desk day to day: decides approvals, watches status.
	RoleOperator = "operator"

	// RoleAgent handles calls; read access plus presence.
	RoleAgent = "agent"

	// RoleAuditor is read-only.
	RoleAuditor = "auditor"

	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanDecideApprovals reports whether the role may resolve pending approvals.
func CanDecideApprovals(role string) bool {
	return role == RoleOwner || role == RoleOperator || role == RoleSuperAdmin
}
