package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleMember     = "member"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleTrustOps   = "trust_ops" // hidden role for fraud review
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleTrustOps }
