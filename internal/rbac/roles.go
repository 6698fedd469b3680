package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "support" // hidden role, internal operators only
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupport }
