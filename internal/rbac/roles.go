package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin     = "admin"
	RoleScheduler = "scheduler" // job triggers only
	RoleViewer    = "viewer"    // read-only reporting
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one this service issues tokens for.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleScheduler, RoleViewer:
		return true
	default:
		return false
	}
}
