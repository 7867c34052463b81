package auth

import "strings"

// Role is a dashboard user role. Roles are ordered: each one can do
// everything the roles below it can.
type Role string

const (
	// RoleViewer reads fleet views and downloads reports.
	RoleViewer Role = "viewer"
	// RoleOperator also acknowledges action items, reassigns trailers and
	// renames job sites.
	RoleOperator Role = "operator"
	// RoleAdmin also inspects polling sources and in-flight requests.
	RoleAdmin Role = "admin"
)

var roleOrder = []Role{RoleViewer, RoleOperator, RoleAdmin}

// NormalizeRole maps a token claim onto a known role, ignoring case and
// surrounding space.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if roleRank(role) == 0 {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role grants everything required grants. Unknown
// roles grant nothing.
func RoleAtLeast(role Role, required Role) bool {
	rank := roleRank(role)
	return rank > 0 && rank >= roleRank(required)
}

func roleRank(role Role) int {
	for i, r := range roleOrder {
		if r == role {
			return i + 1
		}
	}
	return 0
}
