// Package user defines the authenticated caller of the HTTP surface.
package user

// Role represents the authorization level of a user within their tenant.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ValidRoles is the set of all valid user roles.
var ValidRoles = map[Role]bool{
	RoleAdmin:  true,
	RoleMember: true,
}

// User is the principal carried by an access token. Users are managed by
// the host application; the sync engine only reads their claims.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id"`
}

// IsTenantAdmin reports whether u may manage the integrations of its tenant.
func (u *User) IsTenantAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
