package model

import "time"

// User represents an account record as stored in the `users` table. The
// credential service only reads it for login and refresh and writes the
// password hash, the verification flag and the last login time.
//
// Fields:
//
//	ID            – primary key identifier of the user.
//	Email         – unique, lower-cased email address.
//	PasswordHash  – bcrypt hashed password.
//	Role          – role name (USER, MANAGER, ADMIN).
//	IsActive      – deactivated accounts cannot log in or refresh.
//	EmailVerified – set once an email verification token is consumed.
//	LastLoginAt   – time of the most recent successful login (nullable).
type User struct {
	ID            uint64
	Email         string
	PasswordHash  string
	Role          string
	IsActive      bool
	EmailVerified bool
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role names. Apart from ADMIN, which gates the maintenance endpoints, the
// service attaches no meaning to them; downstream services interpret roles
// and permissions.
const (
	RoleUser    = "USER"
	RoleManager = "MANAGER"
	RoleAdmin   = "ADMIN"
)

// rolePermissions is carried into access tokens as an opaque claim. The
// authorization layer that interprets it lives outside this service.
var rolePermissions = map[string][]string{
	RoleUser:    {"profile:read", "profile:write", "sessions:manage"},
	RoleManager: {"profile:read", "profile:write", "sessions:manage", "records:write"},
	RoleAdmin:   {"profile:read", "profile:write", "sessions:manage", "records:write", "maintenance:run"},
}

// PermissionsForRole returns a copy of the permission set attached to role.
// Unknown roles get no permissions.
func PermissionsForRole(role string) []string {
	p := rolePermissions[role]
	out := make([]string, len(p))
	copy(out, p)
	return out
}
