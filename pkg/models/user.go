package models

import (
	"time"
)

// Role is a user's permission tier.
type Role string

// Role constants, lowest to highest.
const (
	RoleSimple     Role = "simple"
	RoleSuper      Role = "super"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// ValidRoles contains all valid role values in ascending order.
var ValidRoles = []Role{RoleSimple, RoleSuper, RoleAdmin, RoleSuperadmin}

// IsValidRole checks if the given role is valid.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if string(r) == role {
			return true
		}
	}
	return false
}

// Rank orders roles; unknown roles rank below simple.
func (r Role) Rank() int {
	for i, v := range ValidRoles {
		if v == r {
			return i + 1
		}
	}
	return 0
}

// AtLeast reports whether r is min or higher.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank()
}

// Permission names understood by HasPermission.
const (
	PermViewUsers       = "view_users"
	PermCreateUsers     = "create_users"
	PermEditUsers       = "edit_users"
	PermManageGroup     = "manage_group"
	PermEditOwnProfile  = "edit_own_profile"
	PermViewOwnProfile  = "view_own_profile"
	PermManageKnowledge = "manage_knowledge"
)

// AllPermissions lists every grantable permission.
var AllPermissions = []string{
	PermViewUsers, PermCreateUsers, PermEditUsers, PermManageGroup,
	PermEditOwnProfile, PermViewOwnProfile, PermManageKnowledge,
}

var rolePermissions = map[Role][]string{
	RoleAdmin: {PermViewUsers, PermCreateUsers, PermEditUsers, PermManageGroup},
	RoleSuper: {PermViewUsers, PermEditOwnProfile},
}

// User is an account in the back office.
type User struct {
	ID          int64          `json:"id"`
	Email       string         `json:"email"`
	Password    string         `json:"-"`
	FirstName   string         `json:"first_name"`
	LastName    string         `json:"last_name"`
	Phone       string         `json:"phone,omitempty"`
	Role        Role           `json:"role"`
	GroupID     *int64         `json:"group_id,omitempty"`
	CreatedBy   *int64         `json:"created_by,omitempty"`
	IsActive    bool           `json:"is_active"`
	IsVerified  bool           `json:"is_verified"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastLogin   *time.Time     `json:"last_login,omitempty"`
	DateJoined  time.Time      `json:"date_joined"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Permissions []string       `json:"-"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// HasPermission reports whether the user holds perm through its role or an explicit grant.
func (u *User) HasPermission(perm string) bool {
	if u.Role == RoleSuperadmin {
		return true
	}
	if perms, ok := rolePermissions[u.Role]; ok {
		for _, p := range perms {
			if p == perm {
				return true
			}
		}
	} else if perm == PermViewOwnProfile {
		return true
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// CanManageUser reports whether u may administer target.
// Admins manage simple and super users of their own group only.
func (u *User) CanManageUser(target *User) bool {
	if u.Role == RoleSuperadmin {
		return true
	}
	if u.Role != RoleAdmin || u.GroupID == nil || target.GroupID == nil {
		return false
	}
	if *u.GroupID != *target.GroupID {
		return false
	}
	return target.Role == RoleSimple || target.Role == RoleSuper
}

// Principal returns the access identity of the user.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Role: u.Role, GroupID: u.GroupID}
}

// Principal is the authenticated identity a request acts as.
type Principal struct {
	UserID  int64
	Role    Role
	GroupID *int64
}

// IsAdmin reports admin or superadmin.
func (p Principal) IsAdmin() bool {
	return p.Role.AtLeast(RoleAdmin)
}

// Group is a tenant boundary.
type Group struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	IsActive    bool           `json:"is_active"`
	Settings    map[string]any `json:"settings"`
	CreatedBy   *int64         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	UserCount   int            `json:"user_count"`
}

// UserPermission is an explicit permission grant.
type UserPermission struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Permission string    `json:"permission"`
	GrantedBy  *int64    `json:"granted_by,omitempty"`
	GrantedAt  time.Time `json:"granted_at"`
}
