package domain

import "time"

// Role is a capability set, not a hierarchy class. Employees create and view
// their own tickets, managers additionally approve/reject and see their team,
// admins see everything.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleAdmin    Role = "ADMIN"
)

// CanApprove reports whether the role may act on approval links.
func (r Role) CanApprove() bool {
	return r == RoleManager || r == RoleAdmin
}

// CanViewTeam reports whether the role may list tickets beyond its own.
func (r Role) CanViewTeam() bool {
	return r == RoleManager || r == RoleAdmin
}

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the domain model for everyone who touches tickets. ManagerID points
// at the user responsible for approving this user's tickets and is derived
// from the org record at ticket creation.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Team         Team
	ManagerID    *string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
