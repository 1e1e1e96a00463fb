package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a member's role. Roles are issued by the identity provider.
type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// IsOperator reports whether the role may use operator endpoints.
func (r Role) IsOperator() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User mirrors a member profile from the identity provider plus attendance stats.
type User struct {
	ID                    uuid.UUID  `json:"id"`
	Nickname              string     `json:"nickname"`
	Phone                 string     `json:"phone,omitempty"`
	Role                  Role       `json:"role"`
	FirstRegularMeetingAt *time.Time `json:"first_regular_meeting_at,omitempty"`
	LastRegularMeetingAt  *time.Time `json:"last_regular_meeting_at,omitempty"`
	TotalParticipations   int        `json:"total_participations"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HasPhone reports whether the user can receive chat notifications.
func (u *User) HasPhone() bool {
	return u != nil && u.Phone != ""
}
