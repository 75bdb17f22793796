package auth_models

import (
	"time"
)

// Role names known to the system
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents an account that owns devices
type User struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password"`
	Role      string    `json:"role" db:"role"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NewUser creates an active user. password must already be hashed.
func NewUser(username, email, password, role string) *User {
	now := time.Now()
	return &User{
		Username:  username,
		Email:     email,
		Password:  password,
		Role:      role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Role is a named permission set
type Role struct {
	RoleID      string    `json:"role_id" db:"role_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// PredefinedRoles are created at startup when missing
func PredefinedRoles() []Role {
	return []Role{
		{Name: RoleAdmin, Description: "Administrator with access to every device and user"},
		{Name: RoleUser, Description: "Farm operator with access to the devices they own"},
	}
}
