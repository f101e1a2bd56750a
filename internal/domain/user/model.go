package user

import "github.com/Anvoria/sessionkeeper/internal/database"

// Role is the authorization role carried in access tokens
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

type User struct {
	database.BaseModel
	Username string `gorm:"column:username;unique;not null"`
	Password string `gorm:"column:password;not null"`
	Role     Role   `gorm:"column:role;not null;default:USER"`
	IsActive bool   `gorm:"column:is_active;default:true"`
}

func (User) TableName() string {
	return "users"
}

// Identity is the authenticated principal handed to the session layer.
// It never carries the password hash.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Identity returns the public view of u
func (u *User) Identity() *Identity {
	return &Identity{Username: u.Username, Role: u.Role}
}
