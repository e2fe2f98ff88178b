package domain

import "time"

type User struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Email               string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Name                string     `gorm:"size:200" json:"name"`
	PasswordHash        string     `gorm:"size:255" json:"-"`
	IsActive            bool       `gorm:"not null" json:"is_active"`
	EmailVerified       bool       `gorm:"not null" json:"email_verified"`
	FailedLoginAttempts int        `gorm:"not null" json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	Roles               []Role     `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}
