package domain

import "time"

type RoleType string

const (
	RoleTypeSystem RoleType = "system"
	RoleTypeCustom RoleType = "custom"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type Role struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Description string       `gorm:"size:500" json:"description"`
	Type        RoleType     `gorm:"size:16;not null" json:"type"`
	IsSystem    bool         `gorm:"not null" json:"is_system"`
	IsDefault   bool         `gorm:"index;not null" json:"is_default"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (r *Role) PermissionCodes() []string {
	codes := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		codes = append(codes, p.Code)
	}
	return codes
}
