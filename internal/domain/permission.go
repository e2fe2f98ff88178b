package domain

import "time"

type PermissionScope string

const (
	PermissionScopeGlobal   PermissionScope = "global"
	PermissionScopeModule   PermissionScope = "module"
	PermissionScopeResource PermissionScope = "resource"
)

type Permission struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Code        string          `gorm:"size:200;uniqueIndex;not null" json:"code"`
	Name        string          `gorm:"size:200" json:"name"`
	Description string          `gorm:"size:500" json:"description"`
	Scope       PermissionScope `gorm:"size:16;not null" json:"scope"`
	ModuleName  string          `gorm:"size:100" json:"module_name,omitempty"`
	Resource    string          `gorm:"size:100;index" json:"resource"`
	Action      string          `gorm:"size:100" json:"action"`
	HTTPMethod  string          `gorm:"size:10" json:"http_method,omitempty"`
	RoutePath   string          `gorm:"size:500" json:"route_path,omitempty"`
	IsSystem    bool            `gorm:"index;not null" json:"is_system"`
	IsActive    bool            `gorm:"index;not null" json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
