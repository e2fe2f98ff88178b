package domain

import "time"

// ServiceAPIKey maps a hashed static key to a calling service and the
// permission codes it may exercise.
type ServiceAPIKey struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ServiceID   string    `gorm:"size:100;index;not null" json:"service_id"`
	KeyHash     string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	Permissions []string  `gorm:"serializer:json" json:"permissions"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
