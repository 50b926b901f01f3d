package project

import (
	"time"
)

type ProjectStatus string

const (
	Active   ProjectStatus = "active"
	Archived ProjectStatus = "archived"
)

type Project struct {
	ID        string        `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string        `gorm:"column:tenant_id;not null;index" json:"tenantId"`
	Name      string        `gorm:"column:name;not null" json:"name"`
	Status    ProjectStatus `gorm:"column:status;default:'active';not null" json:"status"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
