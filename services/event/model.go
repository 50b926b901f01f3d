package event

import (
	"time"

	"gorm.io/datatypes"
)

// Event is an append-only fact about something that happened in a tenant
// project. Rows are never updated or deleted; consumers fan out from here.
type Event struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string         `gorm:"column:tenant_id;not null;index:idx_events_tenant_project" json:"tenantId"`
	ProjectID string         `gorm:"column:project_id;not null;index:idx_events_tenant_project" json:"projectId"`
	Type      string         `gorm:"column:type;not null;index" json:"type"`
	PlayerID  string         `gorm:"column:player_id;index" json:"playerId,omitempty"`
	Reference string         `gorm:"column:reference" json:"reference,omitempty"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
