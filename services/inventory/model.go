package inventory

import "time"

// ItemStack is how many of one item a player holds in a project.
type ItemStack struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;not null;uniqueIndex:idx_item_stacks_scope" json:"tenantId"`
	ProjectID string    `gorm:"column:project_id;not null;uniqueIndex:idx_item_stacks_scope" json:"projectId"`
	PlayerID  string    `gorm:"column:player_id;not null;uniqueIndex:idx_item_stacks_scope" json:"playerId"`
	ItemID    string    `gorm:"column:item_id;not null;uniqueIndex:idx_item_stacks_scope" json:"itemId"`
	Quantity  int64     `gorm:"column:quantity;not null;default:0" json:"quantity"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
