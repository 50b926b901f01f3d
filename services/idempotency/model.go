package idempotency

import (
	"time"

	"gorm.io/datatypes"
)

// Record is one row per (tenant, operation, idempotencyKey). It is created
// exactly once per key; the storage-layer unique index arbitrates races.
// The result snapshot is attached after the owning operation completes and
// is returned verbatim to every duplicate caller. Records are never deleted.
type Record struct {
	ID             string         `gorm:"column:id;primaryKey" json:"id"`
	TenantID       string         `gorm:"column:tenant_id;not null;uniqueIndex:idx_idempotency_scope" json:"tenantId"`
	Operation      string         `gorm:"column:operation;not null;uniqueIndex:idx_idempotency_scope" json:"operation"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null;uniqueIndex:idx_idempotency_scope" json:"idempotencyKey"`
	Input          datatypes.JSON `gorm:"column:input" json:"input,omitempty"`
	Snapshot       datatypes.JSON `gorm:"column:snapshot" json:"snapshot,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
