package apikey

import (
	"time"
)

type APIKeyStatus string

const (
	APIKeyStatusActive  APIKeyStatus = "active"
	APIKeyStatusRevoked APIKeyStatus = "revoked"
	APIKeyStatusExpired APIKeyStatus = "expired"
)

type APIKey struct {
	ID         string       `gorm:"column:id;primaryKey" json:"id"`
	TenantID   string       `gorm:"column:tenant_id;not null;index" json:"tenantId"`
	ProjectID  string       `gorm:"column:project_id;not null;index" json:"projectId"`
	KeyID      string       `gorm:"column:key_id;uniqueIndex;not null" json:"keyId"` // e.g. gc_live_xxx
	SecretHash string       `gorm:"column:secret_hash;not null" json:"-"`            // argon2 hash, never plaintext
	Status     APIKeyStatus `gorm:"column:status;default:'active';not null" json:"status"`
	CreatedAt  time.Time    `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at" json:"expiresAt,omitempty"`
}
