package webhook

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
	SubscriptionStatusPaused SubscriptionStatus = "paused"
)

type SubscriptionKind string

const (
	// KindCallback delivers over signed HTTP POST.
	KindCallback SubscriptionKind = "callback"
	// KindLiveSocketClass marks a realtime class binding; no endpoint, no
	// outbox rows, consumed by the websocket hub only.
	KindLiveSocketClass SubscriptionKind = "live-socket-class"
)

// Subscription binds a tenant project to a delivery endpoint with an event
// type filter. EventTypes holds exact types or the catch-all "*".
type Subscription struct {
	ID         string             `gorm:"column:id;primaryKey" json:"id"`
	TenantID   string             `gorm:"column:tenant_id;not null;index:idx_subscriptions_scope" json:"tenantId"`
	ProjectID  string             `gorm:"column:project_id;not null;index:idx_subscriptions_scope" json:"projectId"`
	Kind       SubscriptionKind   `gorm:"column:kind;not null;default:callback" json:"kind"`
	URL        string             `gorm:"column:url" json:"url,omitempty"`
	Secret     string             `gorm:"column:secret" json:"-"`
	EventTypes datatypes.JSON     `gorm:"column:event_types;not null" json:"eventTypes"`
	Status     SubscriptionStatus `gorm:"column:status;not null;default:active" json:"status"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// Matches reports whether the subscription wants the given event type.
func (s *Subscription) Matches(eventType string) bool {
	var types []string
	if err := json.Unmarshal(s.EventTypes, &types); err != nil {
		return false
	}
	for _, t := range types {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusDead      DeliveryStatus = "dead"
)

// Delivery is one subscription x event pair. The unique index makes
// materialization idempotent: re-running the fan-out for an event cannot
// create a second row.
type Delivery struct {
	ID             string         `gorm:"column:id;primaryKey" json:"id"`
	TenantID       string         `gorm:"column:tenant_id;not null;index" json:"tenantId"`
	ProjectID      string         `gorm:"column:project_id;not null" json:"projectId"`
	SubscriptionID string         `gorm:"column:subscription_id;not null;uniqueIndex:idx_deliveries_sub_event" json:"subscriptionId"`
	EventID        string         `gorm:"column:event_id;not null;uniqueIndex:idx_deliveries_sub_event" json:"eventId"`
	EventType      string         `gorm:"column:event_type;not null" json:"eventType"`
	Payload        datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	Status         DeliveryStatus `gorm:"column:status;not null;default:pending;index:idx_deliveries_due" json:"status"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts    int            `gorm:"column:max_attempts;not null;default:6" json:"maxAttempts"`
	NextAttemptAt  time.Time      `gorm:"column:next_attempt_at;not null;index:idx_deliveries_due" json:"nextAttemptAt"`
	LastError      string         `gorm:"column:last_error" json:"lastError,omitempty"`
	LastStatusCode int            `gorm:"column:last_status_code" json:"lastStatusCode,omitempty"`
	LastResponse   string         `gorm:"column:last_response" json:"lastResponse,omitempty"`
	EventCreatedAt time.Time      `gorm:"column:event_created_at" json:"eventCreatedAt"`
	DeliveredAt    *time.Time     `gorm:"column:delivered_at" json:"deliveredAt,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
