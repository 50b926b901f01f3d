package wallet

import "time"

// Balance is the current amount a player holds in one currency. Amounts are
// integer minor units; the conditional decrement on debit keeps them
// non-negative.
type Balance struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;not null;uniqueIndex:idx_balances_scope" json:"tenantId"`
	ProjectID string    `gorm:"column:project_id;not null;uniqueIndex:idx_balances_scope" json:"projectId"`
	PlayerID  string    `gorm:"column:player_id;not null;uniqueIndex:idx_balances_scope" json:"playerId"`
	Currency  string    `gorm:"column:currency;not null;uniqueIndex:idx_balances_scope" json:"currency"`
	Amount    int64     `gorm:"column:amount;not null;default:0" json:"amount"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

type TransactionKind string

const (
	TransactionCredit TransactionKind = "credit"
	TransactionDebit  TransactionKind = "debit"
)

// Transaction is the append-only record of one balance movement.
type Transaction struct {
	ID           string          `gorm:"column:id;primaryKey" json:"id"`
	TenantID     string          `gorm:"column:tenant_id;not null;index" json:"tenantId"`
	ProjectID    string          `gorm:"column:project_id;not null" json:"projectId"`
	PlayerID     string          `gorm:"column:player_id;not null;index" json:"playerId"`
	Currency     string          `gorm:"column:currency;not null" json:"currency"`
	Kind         TransactionKind `gorm:"column:kind;not null" json:"kind"`
	Amount       int64           `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter int64           `gorm:"column:balance_after;not null" json:"balanceAfter"`
	Reason       string          `gorm:"column:reason" json:"reason,omitempty"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
