package wallet

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gamecore-backend/pkg/db/option"
	"gamecore-backend/pkg/db/pagination"
	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/repository"
	"gamecore-backend/services/event"
	"gamecore-backend/services/idempotency"
	"gamecore-backend/services/project"
)

const (
	opCredit = "wallet.credit"
	opDebit  = "wallet.debit"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	balances repository.Repository[Balance]
	txns     repository.Repository[Transaction]
	projects *project.Service
	ledger   *idempotency.Service
	events   *event.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Projects *project.Service
	Ledger   *idempotency.Service
	Events   *event.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		balances: repository.ProvideStore[Balance](p.DB),
		txns:     repository.ProvideStore[Transaction](p.DB),
		projects: p.Projects,
		ledger:   p.Ledger,
		events:   p.Events,
	}
}

type MoveParams struct {
	ProjectID      string `json:"projectId" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required"`
}

func (s *Service) validateMove(ctx context.Context, tenantID, playerID string, params MoveParams) error {
	if playerID == "" {
		return errutil.BadRequest("playerId is required", nil)
	}
	if params.Currency == "" {
		return errutil.ValidationFailed("currency is required", nil)
	}
	if params.Amount <= 0 {
		return errutil.ValidationFailed("amount must be positive", nil)
	}
	if params.IdempotencyKey == "" {
		return errutil.ValidationFailed("idempotencyKey is required", nil)
	}
	return s.projects.Ensure(ctx, tenantID, params.ProjectID)
}

// Credit adds funds to the player balance exactly once per idempotency key.
// Duplicate calls return the stored transaction; a duplicate racing the
// first run gets a conflict rather than a second application.
func (s *Service) Credit(ctx context.Context, tenantID, playerID string, params MoveParams) (*Transaction, error) {
	if err := s.validateMove(ctx, tenantID, playerID, params); err != nil {
		return nil, err
	}

	record, isNew, err := s.ledger.Begin(ctx, tenantID, opCredit, params.IdempotencyKey, params)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return replaySnapshot(record)
	}

	txn := &Transaction{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		ProjectID: params.ProjectID,
		PlayerID:  playerID,
		Currency:  params.Currency,
		Kind:      TransactionCredit,
		Amount:    params.Amount,
		Reason:    params.Reason,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "project_id"},
				{Name: "player_id"},
				{Name: "currency"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"amount": gorm.Expr("amount + ?", params.Amount),
			}),
		}).Create(&Balance{
			ID:        s.node.Generate().String(),
			TenantID:  tenantID,
			ProjectID: params.ProjectID,
			PlayerID:  playerID,
			Currency:  params.Currency,
			Amount:    params.Amount,
		})
		if res.Error != nil {
			return res.Error
		}

		balance, err := s.currentBalance(tx, tenantID, params.ProjectID, playerID, params.Currency)
		if err != nil {
			return err
		}
		txn.BalanceAfter = balance

		return tx.Create(txn).Error
	})
	if err != nil {
		zap.L().Error("wallet credit failed", zap.Error(err))
		return nil, errutil.Internal("failed to credit wallet", err)
	}

	return s.finishMove(ctx, tenantID, record.ID, "wallet.credited", txn)
}

// Debit removes funds, refusing to take the balance below zero. The guard is
// a conditional update so two concurrent debits cannot both drain the same
// funds.
func (s *Service) Debit(ctx context.Context, tenantID, playerID string, params MoveParams) (*Transaction, error) {
	if err := s.validateMove(ctx, tenantID, playerID, params); err != nil {
		return nil, err
	}

	record, isNew, err := s.ledger.Begin(ctx, tenantID, opDebit, params.IdempotencyKey, params)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return replaySnapshot(record)
	}

	txn := &Transaction{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		ProjectID: params.ProjectID,
		PlayerID:  playerID,
		Currency:  params.Currency,
		Kind:      TransactionDebit,
		Amount:    -params.Amount,
		Reason:    params.Reason,
	}

	insufficient := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Balance{}).
			Where("tenant_id = ? AND project_id = ? AND player_id = ? AND currency = ? AND amount >= ?",
				tenantID, params.ProjectID, playerID, params.Currency, params.Amount).
			Update("amount", gorm.Expr("amount - ?", params.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			insufficient = true
			return gorm.ErrInvalidData
		}

		balance, err := s.currentBalance(tx, tenantID, params.ProjectID, playerID, params.Currency)
		if err != nil {
			return err
		}
		txn.BalanceAfter = balance

		return tx.Create(txn).Error
	})
	if err != nil {
		if insufficient {
			return nil, errutil.Conflict("insufficient funds", nil)
		}
		zap.L().Error("wallet debit failed", zap.Error(err))
		return nil, errutil.Internal("failed to debit wallet", err)
	}

	return s.finishMove(ctx, tenantID, record.ID, "wallet.debited", txn)
}

// finishMove emits the domain event and seals the idempotency record. The
// event append is part of the contract; failing it fails the request even
// though the balance already moved, and the unsealed record keeps duplicates
// from re-applying.
func (s *Service) finishMove(ctx context.Context, tenantID, recordID, eventType string, txn *Transaction) (*Transaction, error) {
	payload, err := json.Marshal(txn)
	if err != nil {
		return nil, errutil.Internal("failed to encode transaction", err)
	}

	if _, err := s.events.Append(ctx, tenantID, event.AppendParams{
		ProjectID: txn.ProjectID,
		Type:      eventType,
		PlayerID:  txn.PlayerID,
		Payload:   payload,
	}); err != nil {
		return nil, err
	}

	if err := s.ledger.Complete(ctx, recordID, txn); err != nil {
		zap.L().Error("failed to seal idempotency record", zap.Error(err))
		return nil, errutil.Internal("failed to record operation result", err)
	}

	return txn, nil
}

func replaySnapshot(record *idempotency.Record) (*Transaction, error) {
	var txn Transaction
	ok, err := record.SnapshotInto(&txn)
	if err != nil {
		return nil, errutil.Internal("failed to decode stored result", err)
	}
	if !ok {
		return nil, idempotency.ErrInProgress()
	}
	return &txn, nil
}

func (s *Service) currentBalance(tx *gorm.DB, tenantID, projectID, playerID, currency string) (int64, error) {
	var balance Balance
	err := tx.Where(&Balance{
		TenantID:  tenantID,
		ProjectID: projectID,
		PlayerID:  playerID,
		Currency:  currency,
	}).First(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance.Amount, nil
}

// Balances returns every currency balance the player holds in the project.
func (s *Service) Balances(ctx context.Context, tenantID, projectID, playerID string) ([]*Balance, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}
	if playerID == "" {
		return nil, errutil.BadRequest("playerId is required", nil)
	}
	return s.balances.Find(ctx, &Balance{TenantID: tenantID, ProjectID: projectID, PlayerID: playerID})
}

type ListTransactionsParams struct {
	ProjectID string `form:"projectId"`
	Currency  string `form:"currency"`
	pagination.Pagination
}

func (s *Service) ListTransactions(ctx context.Context, tenantID, playerID string, params ListTransactionsParams) ([]*Transaction, *pagination.PageInfo, error) {
	if tenantID == "" {
		return nil, nil, errutil.BadRequest("Missing tenantId header", nil)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := &Transaction{TenantID: tenantID, PlayerID: playerID, ProjectID: params.ProjectID, Currency: params.Currency}
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Field: "id", OrderBy: "DESC"}),
		option.WithLimit(limit + 1),
	}
	if params.Cursor != "" {
		cursor, err := pagination.DecodeCursor(params.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.LT("id", cursor.ID))
	}

	txns, err := s.txns.Find(ctx, query, opts...)
	if err != nil {
		return nil, nil, errutil.Internal("failed to list transactions", err)
	}

	txns, pageInfo := pagination.BuildCursorPageInfo(txns, limit, func(t *Transaction) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID})
		return c
	})

	return txns, pageInfo, nil
}
