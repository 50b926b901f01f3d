package inventory

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/repository"
	"gamecore-backend/services/event"
	"gamecore-backend/services/idempotency"
	"gamecore-backend/services/project"
)

const (
	opGrant   = "inventory.grant"
	opConsume = "inventory.consume"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	stacks   repository.Repository[ItemStack]
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
		stacks:   repository.ProvideStore[ItemStack](p.DB),
		projects: p.Projects,
		ledger:   p.Ledger,
		events:   p.Events,
	}
}

type MoveParams struct {
	ProjectID      string `json:"projectId" binding:"required"`
	ItemID         string `json:"itemId" binding:"required"`
	Quantity       int64  `json:"quantity" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey" binding:"required"`
}

// MoveResult is the stored outcome of a grant or consume.
type MoveResult struct {
	PlayerID string `json:"playerId"`
	ItemID   string `json:"itemId"`
	Quantity int64  `json:"quantity"`
	Total    int64  `json:"total"`
}

func (s *Service) validateMove(ctx context.Context, tenantID, playerID string, params MoveParams) error {
	if playerID == "" {
		return errutil.BadRequest("playerId is required", nil)
	}
	if params.ItemID == "" {
		return errutil.ValidationFailed("itemId is required", nil)
	}
	if params.Quantity <= 0 {
		return errutil.ValidationFailed("quantity must be positive", nil)
	}
	if params.IdempotencyKey == "" {
		return errutil.ValidationFailed("idempotencyKey is required", nil)
	}
	return s.projects.Ensure(ctx, tenantID, params.ProjectID)
}

// GrantItem adds items to a player's stack exactly once per idempotency key.
func (s *Service) GrantItem(ctx context.Context, tenantID, playerID string, params MoveParams) (*MoveResult, error) {
	if err := s.validateMove(ctx, tenantID, playerID, params); err != nil {
		return nil, err
	}

	record, isNew, err := s.ledger.Begin(ctx, tenantID, opGrant, params.IdempotencyKey, params)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return replaySnapshot(record)
	}

	var total int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "project_id"},
				{Name: "player_id"},
				{Name: "item_id"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity": gorm.Expr("quantity + ?", params.Quantity),
			}),
		}).Create(&ItemStack{
			ID:        s.node.Generate().String(),
			TenantID:  tenantID,
			ProjectID: params.ProjectID,
			PlayerID:  playerID,
			ItemID:    params.ItemID,
			Quantity:  params.Quantity,
		})
		if res.Error != nil {
			return res.Error
		}

		quantity, err := s.currentQuantity(tx, tenantID, params.ProjectID, playerID, params.ItemID)
		if err != nil {
			return err
		}
		total = quantity
		return nil
	})
	if err != nil {
		zap.L().Error("item grant failed", zap.Error(err))
		return nil, errutil.Internal("failed to grant item", err)
	}

	result := &MoveResult{PlayerID: playerID, ItemID: params.ItemID, Quantity: params.Quantity, Total: total}
	return s.finishMove(ctx, tenantID, record.ID, "item.granted", params.ProjectID, result)
}

// ConsumeItem removes items, refusing to take the stack below zero.
func (s *Service) ConsumeItem(ctx context.Context, tenantID, playerID string, params MoveParams) (*MoveResult, error) {
	if err := s.validateMove(ctx, tenantID, playerID, params); err != nil {
		return nil, err
	}

	record, isNew, err := s.ledger.Begin(ctx, tenantID, opConsume, params.IdempotencyKey, params)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return replaySnapshot(record)
	}

	var total int64
	insufficient := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ItemStack{}).
			Where("tenant_id = ? AND project_id = ? AND player_id = ? AND item_id = ? AND quantity >= ?",
				tenantID, params.ProjectID, playerID, params.ItemID, params.Quantity).
			Update("quantity", gorm.Expr("quantity - ?", params.Quantity))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			insufficient = true
			return gorm.ErrInvalidData
		}

		quantity, err := s.currentQuantity(tx, tenantID, params.ProjectID, playerID, params.ItemID)
		if err != nil {
			return err
		}
		total = quantity
		return nil
	})
	if err != nil {
		if insufficient {
			return nil, errutil.Conflict("insufficient items", nil)
		}
		zap.L().Error("item consume failed", zap.Error(err))
		return nil, errutil.Internal("failed to consume item", err)
	}

	result := &MoveResult{PlayerID: playerID, ItemID: params.ItemID, Quantity: -params.Quantity, Total: total}
	return s.finishMove(ctx, tenantID, record.ID, "item.consumed", params.ProjectID, result)
}

func (s *Service) finishMove(ctx context.Context, tenantID, recordID, eventType, projectID string, result *MoveResult) (*MoveResult, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, errutil.Internal("failed to encode result", err)
	}

	if _, err := s.events.Append(ctx, tenantID, event.AppendParams{
		ProjectID: projectID,
		Type:      eventType,
		PlayerID:  result.PlayerID,
		Payload:   payload,
	}); err != nil {
		return nil, err
	}

	if err := s.ledger.Complete(ctx, recordID, result); err != nil {
		zap.L().Error("failed to seal idempotency record", zap.Error(err))
		return nil, errutil.Internal("failed to record operation result", err)
	}

	return result, nil
}

func replaySnapshot(record *idempotency.Record) (*MoveResult, error) {
	var result MoveResult
	ok, err := record.SnapshotInto(&result)
	if err != nil {
		return nil, errutil.Internal("failed to decode stored result", err)
	}
	if !ok {
		return nil, idempotency.ErrInProgress()
	}
	return &result, nil
}

func (s *Service) currentQuantity(tx *gorm.DB, tenantID, projectID, playerID, itemID string) (int64, error) {
	var stack ItemStack
	err := tx.Where(&ItemStack{
		TenantID:  tenantID,
		ProjectID: projectID,
		PlayerID:  playerID,
		ItemID:    itemID,
	}).First(&stack).Error
	if err != nil {
		return 0, err
	}
	return stack.Quantity, nil
}

// ListItems returns the player's stacks in a project.
func (s *Service) ListItems(ctx context.Context, tenantID, projectID, playerID string) ([]*ItemStack, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}
	if playerID == "" {
		return nil, errutil.BadRequest("playerId is required", nil)
	}
	return s.stacks.Find(ctx, &ItemStack{TenantID: tenantID, ProjectID: projectID, PlayerID: playerID})
}
