package idempotency

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/repository"
)

// Service is the exactly-once-effect primitive shared by every mutating
// operation: insert-if-absent on the record, apply the effect only when the
// insert won, then attach the result snapshot for duplicate callers.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[Record]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[Record](p.DB),
	}
}

// Begin attempts to register the operation under (tenant, operation, key).
// It returns (record, true) when this caller owns the first run, or
// (existing record, false) when the operation already ran or is running.
// Insert failures other than the uniqueness conflict propagate as-is.
func (s *Service) Begin(ctx context.Context, tenantID, operation, key string, input any) (*Record, bool, error) {
	if tenantID == "" {
		return nil, false, errutil.BadRequest("Missing tenantId header", nil)
	}
	if operation == "" {
		return nil, false, errutil.BadRequest("operation is required", nil)
	}
	if key == "" {
		return nil, false, errutil.BadRequest("idempotencyKey is required", nil)
	}

	var inputJSON []byte
	if input != nil {
		b, err := json.Marshal(input)
		if err != nil {
			return nil, false, errutil.BadRequest("operation input is not serializable", err)
		}
		inputJSON = b
	}

	record := &Record{
		ID:             s.node.Generate().String(),
		TenantID:       tenantID,
		Operation:      operation,
		IdempotencyKey: key,
		Input:          inputJSON,
	}

	// Explicit insert-if-absent: the unique index decides the winner, and
	// RowsAffected tells us which side of the race we are on.
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "operation"},
			{Name: "idempotency_key"},
		},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return nil, false, res.Error
	}

	if res.RowsAffected > 0 {
		return record, true, nil
	}

	existing, err := s.repo.FindOne(ctx, &Record{
		TenantID:       tenantID,
		Operation:      operation,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errutil.Conflict("Idempotency conflict", nil)
	}

	return existing, false, nil
}

// Complete stores the result snapshot on the record created by Begin.
func (s *Service) Complete(ctx context.Context, recordID string, snapshot any) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.repo.Update(ctx, recordID, map[string]any{"snapshot": b})
}

// SnapshotInto decodes the stored result into out. It returns false when the
// first run has not stored its result yet, in which case callers respond
// with an "idempotent, pending" conflict instead of blocking.
func (r *Record) SnapshotInto(out any) (bool, error) {
	if len(r.Snapshot) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(r.Snapshot, out); err != nil {
		return false, err
	}
	return true, nil
}

// ErrInProgress is the canonical response for a duplicate request racing a
// writer that has not stored its snapshot yet.
func ErrInProgress() error {
	return errutil.Conflict("operation with this idempotency key is still in progress", nil)
}
