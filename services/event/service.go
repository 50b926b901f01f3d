package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gamecore-backend/pkg/db/option"
	"gamecore-backend/pkg/db/pagination"
	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/repository"
	"gamecore-backend/pkg/sequence"
	"gamecore-backend/pkg/task"
	"gamecore-backend/services/project"
	"gamecore-backend/services/webhook"
)

// Broadcaster pushes an accepted event to realtime consumers. Delivery is
// best effort; failures never fail the append.
type Broadcaster interface {
	Publish(event *Event)
}

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	repo        repository.Repository[Event]
	projects    *project.Service
	seq         sequence.Generator
	enqueuer    task.Enqueuer
	broadcaster Broadcaster
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Projects    *project.Service
	Sequence    sequence.Generator
	Enqueuer    task.Enqueuer      `optional:"true"`
	Broadcaster Broadcaster        `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		repo:        repository.ProvideStore[Event](p.DB),
		projects:    p.Projects,
		seq:         p.Sequence,
		enqueuer:    p.Enqueuer,
		broadcaster: p.Broadcaster,
	}
}

type AppendParams struct {
	ProjectID string          `json:"projectId" binding:"required"`
	Type      string          `json:"type" binding:"required"`
	PlayerID  string          `json:"playerId"`
	Payload   json.RawMessage `json:"payload"`
}

// Append validates the project scope, persists the event, then fans out:
// realtime broadcast and webhook materialization are both best effort, the
// poll loop catches up on anything the enqueue misses.
func (s *Service) Append(ctx context.Context, tenantID string, params AppendParams) (*Event, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", tenantID),
		zap.String("event_type", params.Type),
	)

	if params.Type == "" {
		return nil, errutil.BadRequest("type is required", nil)
	}
	if err := s.projects.Ensure(ctx, tenantID, params.ProjectID); err != nil {
		return nil, err
	}

	reference, err := s.seq.NextEventCode(ctx, tenantID)
	if err != nil {
		zapLog.Warn("failed to allocate event reference", zap.Error(err))
	}

	evt := &Event{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		ProjectID: params.ProjectID,
		Type:      params.Type,
		PlayerID:  params.PlayerID,
		Reference: reference,
		Payload:   []byte(params.Payload),
	}

	if err := s.repo.Create(ctx, evt); err != nil {
		zapLog.Error("failed to append event", zap.Error(err))
		return nil, errutil.Internal("failed to append event", err)
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(evt)
	}

	if s.enqueuer != nil {
		t, err := webhook.NewEnqueueEventTask(webhook.EnqueueEventPayload{
			EventID:   evt.ID,
			TenantID:  evt.TenantID,
			ProjectID: evt.ProjectID,
			EventType: evt.Type,
			Payload:   json.RawMessage(evt.Payload),
			CreatedAt: evt.CreatedAt,
		})
		if err != nil {
			zapLog.Warn("failed to build enqueue task", zap.Error(err))
		} else if _, err := s.enqueuer.Enqueue(t); err != nil {
			zapLog.Warn("failed to enqueue event materialization", zap.Error(err))
		}
	}

	return evt, nil
}

type ListParams struct {
	ProjectID string `form:"projectId"`
	Type      string `form:"type"`
	PlayerID  string `form:"playerId"`
	pagination.Pagination
}

func (s *Service) List(ctx context.Context, tenantID string, params ListParams) ([]*Event, *pagination.PageInfo, error) {
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

	query := &Event{TenantID: tenantID, ProjectID: params.ProjectID, Type: params.Type, PlayerID: params.PlayerID}
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

	events, err := s.repo.Find(ctx, query, opts...)
	if err != nil {
		zap.L().Error("failed to list events", zap.Error(err))
		return nil, nil, errutil.Internal("failed to list events", err)
	}

	events, pageInfo := pagination.BuildCursorPageInfo(events, limit, func(e *Event) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID})
		return c
	})

	return events, pageInfo, nil
}

// ListAfter returns up to limit events with an id greater than afterID in
// ascending order, for realtime resume replay.
func (s *Service) ListAfter(ctx context.Context, tenantID, projectID, afterID string, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.repo.Find(ctx, &Event{TenantID: tenantID, ProjectID: projectID},
		option.GT("id", afterID),
		option.WithSortBy(option.QuerySortBy{Field: "id", OrderBy: "ASC"}),
		option.WithLimit(limit),
	)
}

type StatsBucket struct {
	Day   string `json:"day"`
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// CountByTypeSince aggregates per-day, per-type counts for a tenant.
func (s *Service) CountByTypeSince(ctx context.Context, tenantID string, since time.Time) ([]*StatsBucket, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}

	var buckets []*StatsBucket
	err := s.db.WithContext(ctx).
		Model(&Event{}).
		Select("date(created_at) AS day, type, count(*) AS count").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Group("date(created_at), type").
		Order("day ASC, type ASC").
		Scan(&buckets).Error
	if err != nil {
		zap.L().Error("failed to aggregate event stats", zap.Error(err))
		return nil, errutil.Internal("failed to aggregate event stats", err)
	}

	return buckets, nil
}
