package project

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/repository"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[Project]
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
		repo: repository.ProvideStore[Project](p.DB),
	}
}

type CreateParams struct {
	Name string `json:"name" binding:"required"`
}

func (s *Service) Create(ctx context.Context, tenantID string, params CreateParams) (*Project, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", tenantID),
	)

	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}
	if params.Name == "" {
		return nil, errutil.BadRequest("name is required", nil)
	}

	project := &Project{
		ID:       s.node.Generate().String(),
		TenantID: tenantID,
		Name:     params.Name,
		Status:   Active,
	}

	if err := s.repo.Create(ctx, project); err != nil {
		zapLog.Error("failed to create project", zap.Error(err))
		return nil, errutil.Internal("failed to create project", err)
	}

	return project, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]*Project, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}

	projects, err := s.repo.Find(ctx, &Project{TenantID: tenantID})
	if err != nil {
		zap.L().Error("failed to list projects", zap.Error(err))
		return nil, errutil.Internal("failed to list projects", err)
	}

	return projects, nil
}

func (s *Service) Get(ctx context.Context, tenantID, projectID string) (*Project, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}

	project, err := s.repo.FindOne(ctx, &Project{ID: projectID, TenantID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to get project", err)
	}
	if project == nil {
		return nil, errutil.NotFound("Project not found for this tenant", nil)
	}

	return project, nil
}

// Ensure validates that the project exists and belongs to the tenant. Every
// pipeline entry point calls this before touching tenant data.
func (s *Service) Ensure(ctx context.Context, tenantID, projectID string) error {
	if tenantID == "" {
		return errutil.BadRequest("Missing tenantId header", nil)
	}
	if projectID == "" {
		return errutil.BadRequest("projectId is required", nil)
	}

	count, err := s.repo.Count(ctx, &Project{ID: projectID, TenantID: tenantID})
	if err != nil {
		return errutil.Internal("failed to validate project", err)
	}
	if count == 0 {
		return errutil.NotFound("Project not found for this tenant", nil)
	}

	return nil
}
