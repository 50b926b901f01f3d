package apikey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/repository"
	"gamecore-backend/pkg/security"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[APIKey]
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
		repo: repository.ProvideStore[APIKey](p.DB),
	}
}

type IssueParams struct {
	ProjectID string `json:"projectId" binding:"required"`
}

type IssueResult struct {
	Key *APIKey `json:"key"`
	// Secret is the full presentable credential, returned once at issue time.
	Secret string `json:"secret"`
}

// Issue creates a new API key for a tenant project. The plaintext secret is
// only available in the response; the store keeps an argon2 hash.
func (s *Service) Issue(ctx context.Context, tenantID string, params IssueParams) (*IssueResult, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}
	if params.ProjectID == "" {
		return nil, errutil.BadRequest("projectId is required", nil)
	}

	secret, err := security.GenerateBase64Secret(32)
	if err != nil {
		return nil, errutil.Internal("failed to generate api key secret", err)
	}

	hash, err := security.HashArgon2(secret)
	if err != nil {
		return nil, errutil.Internal("failed to hash api key secret", err)
	}

	id := s.node.Generate().String()
	key := &APIKey{
		ID:         id,
		TenantID:   tenantID,
		ProjectID:  params.ProjectID,
		KeyID:      fmt.Sprintf("gc_live_%s", id),
		SecretHash: hash,
		Status:     APIKeyStatusActive,
	}

	if err := s.repo.Create(ctx, key); err != nil {
		zap.L().Error("failed to create api key", zap.Error(err))
		return nil, errutil.Internal("failed to create api key", err)
	}

	return &IssueResult{
		Key:    key,
		Secret: fmt.Sprintf("%s.%s", key.KeyID, secret),
	}, nil
}

// Verify checks a presented credential ("<keyId>.<secret>") against the
// tenant/project it claims to act for.
func (s *Service) Verify(ctx context.Context, tenantID, projectID, presented string) (bool, error) {
	keyID, secret, ok := strings.Cut(presented, ".")
	if !ok || keyID == "" || secret == "" {
		return false, nil
	}

	key, err := s.repo.FindOne(ctx, &APIKey{KeyID: keyID, TenantID: tenantID, ProjectID: projectID})
	if err != nil {
		return false, err
	}
	if key == nil || key.Status != APIKeyStatusActive {
		return false, nil
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return false, nil
	}

	return security.VerifyArgon2(secret, key.SecretHash), nil
}
