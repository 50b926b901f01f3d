package project

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gamecore-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Project{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "tenant-1", CreateParams{Name: "game"})
	require.NoError(t, err)
	require.Equal(t, Active, created.Status)

	got, err := svc.Get(ctx, "tenant-1", created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = svc.Get(ctx, "tenant-2", created.ID)
	require.Error(t, err)
}

func TestEnsure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "tenant-1", CreateParams{Name: "game"})
	require.NoError(t, err)

	require.NoError(t, svc.Ensure(ctx, "tenant-1", created.ID))
	require.Error(t, svc.Ensure(ctx, "tenant-2", created.ID))
	require.Error(t, svc.Ensure(ctx, "tenant-1", "999999"))
	require.Error(t, svc.Ensure(ctx, "", created.ID))
	require.Error(t, svc.Ensure(ctx, "tenant-1", ""))
}

func TestListScopedToTenant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "tenant-1", CreateParams{Name: "a"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "tenant-2", CreateParams{Name: "b"})
	require.NoError(t, err)

	projects, err := svc.List(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, projects, 1)
}
