package apikey

import (
	"context"
	"strings"
	"testing"
	"time"

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

	db := testutil.NewTestDB(t, &APIKey{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Issue(ctx, "tenant-1", IssueParams{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.Secret, "gc_live_"))
	require.NotEqual(t, result.Secret, result.Key.SecretHash)

	ok, err := svc.Verify(ctx, "tenant-1", "proj-1", result.Secret)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Issue(ctx, "tenant-1", IssueParams{ProjectID: "proj-1"})
	require.NoError(t, err)

	ok, err := svc.Verify(ctx, "tenant-1", "proj-1", result.Key.KeyID+".wrong-secret")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Verify(ctx, "tenant-2", "proj-1", result.Secret)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Verify(ctx, "tenant-1", "other-project", result.Secret)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Verify(ctx, "tenant-1", "proj-1", "garbage")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsExpiredKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Issue(ctx, "tenant-1", IssueParams{ProjectID: "proj-1"})
	require.NoError(t, err)

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, svc.repo.Update(ctx, result.Key.ID, map[string]any{"expires_at": expired}))

	ok, err := svc.Verify(ctx, "tenant-1", "proj-1", result.Secret)
	require.NoError(t, err)
	require.False(t, ok)
}
