package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gamecore-backend/services/project"
	"gamecore-backend/services/testutil"
	"gamecore-backend/services/webhook"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSequence struct {
	err error
}

func (f *fakeSequence) NextEventCode(ctx context.Context, tenantID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "EVT-250901-001", nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakeBroadcaster struct {
	published []*Event
}

func (f *fakeBroadcaster) Publish(evt *Event) {
	f.published = append(f.published, evt)
}

type fixture struct {
	svc         *Service
	enqueuer    *fakeEnqueuer
	broadcaster *fakeBroadcaster
	projectID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &project.Project{}, &Event{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	projects := project.NewService(project.ServiceParams{DB: db, Node: node})
	proj, err := projects.Create(context.Background(), "tenant-1", project.CreateParams{Name: "game"})
	require.NoError(t, err)

	enqueuer := &fakeEnqueuer{}
	broadcaster := &fakeBroadcaster{}

	svc := NewService(ServiceParams{
		DB:          db,
		Node:        node,
		Projects:    projects,
		Sequence:    &fakeSequence{},
		Enqueuer:    enqueuer,
		Broadcaster: broadcaster,
	})

	return &fixture{svc: svc, enqueuer: enqueuer, broadcaster: broadcaster, projectID: proj.ID}
}

func TestAppendPersistsAndFansOut(t *testing.T) {
	f := newFixture(t)

	evt, err := f.svc.Append(context.Background(), "tenant-1", AppendParams{
		ProjectID: f.projectID,
		Type:      "wallet.credited",
		PlayerID:  "player-1",
		Payload:   json.RawMessage(`{"amount":100}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, evt.ID)
	require.Equal(t, "EVT-250901-001", evt.Reference)

	require.Len(t, f.broadcaster.published, 1)
	require.Equal(t, evt.ID, f.broadcaster.published[0].ID)

	require.Len(t, f.enqueuer.tasks, 1)
	require.Equal(t, webhook.TaskEnqueueEvent, f.enqueuer.tasks[0].Type())

	var payload webhook.EnqueueEventPayload
	require.NoError(t, json.Unmarshal(f.enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, evt.ID, payload.EventID)
	require.Equal(t, "wallet.credited", payload.EventType)
}

func TestAppendValidatesProject(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Append(context.Background(), "tenant-1", AppendParams{
		ProjectID: "999999",
		Type:      "wallet.credited",
	})
	require.Error(t, err)

	_, err = f.svc.Append(context.Background(), "other-tenant", AppendParams{
		ProjectID: f.projectID,
		Type:      "wallet.credited",
	})
	require.Error(t, err)
}

func TestAppendSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.err = errors.New("redis down")

	evt, err := f.svc.Append(context.Background(), "tenant-1", AppendParams{
		ProjectID: f.projectID,
		Type:      "wallet.credited",
	})
	require.NoError(t, err)
	require.NotEmpty(t, evt.ID)
}

func TestAppendSurvivesSequenceFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.seq = &fakeSequence{err: errors.New("redis down")}

	evt, err := f.svc.Append(context.Background(), "tenant-1", AppendParams{
		ProjectID: f.projectID,
		Type:      "wallet.credited",
	})
	require.NoError(t, err)
	require.Empty(t, evt.Reference)
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Append(ctx, "tenant-1", AppendParams{
			ProjectID: f.projectID,
			Type:      "wallet.credited",
		})
		require.NoError(t, err)
	}

	params := ListParams{}
	params.Limit = 3
	page, info, err := f.svc.List(ctx, "tenant-1", params)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.True(t, info.HasMore)

	params.Cursor = info.NextCursor
	rest, info, err := f.svc.List(ctx, "tenant-1", params)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, info.HasMore)
}

func TestListFiltersByType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, typ := range []string{"wallet.credited", "wallet.debited", "wallet.credited"} {
		_, err := f.svc.Append(ctx, "tenant-1", AppendParams{ProjectID: f.projectID, Type: typ})
		require.NoError(t, err)
	}

	page, _, err := f.svc.List(ctx, "tenant-1", ListParams{Type: "wallet.credited"})
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestCountByTypeSince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, typ := range []string{"wallet.credited", "wallet.credited", "item.granted"} {
		_, err := f.svc.Append(ctx, "tenant-1", AppendParams{ProjectID: f.projectID, Type: typ})
		require.NoError(t, err)
	}

	buckets, err := f.svc.CountByTypeSince(ctx, "tenant-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	counts := map[string]int64{}
	for _, b := range buckets {
		counts[b.Type] = b.Count
	}
	require.EqualValues(t, 2, counts["wallet.credited"])
	require.EqualValues(t, 1, counts["item.granted"])
}

func TestListAfterReturnsAscending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		evt, err := f.svc.Append(ctx, "tenant-1", AppendParams{ProjectID: f.projectID, Type: "wallet.credited"})
		require.NoError(t, err)
		ids = append(ids, evt.ID)
	}

	missed, err := f.svc.ListAfter(ctx, "tenant-1", f.projectID, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, missed, 2)
	require.Equal(t, ids[1], missed[0].ID)
	require.Equal(t, ids[2], missed[1].ID)
}
