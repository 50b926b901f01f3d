package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gamecore-backend/pkg/config"
	"gamecore-backend/services/project"
	"gamecore-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	testTenant = "tenant-1"
	testSecret = "super-secret-signing-key"
)

type fixture struct {
	svc       *Service
	db        *gorm.DB
	projectID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &project.Project{}, &Subscription{}, &Delivery{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	projects := project.NewService(project.ServiceParams{DB: db, Node: node})
	proj, err := projects.Create(context.Background(), testTenant, project.CreateParams{Name: "game"})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Webhook.Timeout = 2 * time.Second
	cfg.Webhook.MaxAttempts = 6
	cfg.Webhook.ClaimLease = 2 * time.Minute
	cfg.Webhook.BatchSize = 50
	cfg.Webhook.Concurrency = 4

	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg, Projects: projects})

	return &fixture{svc: svc, db: db, projectID: proj.ID}
}

func (f *fixture) createSubscription(t *testing.T, url string, eventTypes ...string) *Subscription {
	t.Helper()
	sub, err := f.svc.CreateSubscription(context.Background(), testTenant, CreateSubscriptionParams{
		ProjectID:  f.projectID,
		URL:        url,
		Secret:     testSecret,
		EventTypes: eventTypes,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) enqueue(t *testing.T, eventID, eventType string) int {
	t.Helper()
	n, err := f.svc.EnqueueForEvent(context.Background(), EnqueueEventPayload{
		EventID:   eventID,
		TenantID:  testTenant,
		ProjectID: f.projectID,
		EventType: eventType,
		Payload:   json.RawMessage(`{"amount":100}`),
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) pendingDelivery(t *testing.T, subID string) *Delivery {
	t.Helper()
	var delivery Delivery
	require.NoError(t, f.db.Where("subscription_id = ?", subID).First(&delivery).Error)
	return &delivery
}

func (f *fixture) makeDue(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.Model(&Delivery{}).Where("id = ?", id).
		Update("next_attempt_at", time.Now().Add(-time.Minute)).Error)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSubscription(ctx, testTenant, CreateSubscriptionParams{
		ProjectID: f.projectID, URL: "ftp://nope", Secret: testSecret, EventTypes: []string{"*"},
	})
	require.Error(t, err)

	_, err = f.svc.CreateSubscription(ctx, testTenant, CreateSubscriptionParams{
		ProjectID: f.projectID, URL: "https://example.com/hook", Secret: "short", EventTypes: []string{"*"},
	})
	require.Error(t, err)

	_, err = f.svc.CreateSubscription(ctx, testTenant, CreateSubscriptionParams{
		ProjectID: f.projectID, URL: "https://example.com/hook", Secret: testSecret,
	})
	require.Error(t, err)

	_, err = f.svc.CreateSubscription(ctx, testTenant, CreateSubscriptionParams{
		ProjectID: "999999", URL: "https://example.com/hook", Secret: testSecret, EventTypes: []string{"*"},
	})
	require.Error(t, err)
}

func TestLiveSocketClassNeedsNoEndpoint(t *testing.T) {
	f := newFixture(t)

	sub, err := f.svc.CreateSubscription(context.Background(), testTenant, CreateSubscriptionParams{
		ProjectID: f.projectID,
		Kind:      string(KindLiveSocketClass),
	})
	require.NoError(t, err)
	require.Equal(t, KindLiveSocketClass, sub.Kind)
	require.True(t, sub.Matches("anything"))
}

func TestSubscriptionMatches(t *testing.T) {
	f := newFixture(t)

	exact := f.createSubscription(t, "https://example.com/a", "wallet.credited")
	require.True(t, exact.Matches("wallet.credited"))
	require.False(t, exact.Matches("wallet.debited"))

	wildcard := f.createSubscription(t, "https://example.com/b", "*")
	require.True(t, wildcard.Matches("wallet.credited"))
	require.True(t, wildcard.Matches("item.granted"))
}

func TestEnqueueForEventMaterialization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	matching := f.createSubscription(t, "https://example.com/a", "wallet.credited")
	f.createSubscription(t, "https://example.com/b", "item.granted")
	wildcard := f.createSubscription(t, "https://example.com/c", "*")

	paused := f.createSubscription(t, "https://example.com/d", "*")
	_, err := f.svc.PauseSubscription(ctx, testTenant, paused.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateSubscription(ctx, testTenant, CreateSubscriptionParams{
		ProjectID: f.projectID, Kind: string(KindLiveSocketClass),
	})
	require.NoError(t, err)

	n := f.enqueue(t, "evt-1", "wallet.credited")
	require.Equal(t, 2, n)

	var count int64
	require.NoError(t, f.db.Model(&Delivery{}).Count(&count).Error)
	require.EqualValues(t, 2, count)

	for _, sub := range []*Subscription{matching, wildcard} {
		d := f.pendingDelivery(t, sub.ID)
		require.Equal(t, DeliveryStatusPending, d.Status)
		require.Equal(t, 0, d.Attempts)
	}
}

func TestEnqueueForEventIsIdempotent(t *testing.T) {
	f := newFixture(t)

	f.createSubscription(t, "https://example.com/a", "*")

	require.Equal(t, 1, f.enqueue(t, "evt-1", "wallet.credited"))
	require.Equal(t, 0, f.enqueue(t, "evt-1", "wallet.credited"))

	var count int64
	require.NoError(t, f.db.Model(&Delivery{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAttemptDeliverySuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var gotSignature, gotTimestamp, gotEventType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotTimestamp = r.Header.Get(HeaderTimestamp)
		gotEventType = r.Header.Get(HeaderEventType)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	sub := f.createSubscription(t, srv.URL, "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	require.NoError(t, f.svc.AttemptDelivery(ctx, delivery.ID))

	updated, err := f.svc.GetDelivery(ctx, testTenant, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusDelivered, updated.Status)
	require.Equal(t, 1, updated.Attempts)
	require.Equal(t, http.StatusOK, updated.LastStatusCode)
	require.Equal(t, `{"received":true}`, updated.LastResponse)
	require.NotNil(t, updated.DeliveredAt)

	require.Equal(t, "wallet.credited", gotEventType)
	ts, err := strconv.ParseInt(gotTimestamp, 10, 64)
	require.NoError(t, err)
	expected := SignatureHeader(testSecret, ts, gotBody)
	require.Equal(t, expected, gotSignature)

	var body deliveryBody
	require.NoError(t, json.Unmarshal(gotBody, &body))
	require.Equal(t, delivery.ID, body.ID)
	require.Equal(t, "evt-1", body.EventID)
	require.Equal(t, "wallet.credited", body.Type)
	require.WithinDuration(t, time.Now(), body.CreatedAt, time.Minute)
}

func TestAttemptDeliveryFailureBacksOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	sub := f.createSubscription(t, srv.URL, "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	before := time.Now()
	require.NoError(t, f.svc.AttemptDelivery(ctx, delivery.ID))

	updated, err := f.svc.GetDelivery(ctx, testTenant, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusPending, updated.Status)
	require.Equal(t, 1, updated.Attempts)
	require.Equal(t, http.StatusInternalServerError, updated.LastStatusCode)
	require.Equal(t, "upstream exploded", updated.LastResponse)
	require.NotEmpty(t, updated.LastError)

	delay := updated.NextAttemptAt.Sub(before)
	require.GreaterOrEqual(t, delay, 9*time.Second)
	require.LessOrEqual(t, delay, 11*time.Second)
}

func TestDeliveryDeadAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := f.createSubscription(t, srv.URL, "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	for i := 0; i < 6; i++ {
		f.makeDue(t, delivery.ID)
		require.NoError(t, f.svc.AttemptDelivery(ctx, delivery.ID))
	}

	updated, err := f.svc.GetDelivery(ctx, testTenant, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusDead, updated.Status)
	require.Equal(t, 6, updated.Attempts)
}

func TestAttemptDeliveryParksOrphanAsDead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.createSubscription(t, "https://example.com/a", "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	require.NoError(t, f.db.Delete(&Subscription{}, "id = ?", sub.ID).Error)

	require.NoError(t, f.svc.AttemptDelivery(ctx, delivery.ID))

	updated, err := f.svc.GetDelivery(ctx, testTenant, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusDead, updated.Status)
}

func TestClaimContention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createSubscription(t, "https://example.com/a", "*")
	f.enqueue(t, "evt-1", "wallet.credited")

	var delivery Delivery
	require.NoError(t, f.db.First(&delivery).Error)

	claimed, err := f.svc.claim(ctx, delivery.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = f.svc.claim(ctx, delivery.ID)
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestPollAndDeliver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f.createSubscription(t, srv.URL, "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	f.enqueue(t, "evt-2", "wallet.credited")

	attempted, err := f.svc.PollAndDeliver(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, attempted)

	var delivered int64
	require.NoError(t, f.db.Model(&Delivery{}).
		Where("status = ?", DeliveryStatusDelivered).Count(&delivered).Error)
	require.EqualValues(t, 2, delivered)
}

func TestRedriveResetsDeadDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.createSubscription(t, "https://example.com/a", "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	require.NoError(t, f.db.Model(&Delivery{}).Where("id = ?", delivery.ID).Updates(map[string]any{
		"status":     DeliveryStatusDead,
		"attempts":   6,
		"last_error": "endpoint returned status 500",
	}).Error)

	result, err := f.svc.Redrive(ctx, testTenant, RedriveParams{ResetAttempts: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	require.Equal(t, 1, result.Modified)

	updated, err := f.svc.GetDelivery(ctx, testTenant, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusPending, updated.Status)
	require.Equal(t, 0, updated.Attempts)
	require.Empty(t, updated.LastError)
}

func TestRedriveByIDIntersectsTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.createSubscription(t, "https://example.com/a", "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	require.NoError(t, f.db.Model(&Delivery{}).Where("id = ?", delivery.ID).
		Update("status", DeliveryStatusDead).Error)

	result, err := f.svc.Redrive(ctx, "other-tenant", RedriveParams{IDs: []string{delivery.ID}})
	require.NoError(t, err)
	require.Equal(t, 0, result.Matched)

	result, err = f.svc.Redrive(ctx, testTenant, RedriveParams{IDs: []string{delivery.ID}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Modified)
}

func TestRedriveStatusConstraintCanBeLifted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.createSubscription(t, "https://example.com/a", "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	require.NoError(t, f.db.Model(&Delivery{}).Where("id = ?", delivery.ID).
		Update("status", DeliveryStatusDelivered).Error)

	// Default scope is pending and dead only.
	result, err := f.svc.Redrive(ctx, testTenant, RedriveParams{IDs: []string{delivery.ID}})
	require.NoError(t, err)
	require.Equal(t, 0, result.Matched)

	lifted := false
	result, err = f.svc.Redrive(ctx, testTenant, RedriveParams{IDs: []string{delivery.ID}, OnlyFailedOrDead: &lifted})
	require.NoError(t, err)
	require.Equal(t, 1, result.Modified)

	updated, err := f.svc.GetDelivery(ctx, testTenant, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusPending, updated.Status)
}

func TestRedriveFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.createSubscription(t, "https://example.com/a", "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)

	require.NoError(t, f.db.Model(&Delivery{}).Where("id = ?", delivery.ID).
		Update("status", DeliveryStatusDead).Error)

	result, err := f.svc.Redrive(ctx, testTenant, RedriveParams{EventType: "item.granted"})
	require.NoError(t, err)
	require.Equal(t, 0, result.Matched)

	past := time.Now().Add(-time.Hour)
	result, err = f.svc.Redrive(ctx, testTenant, RedriveParams{Before: &past})
	require.NoError(t, err)
	require.Equal(t, 0, result.Matched)

	result, err = f.svc.Redrive(ctx, testTenant, RedriveParams{
		ProjectID: f.projectID,
		EventType: "wallet.credited",
		Status:    string(DeliveryStatusDead),
		After:     &past,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Modified)
}

func TestDeliveryPinsMaxAttemptsAtEnqueueTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := f.createSubscription(t, srv.URL, "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	delivery := f.pendingDelivery(t, sub.ID)
	require.Equal(t, 6, delivery.MaxAttempts)

	// A config change after materialization must not move the terminal
	// threshold of rows already in flight.
	f.svc.cfg.Webhook.MaxAttempts = 2

	for i := 0; i < 2; i++ {
		f.makeDue(t, delivery.ID)
		require.NoError(t, f.svc.AttemptDelivery(ctx, delivery.ID))
	}

	updated, err := f.svc.GetDelivery(ctx, testTenant, delivery.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusPending, updated.Status)
	require.Equal(t, 2, updated.Attempts)
}

func TestListDeliveriesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createSubscription(t, "https://example.com/a", "*")
	for i := 0; i < 5; i++ {
		f.enqueue(t, "evt-"+strconv.Itoa(i), "wallet.credited")
	}

	page, info, err := f.svc.ListDeliveries(ctx, testTenant, ListDeliveriesParams{})
	require.NoError(t, err)
	require.Len(t, page, 5)
	require.False(t, info.HasMore)

	params := ListDeliveriesParams{}
	params.Limit = 2
	page, info, err = f.svc.ListDeliveries(ctx, testTenant, params)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	params.Cursor = info.NextCursor
	next, _, err := f.svc.ListDeliveries(ctx, testTenant, params)
	require.NoError(t, err)
	require.Len(t, next, 2)
	require.NotEqual(t, page[0].ID, next[0].ID)
}

func TestListDeliveriesFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createSubscription(t, "https://example.com/a", "*")
	f.enqueue(t, "evt-1", "wallet.credited")
	f.enqueue(t, "evt-2", "item.granted")

	page, _, err := f.svc.ListDeliveries(ctx, testTenant, ListDeliveriesParams{EventType: "wallet.credited"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "evt-1", page[0].EventID)

	page, _, err = f.svc.ListDeliveries(ctx, testTenant, ListDeliveriesParams{ProjectID: f.projectID})
	require.NoError(t, err)
	require.Len(t, page, 2)

	page, _, err = f.svc.ListDeliveries(ctx, testTenant, ListDeliveriesParams{Before: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Empty(t, page)

	page, _, err = f.svc.ListDeliveries(ctx, testTenant, ListDeliveriesParams{After: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestUpdateSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.createSubscription(t, "https://example.com/a", "*")

	newURL := "https://example.com/b"
	updated, err := f.svc.UpdateSubscription(ctx, testTenant, sub.ID, UpdateSubscriptionParams{
		URL:        &newURL,
		EventTypes: []string{"wallet.credited"},
	})
	require.NoError(t, err)
	require.Equal(t, newURL, updated.URL)
	require.True(t, updated.Matches("wallet.credited"))
	require.False(t, updated.Matches("item.granted"))

	badSecret := "short"
	_, err = f.svc.UpdateSubscription(ctx, testTenant, sub.ID, UpdateSubscriptionParams{Secret: &badSecret})
	require.Error(t, err)
}
