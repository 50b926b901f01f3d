package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gamecore-backend/pkg/config"
	"gamecore-backend/pkg/db/option"
	"gamecore-backend/pkg/db/pagination"
	"gamecore-backend/pkg/errutil"
	"gamecore-backend/pkg/repository"
	"gamecore-backend/services/project"
)

const (
	HeaderSignature = "x-webhook-signature"
	HeaderTimestamp = "x-webhook-timestamp"
	HeaderTenantID  = "x-tenant-id"
	HeaderProjectID = "x-project-id"
	HeaderEventType = "x-event-type"
)

const minSecretLength = 16

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	cfg        *config.Config
	client     *http.Client
	subs       repository.Repository[Subscription]
	deliveries repository.Repository[Delivery]
	projects   *project.Service

	// now is swapped in tests to pin the clock.
	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Projects *project.Service
}

func NewService(p ServiceParams) *Service {
	timeout := p.Config.Webhook.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		db:         p.DB,
		node:       p.Node,
		cfg:        p.Config,
		client:     &http.Client{Timeout: timeout},
		subs:       repository.ProvideStore[Subscription](p.DB),
		deliveries: repository.ProvideStore[Delivery](p.DB),
		projects:   p.Projects,
		now:        time.Now,
	}
}

func (s *Service) maxAttempts() int {
	if s.cfg.Webhook.MaxAttempts > 0 {
		return s.cfg.Webhook.MaxAttempts
	}
	return 6
}

func (s *Service) claimLease() time.Duration {
	if s.cfg.Webhook.ClaimLease > 0 {
		return s.cfg.Webhook.ClaimLease
	}
	return 2 * time.Minute
}

func (s *Service) batchSize() int {
	if s.cfg.Webhook.BatchSize > 0 {
		return s.cfg.Webhook.BatchSize
	}
	return 50
}

func (s *Service) concurrency() int {
	if s.cfg.Webhook.Concurrency > 0 {
		return s.cfg.Webhook.Concurrency
	}
	return 4
}

func (s *Service) maxEventTypes() int {
	if s.cfg.Realtime.MaxEventTypes > 0 {
		return s.cfg.Realtime.MaxEventTypes
	}
	return 50
}

type CreateSubscriptionParams struct {
	ProjectID  string   `json:"projectId" binding:"required"`
	Kind       string   `json:"kind"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"eventTypes"`
}

// normalizeEventTypes applies the filter defaults: empty means everything,
// and oversized filter lists are truncated rather than rejected.
func (s *Service) normalizeEventTypes(types []string) []string {
	cleaned := make([]string, 0, len(types))
	for _, t := range types {
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return []string{"*"}
	}
	if max := s.maxEventTypes(); len(cleaned) > max {
		cleaned = cleaned[:max]
	}
	return cleaned
}

func (s *Service) CreateSubscription(ctx context.Context, tenantID string, params CreateSubscriptionParams) (*Subscription, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}
	if err := s.projects.Ensure(ctx, tenantID, params.ProjectID); err != nil {
		return nil, err
	}

	kind := SubscriptionKind(params.Kind)
	if kind == "" {
		kind = KindCallback
	}
	if kind != KindCallback && kind != KindLiveSocketClass {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown subscription kind %q", params.Kind), nil)
	}

	if kind == KindCallback {
		u, err := url.Parse(params.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errutil.ValidationFailed("url must be a valid http(s) endpoint", err)
		}
		if len(params.Secret) < minSecretLength {
			return nil, errutil.ValidationFailed(fmt.Sprintf("secret must be at least %d characters", minSecretLength), nil)
		}
		if len(params.EventTypes) == 0 {
			return nil, errutil.ValidationFailed("eventTypes must not be empty", nil)
		}
	}

	types, err := json.Marshal(s.normalizeEventTypes(params.EventTypes))
	if err != nil {
		return nil, errutil.Internal("failed to encode event types", err)
	}

	sub := &Subscription{
		ID:         s.node.Generate().String(),
		TenantID:   tenantID,
		ProjectID:  params.ProjectID,
		Kind:       kind,
		URL:        params.URL,
		Secret:     params.Secret,
		EventTypes: types,
		Status:     SubscriptionStatusActive,
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		zap.L().Error("failed to create subscription", zap.Error(err))
		return nil, errutil.Internal("failed to create subscription", err)
	}

	return sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, tenantID, projectID string) ([]*Subscription, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}
	subs, err := s.subs.Find(ctx, &Subscription{TenantID: tenantID, ProjectID: projectID},
		option.WithSortBy(option.QuerySortBy{Field: "id", OrderBy: "DESC"}))
	if err != nil {
		return nil, errutil.Internal("failed to list subscriptions", err)
	}
	return subs, nil
}

func (s *Service) GetSubscription(ctx context.Context, tenantID, id string) (*Subscription, error) {
	sub, err := s.subs.FindOne(ctx, &Subscription{ID: id, TenantID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to get subscription", err)
	}
	if sub == nil {
		return nil, errutil.NotFound("Subscription not found", nil)
	}
	return sub, nil
}

func (s *Service) setSubscriptionStatus(ctx context.Context, tenantID, id string, status SubscriptionStatus) (*Subscription, error) {
	sub, err := s.GetSubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == status {
		return sub, nil
	}
	if err := s.subs.Update(ctx, sub.ID, map[string]any{"status": status}); err != nil {
		return nil, errutil.Internal("failed to update subscription", err)
	}
	sub.Status = status
	return sub, nil
}

func (s *Service) PauseSubscription(ctx context.Context, tenantID, id string) (*Subscription, error) {
	return s.setSubscriptionStatus(ctx, tenantID, id, SubscriptionStatusPaused)
}

func (s *Service) ResumeSubscription(ctx context.Context, tenantID, id string) (*Subscription, error) {
	return s.setSubscriptionStatus(ctx, tenantID, id, SubscriptionStatusActive)
}

type UpdateSubscriptionParams struct {
	URL        *string  `json:"url"`
	Secret     *string  `json:"secret"`
	EventTypes []string `json:"eventTypes"`
}

func (s *Service) UpdateSubscription(ctx context.Context, tenantID, id string, params UpdateSubscriptionParams) (*Subscription, error) {
	sub, err := s.GetSubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	values := map[string]any{}
	if params.URL != nil {
		u, err := url.Parse(*params.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errutil.ValidationFailed("url must be a valid http(s) endpoint", err)
		}
		values["url"] = *params.URL
	}
	if params.Secret != nil {
		if len(*params.Secret) < minSecretLength {
			return nil, errutil.ValidationFailed(fmt.Sprintf("secret must be at least %d characters", minSecretLength), nil)
		}
		values["secret"] = *params.Secret
	}
	if params.EventTypes != nil {
		types, err := json.Marshal(s.normalizeEventTypes(params.EventTypes))
		if err != nil {
			return nil, errutil.Internal("failed to encode event types", err)
		}
		values["event_types"] = types
	}
	if len(values) == 0 {
		return sub, nil
	}

	if err := s.subs.Update(ctx, sub.ID, values); err != nil {
		return nil, errutil.Internal("failed to update subscription", err)
	}

	return s.GetSubscription(ctx, tenantID, id)
}

func (s *Service) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	sub, err := s.GetSubscription(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Subscription{}, "id = ?", sub.ID).Error; err != nil {
		return errutil.Internal("failed to delete subscription", err)
	}
	return nil
}

// EnqueueForEvent fans one event out into delivery rows, one per matching
// active subscription. The (subscription_id, event_id) unique index makes
// this safe to replay: re-materializing the same event inserts nothing new.
func (s *Service) EnqueueForEvent(ctx context.Context, payload EnqueueEventPayload) (int, error) {
	subs, err := s.subs.Find(ctx, &Subscription{
		TenantID:  payload.TenantID,
		ProjectID: payload.ProjectID,
		Status:    SubscriptionStatusActive,
	})
	if err != nil {
		return 0, err
	}

	now := s.now()
	rows := make([]*Delivery, 0, len(subs))
	for _, sub := range subs {
		if sub.Kind != KindCallback || !sub.Matches(payload.EventType) {
			continue
		}
		rows = append(rows, &Delivery{
			ID:             s.node.Generate().String(),
			TenantID:       payload.TenantID,
			ProjectID:      payload.ProjectID,
			SubscriptionID: sub.ID,
			EventID:        payload.EventID,
			EventType:      payload.EventType,
			Payload:        []byte(payload.Payload),
			Status:         DeliveryStatusPending,
			MaxAttempts:    s.maxAttempts(),
			NextAttemptAt:  now,
			EventCreatedAt: payload.CreatedAt,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(rows)
	if res.Error != nil {
		return 0, res.Error
	}

	return int(res.RowsAffected), nil
}

// PollAndDeliver picks up due pending deliveries and attempts them with
// bounded parallelism. It returns the number of deliveries attempted.
func (s *Service) PollAndDeliver(ctx context.Context) (int, error) {
	due, err := s.deliveries.Find(ctx, &Delivery{Status: DeliveryStatusPending},
		option.LTE("next_attempt_at", s.now()),
		option.WithSortBy(option.QuerySortBy{Field: "next_attempt_at", OrderBy: "ASC"}),
		option.WithLimit(s.batchSize()),
	)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())
	for _, delivery := range due {
		g.Go(func() error {
			if err := s.AttemptDelivery(gctx, delivery.ID); err != nil {
				zap.L().Error("delivery attempt failed",
					zap.String("delivery_id", delivery.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(due), nil
}

// claim takes ownership of a pending delivery. The conditional update keeps
// the row pending but pushes next_attempt_at out by the lease, so a crashed
// worker's claim expires on its own and competing workers lose cleanly.
func (s *Service) claim(ctx context.Context, id string) (bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&Delivery{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", id, DeliveryStatusPending, now).
		Update("next_attempt_at", now.Add(s.claimLease()))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type deliveryBody struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	TenantID  string          `json:"tenantId"`
	ProjectID string          `json:"projectId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AttemptDelivery claims the delivery, posts the signed payload, and records
// the outcome. A delivery whose subscription vanished or went paused is
// parked as dead instead of burning attempts against a closed door.
func (s *Service) AttemptDelivery(ctx context.Context, id string) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("delivery_id", id),
	)

	claimed, err := s.claim(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	delivery, err := s.deliveries.FindOne(ctx, &Delivery{ID: id})
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}

	sub, err := s.subs.FindOne(ctx, &Subscription{ID: delivery.SubscriptionID})
	if err != nil {
		return err
	}
	if sub == nil || sub.Status != SubscriptionStatusActive {
		zapLog.Warn("subscription unavailable, parking delivery",
			zap.String("subscription_id", delivery.SubscriptionID))
		return s.deliveries.Update(ctx, delivery.ID, map[string]any{
			"status":     DeliveryStatusDead,
			"last_error": "subscription missing or not active",
		})
	}

	// The body carries the attempt's issue time, not the event's; retried
	// attempts present a fresh timestamp alongside a fresh signature.
	body, err := json.Marshal(deliveryBody{
		ID:        delivery.ID,
		EventID:   delivery.EventID,
		Type:      delivery.EventType,
		TenantID:  delivery.TenantID,
		ProjectID: delivery.ProjectID,
		Payload:   json.RawMessage(delivery.Payload),
		CreatedAt: s.now(),
	})
	if err != nil {
		return err
	}

	statusCode, respBody, sendErr := s.send(ctx, sub, delivery, body)

	attempts := delivery.Attempts + 1
	if sendErr == nil && statusCode >= 200 && statusCode < 300 {
		now := s.now()
		return s.deliveries.Update(ctx, delivery.ID, map[string]any{
			"status":           DeliveryStatusDelivered,
			"attempts":         attempts,
			"last_status_code": statusCode,
			"last_response":    respBody,
			"last_error":       "",
			"delivered_at":     now,
		})
	}

	lastError := fmt.Sprintf("endpoint returned status %d", statusCode)
	if sendErr != nil {
		lastError = sendErr.Error()
	}

	maxAttempts := delivery.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts()
	}
	if attempts >= maxAttempts {
		zapLog.Warn("delivery exhausted, marking dead",
			zap.Int("attempts", attempts),
			zap.String("last_error", lastError))
		return s.deliveries.Update(ctx, delivery.ID, map[string]any{
			"status":           DeliveryStatusDead,
			"attempts":         attempts,
			"last_status_code": statusCode,
			"last_response":    respBody,
			"last_error":       lastError,
		})
	}

	return s.deliveries.Update(ctx, delivery.ID, map[string]any{
		"status":           DeliveryStatusPending,
		"attempts":         attempts,
		"last_status_code": statusCode,
		"last_response":    respBody,
		"last_error":       lastError,
		"next_attempt_at":  s.now().Add(retryDelay(attempts)),
	})
}

const maxResponseBytes = 4096

func (s *Service) send(ctx context.Context, sub *Subscription, delivery *Delivery, body []byte) (int, string, error) {
	ts := s.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTenantID, delivery.TenantID)
	req.Header.Set(HeaderProjectID, delivery.ProjectID)
	req.Header.Set(HeaderEventType, delivery.EventType)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(HeaderSignature, SignatureHeader(sub.Secret, ts, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	return resp.StatusCode, string(respBody), nil
}

const redriveFilterCap = 1000

type RedriveParams struct {
	IDs            []string   `json:"ids"`
	ProjectID      string     `json:"projectId"`
	SubscriptionID string     `json:"subscriptionId"`
	EventType      string     `json:"eventType"`
	Status         string     `json:"status"`
	After          *time.Time `json:"after"`
	Before         *time.Time `json:"before"`
	ResetAttempts  bool       `json:"resetAttempts"`
	// OnlyFailedOrDead defaults to true: only pending and dead rows qualify.
	// Sending false lifts the status constraint entirely.
	OnlyFailedOrDead *bool `json:"onlyFailedOrDead"`
	Limit            int   `json:"limit"`
}

func (p RedriveParams) onlyFailedOrDead() bool {
	return p.OnlyFailedOrDead == nil || *p.OnlyFailedOrDead
}

type RedriveResult struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
}

// Redrive puts stalled deliveries back on the schedule. An explicit id list
// is intersected with the tenant; filter-based selection is capped so a bad
// request cannot rewrite the whole table.
func (s *Service) Redrive(ctx context.Context, tenantID string, params RedriveParams) (*RedriveResult, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("Missing tenantId header", nil)
	}

	scope := s.db.WithContext(ctx).Model(&Delivery{}).Where("tenant_id = ?", tenantID)
	switch {
	case params.Status != "":
		scope = scope.Where("status = ?", params.Status)
	case params.onlyFailedOrDead():
		scope = scope.Where("status IN ?", []DeliveryStatus{DeliveryStatusPending, DeliveryStatusDead})
	}

	if len(params.IDs) > 0 {
		scope = scope.Where("id IN ?", params.IDs)
	} else {
		if params.ProjectID != "" {
			scope = scope.Where("project_id = ?", params.ProjectID)
		}
		if params.SubscriptionID != "" {
			scope = scope.Where("subscription_id = ?", params.SubscriptionID)
		}
		if params.EventType != "" {
			scope = scope.Where("event_type = ?", params.EventType)
		}
		if params.After != nil {
			scope = scope.Where("created_at >= ?", *params.After)
		}
		if params.Before != nil {
			scope = scope.Where("created_at <= ?", *params.Before)
		}
		limit := params.Limit
		if limit <= 0 || limit > redriveFilterCap {
			limit = redriveFilterCap
		}
		scope = scope.Order("id ASC").Limit(limit)
	}

	var ids []string
	if err := scope.Pluck("id", &ids).Error; err != nil {
		return nil, errutil.Internal("failed to select deliveries for redrive", err)
	}
	if len(ids) == 0 {
		return &RedriveResult{}, nil
	}

	values := map[string]any{
		"status":          DeliveryStatusPending,
		"last_error":      "",
		"next_attempt_at": s.now(),
	}
	if params.ResetAttempts {
		values["attempts"] = 0
	}

	res := s.db.WithContext(ctx).Model(&Delivery{}).Where("id IN ?", ids).Updates(values)
	if res.Error != nil {
		return nil, errutil.Internal("failed to redrive deliveries", res.Error)
	}

	return &RedriveResult{Matched: len(ids), Modified: int(res.RowsAffected)}, nil
}

type ListDeliveriesParams struct {
	ProjectID      string    `form:"projectId"`
	SubscriptionID string    `form:"subscriptionId"`
	EventID        string    `form:"eventId"`
	EventType      string    `form:"eventType"`
	Status         string    `form:"status"`
	After          time.Time `form:"after" time_format:"2006-01-02T15:04:05Z07:00"`
	Before         time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
	pagination.Pagination
}

func (s *Service) ListDeliveries(ctx context.Context, tenantID string, params ListDeliveriesParams) ([]*Delivery, *pagination.PageInfo, error) {
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

	query := &Delivery{
		TenantID:       tenantID,
		ProjectID:      params.ProjectID,
		SubscriptionID: params.SubscriptionID,
		EventID:        params.EventID,
		EventType:      params.EventType,
		Status:         DeliveryStatus(params.Status),
	}
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Field: "id", OrderBy: "DESC"}),
		option.WithLimit(limit + 1),
	}
	if !params.After.IsZero() {
		opts = append(opts, option.GTE("created_at", params.After))
	}
	if !params.Before.IsZero() {
		opts = append(opts, option.LTE("created_at", params.Before))
	}
	if params.Cursor != "" {
		cursor, err := pagination.DecodeCursor(params.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.LT("id", cursor.ID))
	}

	deliveries, err := s.deliveries.Find(ctx, query, opts...)
	if err != nil {
		return nil, nil, errutil.Internal("failed to list deliveries", err)
	}

	deliveries, pageInfo := pagination.BuildCursorPageInfo(deliveries, limit, func(d *Delivery) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{ID: d.ID})
		return c
	})

	return deliveries, pageInfo, nil
}

func (s *Service) GetDelivery(ctx context.Context, tenantID, id string) (*Delivery, error) {
	delivery, err := s.deliveries.FindOne(ctx, &Delivery{ID: id, TenantID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to get delivery", err)
	}
	if delivery == nil {
		return nil, errutil.NotFound("Delivery not found", nil)
	}
	return delivery, nil
}

// AttemptNow forces an immediate attempt on a pending delivery regardless of
// its schedule.
func (s *Service) AttemptNow(ctx context.Context, tenantID, id string) (*Delivery, error) {
	delivery, err := s.GetDelivery(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if delivery.Status != DeliveryStatusPending {
		return nil, errutil.Conflict("delivery is not pending", nil)
	}

	// Pull the schedule forward so the claim succeeds even if the delivery
	// was backed off into the future.
	if err := s.deliveries.Update(ctx, delivery.ID, map[string]any{"next_attempt_at": s.now()}); err != nil {
		return nil, errutil.Internal("failed to reschedule delivery", err)
	}

	if err := s.AttemptDelivery(ctx, delivery.ID); err != nil {
		return nil, errutil.Internal("failed to attempt delivery", err)
	}

	return s.GetDelivery(ctx, tenantID, id)
}
