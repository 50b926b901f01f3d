package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskEnqueueEvent = "webhook:enqueue_event"

// EnqueueEventPayload carries everything the materializer needs, so the
// handler never reads the event log.
type EnqueueEventPayload struct {
	EventID   string          `json:"eventId"`
	TenantID  string          `json:"tenantId"`
	ProjectID string          `json:"projectId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewEnqueueEventTask(payload EnqueueEventPayload) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEnqueueEvent, b, asynq.MaxRetry(5), asynq.Queue("default")), nil
}

// HandleEnqueueEventTask materializes one delivery row per matching active
// subscription.
func (s *Service) HandleEnqueueEventTask(ctx context.Context, t *asynq.Task) error {
	var payload EnqueueEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	_, err := s.EnqueueForEvent(ctx, payload)
	return err
}
