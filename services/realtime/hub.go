package realtime

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"gamecore-backend/pkg/config"
	"gamecore-backend/services/event"
)

var ErrHubFull = errors.New("realtime hub at capacity")

// Conn is the write side of a websocket connection. gorilla's *websocket.Conn
// satisfies it; tests plug in a recorder.
type Conn interface {
	WriteJSON(v any) error
}

// Client is one registered connection with its event type filter.
type Client struct {
	conn      Conn
	tenantID  string
	projectID string

	mu    sync.Mutex
	types map[string]struct{}
}

// send serializes writes; Publish and the read loop both write to the conn.
func (c *Client) send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.types["*"]; ok {
		return true
	}
	_, ok := c.types[eventType]
	return ok
}

// Hub is the in-process connection registry. Publish fans an event out to
// every connection scoped to the same tenant and project whose filter
// matches.
type Hub struct {
	maxClients    int
	maxEventTypes int

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

type HubParams struct {
	fx.In
	Config *config.Config
}

func NewHub(p HubParams) *Hub {
	maxClients := p.Config.Realtime.MaxClients
	if maxClients <= 0 {
		maxClients = 1000
	}
	maxEventTypes := p.Config.Realtime.MaxEventTypes
	if maxEventTypes <= 0 {
		maxEventTypes = 50
	}
	return &Hub{
		maxClients:    maxClients,
		maxEventTypes: maxEventTypes,
		clients:       make(map[*Client]struct{}),
	}
}

// Register adds a connection with an empty filter. It receives nothing
// until it sends a subscribe. Returns ErrHubFull at the connection cap.
func (h *Hub) Register(conn Conn, tenantID, projectID string) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.maxClients {
		return nil, ErrHubFull
	}

	client := &Client{
		conn:      conn,
		tenantID:  tenantID,
		projectID: projectID,
		types:     map[string]struct{}{},
	}
	h.clients[client] = struct{}{}
	return client, nil
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements event.Broadcaster. Write failures drop the message for
// that client only; the read loop notices the broken conn and unregisters.
func (h *Hub) Publish(evt *event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.tenantID != evt.TenantID || client.projectID != evt.ProjectID {
			continue
		}
		if !client.wants(evt.Type) {
			continue
		}
		if err := client.send(ServerMessage{Type: "event", Event: evt}); err != nil {
			zap.L().Debug("realtime publish write failed", zap.Error(err))
		}
	}
}

// normalizeTypes applies the subscribe defaults: empty means everything,
// oversized lists are truncated.
func (h *Hub) normalizeTypes(types []string) []string {
	cleaned := make([]string, 0, len(types))
	for _, t := range types {
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return []string{"*"}
	}
	if len(cleaned) > h.maxEventTypes {
		cleaned = cleaned[:h.maxEventTypes]
	}
	return cleaned
}

// HandleMessage processes one client frame and writes the reply. Resume
// replay is handled by the gateway, which has access to the event log.
func (h *Hub) HandleMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		types := h.normalizeTypes(msg.EventTypes)
		client.mu.Lock()
		client.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			client.types[t] = struct{}{}
		}
		client.mu.Unlock()
		_ = client.send(ServerMessage{Type: "subscribed", EventTypes: types})

	case "unsubscribe":
		client.mu.Lock()
		if len(msg.EventTypes) == 0 {
			client.types = map[string]struct{}{}
		} else {
			for _, t := range msg.EventTypes {
				delete(client.types, t)
			}
		}
		client.mu.Unlock()
		_ = client.send(ServerMessage{Type: "unsubscribed", EventTypes: msg.EventTypes})

	case "ping":
		_ = client.send(ServerMessage{Type: "pong", T: time.Now().Unix()})

	default:
		_ = client.send(ServerMessage{Type: "error", Error: "unknown action"})
	}
}
