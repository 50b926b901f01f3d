package realtime

import "gamecore-backend/services/event"

// Close codes sent when a handshake is rejected after the upgrade.
const (
	CloseTooManyConnections  = 4009
	CloseMissingHeaders      = 4001
	CloseInvalidProjectID    = 4002
	CloseInvalidAPIKey       = 4003
	CloseProjectNotForTenant = 4004
)

type ClientMessage struct {
	Action     string   `json:"action"`
	EventTypes []string `json:"eventTypes,omitempty"`
	Since      string   `json:"since,omitempty"`
}

type ServerMessage struct {
	Type       string       `json:"type"`
	OK         bool         `json:"ok,omitempty"`
	ProjectID  string       `json:"projectId,omitempty"`
	EventTypes []string     `json:"eventTypes,omitempty"`
	Event      *event.Event `json:"event,omitempty"`
	T          int64        `json:"t,omitempty"`
	Error      string       `json:"error,omitempty"`
}
