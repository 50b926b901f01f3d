package realtime

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"gamecore-backend/pkg/config"
	"gamecore-backend/services/apikey"
	"gamecore-backend/services/event"
	"gamecore-backend/services/project"
)

const resumeReplayLimit = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Gateway terminates websocket connections for GET /realtime. The upgrade
// happens before validation so rejections arrive as close frames the client
// library can surface, instead of opaque HTTP errors.
type Gateway struct {
	hub      *Hub
	keys     *apikey.Service
	projects *project.Service
	events   *event.Service
	cfg      *config.Config
}

type GatewayParams struct {
	fx.In
	Hub      *Hub
	Keys     *apikey.Service
	Projects *project.Service
	Events   *event.Service
	Config   *config.Config
}

func NewGateway(p GatewayParams) *Gateway {
	return &Gateway{
		hub:      p.Hub,
		keys:     p.Keys,
		projects: p.Projects,
		events:   p.Events,
		cfg:      p.Config,
	}
}

func (g *Gateway) RegisterRoutes(r gin.IRouter) {
	r.GET("/realtime", g.handle)
}

// credential reads a value from the header, falling back to the query
// string for browser clients that cannot set custom headers.
func credential(c *gin.Context, header, query string) string {
	if v := c.GetHeader(header); v != "" {
		return v
	}
	return c.Query(query)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (g *Gateway) handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	tenantID := credential(c, "x-tenant-id", "tenantId")
	projectID := credential(c, "x-project-id", "projectId")
	presentedKey := credential(c, "x-api-key", "apiKey")

	if tenantID == "" || projectID == "" || presentedKey == "" {
		closeWith(conn, CloseMissingHeaders, "missing_headers")
		return
	}

	if _, err := snowflake.ParseString(projectID); err != nil {
		closeWith(conn, CloseInvalidProjectID, "invalid_project_id")
		return
	}

	if !g.verifyKey(c, tenantID, projectID, presentedKey) {
		closeWith(conn, CloseInvalidAPIKey, "invalid_api_key")
		return
	}

	if err := g.projects.Ensure(c.Request.Context(), tenantID, projectID); err != nil {
		closeWith(conn, CloseProjectNotForTenant, "project_not_found_for_tenant")
		return
	}

	client, err := g.hub.Register(conn, tenantID, projectID)
	if err != nil {
		closeWith(conn, CloseTooManyConnections, "too_many_connections")
		return
	}
	defer func() {
		g.hub.Unregister(client)
		_ = conn.Close()
	}()

	_ = client.send(ServerMessage{Type: "hello", OK: true, ProjectID: projectID})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Action == "resume" {
			g.replay(c, client, msg)
			continue
		}
		g.hub.HandleMessage(client, msg)
	}
}

func (g *Gateway) verifyKey(c *gin.Context, tenantID, projectID, presented string) bool {
	if dev := g.cfg.Realtime.DevAPIKey; dev != "" && presented == dev {
		return true
	}
	ok, err := g.keys.Verify(c.Request.Context(), tenantID, projectID, presented)
	if err != nil {
		zap.L().Error("api key verification failed", zap.Error(err))
		return false
	}
	return ok
}

// replay sends events the client missed since the given event id. The frame
// may carry its own event type filter; otherwise the client's current
// subscription applies.
func (g *Gateway) replay(c *gin.Context, client *Client, msg ClientMessage) {
	if msg.Since == "" {
		_ = client.send(ServerMessage{Type: "error", Error: "resume requires since"})
		return
	}

	events, err := g.events.ListAfter(c.Request.Context(), client.tenantID, client.projectID, msg.Since, resumeReplayLimit)
	if err != nil {
		zap.L().Error("resume replay failed", zap.Error(err))
		_ = client.send(ServerMessage{Type: "error", Error: "resume failed"})
		return
	}

	wants := client.wants
	if len(msg.EventTypes) > 0 {
		filter := make(map[string]struct{}, len(msg.EventTypes))
		for _, t := range msg.EventTypes {
			filter[t] = struct{}{}
		}
		wants = func(eventType string) bool {
			if _, ok := filter["*"]; ok {
				return true
			}
			_, ok := filter[eventType]
			return ok
		}
	}

	for _, evt := range events {
		if !wants(evt.Type) {
			continue
		}
		_ = client.send(ServerMessage{Type: "event", Event: evt})
	}
}
