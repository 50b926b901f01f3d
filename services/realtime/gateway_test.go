package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"gamecore-backend/pkg/config"
	"gamecore-backend/services/apikey"
	"gamecore-backend/services/event"
	"gamecore-backend/services/project"
	"gamecore-backend/services/testutil"
)

const devKey = "dev-api-key"

type gatewayFixture struct {
	srv       *httptest.Server
	hub       *Hub
	events    *event.Service
	projectID string
}

type staticSequence struct{}

func (staticSequence) NextEventCode(ctx context.Context, tenantID string) (string, error) {
	return "EVT-TEST-001", nil
}

func newGatewayFixture(t *testing.T, maxClients int) *gatewayFixture {
	t.Helper()

	db := testutil.NewTestDB(t, &project.Project{}, &apikey.APIKey{}, &event.Event{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	projects := project.NewService(project.ServiceParams{DB: db, Node: node})
	proj, err := projects.Create(context.Background(), "tenant-1", project.CreateParams{Name: "game"})
	require.NoError(t, err)

	keys := apikey.NewService(apikey.ServiceParams{DB: db, Node: node})

	cfg := &config.Config{}
	cfg.Realtime.MaxClients = maxClients
	cfg.Realtime.MaxEventTypes = 50
	cfg.Realtime.DevAPIKey = devKey

	hub := NewHub(HubParams{Config: cfg})

	events := event.NewService(event.ServiceParams{
		DB:          db,
		Node:        node,
		Projects:    projects,
		Sequence:    staticSequence{},
		Broadcaster: hub,
	})

	gateway := NewGateway(GatewayParams{
		Hub:      hub,
		Keys:     keys,
		Projects: projects,
		Events:   events,
		Config:   cfg,
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	gateway.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &gatewayFixture{srv: srv, hub: hub, events: events, projectID: proj.ID}
}

func (f *gatewayFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/realtime"
}

func (f *gatewayFixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	return closeErr.Code
}

func credsHeader(tenantID, projectID, key string) http.Header {
	h := http.Header{}
	h.Set("x-tenant-id", tenantID)
	h.Set("x-project-id", projectID)
	h.Set("x-api-key", key)
	return h
}

func TestGatewayRejectsMissingHeaders(t *testing.T) {
	f := newGatewayFixture(t, 10)

	conn := f.dial(t, nil)
	require.Equal(t, CloseMissingHeaders, readCloseCode(t, conn))
}

func TestGatewayRejectsInvalidProjectID(t *testing.T) {
	f := newGatewayFixture(t, 10)

	conn := f.dial(t, credsHeader("tenant-1", "not-a-snowflake", devKey))
	require.Equal(t, CloseInvalidProjectID, readCloseCode(t, conn))
}

func TestGatewayRejectsInvalidAPIKey(t *testing.T) {
	f := newGatewayFixture(t, 10)

	conn := f.dial(t, credsHeader("tenant-1", f.projectID, "wrong-key"))
	require.Equal(t, CloseInvalidAPIKey, readCloseCode(t, conn))
}

func TestGatewayRejectsForeignProject(t *testing.T) {
	f := newGatewayFixture(t, 10)

	conn := f.dial(t, credsHeader("tenant-2", f.projectID, devKey))
	require.Equal(t, CloseProjectNotForTenant, readCloseCode(t, conn))
}

func TestGatewayEnforcesConnectionCap(t *testing.T) {
	f := newGatewayFixture(t, 1)

	first := f.dial(t, credsHeader("tenant-1", f.projectID, devKey))
	var hello ServerMessage
	require.NoError(t, first.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	require.True(t, hello.OK)
	require.Equal(t, f.projectID, hello.ProjectID)

	second := f.dial(t, credsHeader("tenant-1", f.projectID, devKey))
	require.Equal(t, CloseTooManyConnections, readCloseCode(t, second))
}

func TestGatewayQueryFallback(t *testing.T) {
	f := newGatewayFixture(t, 10)

	url := f.wsURL() + "?tenantId=tenant-1&projectId=" + f.projectID + "&apiKey=" + devKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello ServerMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
}

func TestGatewayProtocolAndLiveEvents(t *testing.T) {
	f := newGatewayFixture(t, 10)

	conn := f.dial(t, credsHeader("tenant-1", f.projectID, devKey))

	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "hello", msg.Type)
	require.True(t, msg.OK)

	// Raw frame so the wire shape is pinned, not just the struct round trip.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"subscribe","eventTypes":["wallet.credited"]}`)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "subscribed", msg.Type)
	require.Equal(t, []string{"wallet.credited"}, msg.EventTypes)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg.Type)
	require.NotZero(t, msg.T)

	// Published through the real event service so the broadcast path runs
	// end to end.
	evt, err := f.events.Append(context.Background(), "tenant-1", event.AppendParams{
		ProjectID: f.projectID,
		Type:      "wallet.credited",
	})
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "event", msg.Type)
	require.Equal(t, evt.ID, msg.Event.ID)
}

func TestGatewayResumeReplaysMissedEvents(t *testing.T) {
	f := newGatewayFixture(t, 10)
	ctx := context.Background()

	first, err := f.events.Append(ctx, "tenant-1", event.AppendParams{ProjectID: f.projectID, Type: "wallet.credited"})
	require.NoError(t, err)
	second, err := f.events.Append(ctx, "tenant-1", event.AppendParams{ProjectID: f.projectID, Type: "wallet.credited"})
	require.NoError(t, err)

	conn := f.dial(t, credsHeader("tenant-1", f.projectID, devKey))

	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "hello", msg.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", EventTypes: []string{"wallet.credited"}}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "subscribed", msg.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "resume", Since: first.ID}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "event", msg.Type)
	require.Equal(t, second.ID, msg.Event.ID)
}

func TestGatewayResumeHonorsFrameFilter(t *testing.T) {
	f := newGatewayFixture(t, 10)
	ctx := context.Background()

	first, err := f.events.Append(ctx, "tenant-1", event.AppendParams{ProjectID: f.projectID, Type: "wallet.credited"})
	require.NoError(t, err)
	_, err = f.events.Append(ctx, "tenant-1", event.AppendParams{ProjectID: f.projectID, Type: "item.granted"})
	require.NoError(t, err)
	third, err := f.events.Append(ctx, "tenant-1", event.AppendParams{ProjectID: f.projectID, Type: "wallet.credited"})
	require.NoError(t, err)

	conn := f.dial(t, credsHeader("tenant-1", f.projectID, devKey))

	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "hello", msg.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "resume", Since: first.ID, EventTypes: []string{"wallet.credited"}}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "event", msg.Type)
	require.Equal(t, third.ID, msg.Event.ID)
}
