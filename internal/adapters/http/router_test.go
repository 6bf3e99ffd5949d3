package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazalabs/plaza/internal/app"
	"github.com/plazalabs/plaza/internal/config"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialClient(t *testing.T, serverURL string) *wsClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// read returns the next frame, whatever it is.
func (c *wsClient) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var m map[string]any
	require.NoError(c.t, json.Unmarshal(data, &m))
	return m
}

// readType skips frames until one of the wanted kind arrives.
func (c *wsClient) readType(kind string) map[string]any {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		m := c.read()
		if m["type"] == kind {
			return m
		}
	}
	c.t.Fatalf("no %s frame within 10 reads", kind)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *app.State) {
	t.Helper()
	cfg := &config.Config{
		Mode:       "release",
		StaticPath: t.TempDir(),
		Secret:     "test-secret",
		ReadLimit:  32768,
		SendBuffer: 32,
		// Long heartbeat so no ping frames interleave with the scenario.
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	state := app.NewState()
	relay := app.NewRelay(state)
	srv := httptest.NewServer(SetupRouter(ctx, cfg, relay))
	t.Cleanup(srv.Close)
	return srv, state
}

func TestEndToEndScenario(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dialClient(t, srv.URL)
	a.send(`{"type":"join","roomslug":"r1","username":"alice"}`)
	roster := a.readType("existing_players")
	assert.Empty(t, roster["players"])

	b := dialClient(t, srv.URL)
	b.send(`{"type":"join","roomslug":"r1","username":"bob"}`)

	joined := a.readType("player_joined")
	assert.Equal(t, "bob", joined["username"])

	roster = b.readType("existing_players")
	players := roster["players"].([]any)
	require.Len(t, players, 1)
	p := players[0].(map[string]any)
	assert.Equal(t, "alice", p["username"])
	assert.Equal(t, map[string]any{"x": 0.0, "y": 0.0}, p["position"])
	assert.Equal(t, false, p["onStage"])

	b.send(`{"type":"player_move","roomslug":"r1","username":"bob","position":{"x":5,"y":7}}`)
	move := a.readType("player_move")
	assert.Equal(t, "bob", move["username"])
	assert.Equal(t, map[string]any{"x": 5.0, "y": 7.0}, move["position"])

	a.send(`{"type":"tv_video","roomslug":"r1","username":"alice","videoId":"abc123"}`)
	echo := a.readType("tv_video")
	assert.Equal(t, "abc123", echo["videoId"])

	// B's very next frame is the video echo: the move was never
	// reflected back to its sender.
	next := b.read()
	require.Equal(t, "tv_video", next["type"])
	assert.Equal(t, "abc123", next["videoId"])

	c := dialClient(t, srv.URL)
	c.send(`{"type":"join","roomslug":"r1","username":"charlie"}`)

	roster = c.read()
	require.Equal(t, "existing_players", roster["type"])
	assert.Len(t, roster["players"], 2)
	assert.NotContains(t, roster, "videoId", "roster does not carry the video")

	vid := c.read()
	require.Equal(t, "tv_video", vid["type"], "late joiner is told the current video right after the roster")
	assert.Equal(t, "abc123", vid["videoId"])
	assert.Equal(t, "Server", vid["username"])

	b.send(`{"type":"leave","roomslug":"r1","username":"bob"}`)
	assert.Equal(t, "left", b.readType("left")["type"])
	left := a.readType("player_left")
	assert.Equal(t, "bob", left["username"])
	assert.Equal(t, "r1", left["roomslug"])
}

func TestAbruptDisconnectNotifiesRoom(t *testing.T) {
	srv, state := newTestServer(t)

	a := dialClient(t, srv.URL)
	a.send(`{"type":"join","roomslug":"r1","username":"alice"}`)
	a.readType("existing_players")

	b := dialClient(t, srv.URL)
	b.send(`{"type":"join","roomslug":"r1","username":"bob"}`)
	b.readType("existing_players")

	require.NoError(t, b.conn.Close())

	left := a.readType("player_left")
	assert.Equal(t, "bob", left["username"])

	require.Eventually(t, func() bool {
		return len(state.Members("r1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dialClient(t, srv.URL)
	a.send(`this is not json`)
	a.send(`{"type":"join","roomslug":"r1","username":"alice"}`)
	roster := a.readType("existing_players")
	assert.Empty(t, roster["players"])
}
