package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/walkie/internal/app"
	"github.com/dkeye/walkie/internal/config"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveRelay(t *testing.T, cfg config.RelayConfig) (*app.Relay, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	relay := app.NewRelay()
	issue := func(id domain.ParticipantID) (domain.Credentials, error) {
		return domain.Credentials{ID: "exp:" + string(id), Password: "pw"}, nil
	}
	ctl := NewSignalWSController(relay, cfg, issue)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	id domain.ParticipantID
}

func connect(t *testing.T, url string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	c := &client{t: t, ws: ws}
	hello := c.read()
	require.Equal(t, protocol.TypeInitInfo, hello.Type)
	require.NotEmpty(t, hello.MySocketID)
	c.id = hello.MySocketID
	assert.Equal(t, "exp:"+string(c.id), hello.TurnID)
	return c
}

func (c *client) send(m protocol.Message) {
	data, err := m.Encode()
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

// join enters the room and waits for the relay to count it, so join order
// across sockets is deterministic.
func (c *client) join(relay *app.Relay) {
	c.t.Helper()
	before := relay.RoomState().MemberCount
	c.send(protocol.JoinRoom())
	require.Eventually(c.t, func() bool { return relay.RoomState().MemberCount == before+1 }, 2*time.Second, 5*time.Millisecond)
}

func (c *client) read() protocol.Message {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	m, err := protocol.Decode(data)
	require.NoError(c.t, err)
	return m
}

func TestJoinAndRelayHandshake(t *testing.T) {
	relay, url := serveRelay(t, config.RelayConfig{})
	a := connect(t, url)
	b := connect(t, url)
	assert.NotEqual(t, a.id, b.id)

	a.join(relay)
	b.join(relay)
	assert.Equal(t, protocol.UserJoined(b.id), a.read())

	a.send(protocol.WelcomeUser(a.id, b.id))
	assert.Equal(t, protocol.Welcomed(a.id), b.read())

	sig := domain.Signal(`{"type":"offer","sdp":"v=0"}`)
	b.send(protocol.CallUser(a.id, b.id, sig))
	got := a.read()
	assert.Equal(t, protocol.TypeIncomingCall, got.Type)
	assert.Equal(t, b.id, got.From)
	assert.JSONEq(t, string(sig), string(got.Signal))
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	relay, url := serveRelay(t, config.RelayConfig{})
	a := connect(t, url)
	b := connect(t, url)
	a.join(relay)

	require.NoError(t, b.ws.WriteMessage(websocket.TextMessage, []byte(`{oops`)))
	b.send(protocol.JoinRoom())
	assert.Equal(t, protocol.UserJoined(b.id), a.read())
}

func TestDisconnectIsBroadcast(t *testing.T) {
	relay, url := serveRelay(t, config.RelayConfig{})
	a := connect(t, url)
	b := connect(t, url)
	a.join(relay)
	b.join(relay)
	require.Equal(t, protocol.UserJoined(b.id), a.read())

	require.NoError(t, b.ws.Close())
	assert.Equal(t, protocol.UserDisconnected(b.id), a.read())
	assert.Eventually(t, func() bool { return relay.RoomState().MemberCount == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimitedFramesDropped(t *testing.T) {
	relay, url := serveRelay(t, config.RelayConfig{RateLimit: 2, RateWindow: time.Minute})
	a := connect(t, url)
	b := connect(t, url)
	a.join(relay)
	b.join(relay)
	require.Equal(t, protocol.UserJoined(b.id), a.read())

	// b has one frame left in the window, so its stopSpeaking never lands.
	b.send(protocol.StartSpeaking())
	require.Equal(t, protocol.DisableMic(), a.read())
	b.send(protocol.StopSpeaking())

	a.send(protocol.StartSpeaking())
	assert.Equal(t, protocol.DisableMic(), a.read())
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("a"))
	}
}
