package orch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/dkeye/walkie/internal/adapters/rtc"
	"github.com/dkeye/walkie/internal/app"
	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/core/coretest"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/media"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleCapture struct {
	once sync.Once
	done chan struct{}
}

func newIdleCapture() *idleCapture { return &idleCapture{done: make(chan struct{})} }

func (c *idleCapture) Read() ([]*rtp.Packet, func(), error) {
	<-c.done
	return nil, nil, io.EOF
}

func (c *idleCapture) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func resolve(c *domain.Credentials) webrtc.Configuration {
	return rtc.ResolveConfig("stun:stun.test:3478", []string{"turn:turn.test:3478"}, c)
}

type harness struct {
	r       *Router
	peers   *app.PeerSet
	dialer  *coretest.Dialer
	sig     *coretest.Signal
	audio   *media.Controller
	changes []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		peers:  app.NewPeerSet(),
		dialer: &coretest.Dialer{},
		sig:    &coretest.Signal{},
	}
	h.audio = media.NewController(context.Background(), nil, h.peers)
	t.Cleanup(h.audio.Close)
	h.r = NewRouter(context.Background(), h.peers, h.dialer, h.sig, h.audio, resolve)
	h.r.OnChange = func(s State) { h.changes = append(h.changes, s) }
	return h
}

func (h *harness) sent(t *testing.T) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, f := range h.sig.Frames() {
		m, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

// joined puts the router into the joined state as "a" with TURN credentials.
func (h *harness) joined(t *testing.T) {
	t.Helper()
	h.r.Handle(protocol.InitInfo(domain.Credentials{ID: "u", Password: "p"}, "a"))
	require.True(t, h.r.Join())
	h.sig.Reset()
}

func TestEventsBeforeJoinAreDropped(t *testing.T) {
	h := newHarness(t)
	h.r.Handle(protocol.InitInfo(domain.Credentials{}, "a"))

	h.r.Handle(protocol.UserJoined("b"))
	h.r.Handle(protocol.Welcomed("b"))
	h.r.Handle(protocol.IncomingCall("b", []byte(`{}`)))

	assert.Zero(t, h.peers.Count())
	assert.Empty(t, h.dialer.Conns())
	assert.Empty(t, h.sig.Frames())
}

func TestInitInfoAssignedOnce(t *testing.T) {
	h := newHarness(t)
	h.r.Handle(protocol.InitInfo(domain.Credentials{ID: "u", Password: "p"}, "a"))
	h.r.Handle(protocol.InitInfo(domain.Credentials{ID: "x", Password: "y"}, "z"))

	st := h.r.State()
	assert.Equal(t, domain.ParticipantID("a"), st.SelfID)
	require.NotNil(t, st.Credentials)
	assert.Equal(t, "u", st.Credentials.ID)
}

func TestJoinOnce(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.r.Join())
	assert.False(t, h.r.Join())
	assert.Equal(t, []protocol.Message{protocol.JoinRoom()}, h.sent(t))
	assert.True(t, h.r.State().Joined)
}

func TestUserJoinedSendsWelcome(t *testing.T) {
	h := newHarness(t)
	h.joined(t)

	h.r.Handle(protocol.UserJoined("b"))
	e, ok := h.peers.Find("b")
	require.True(t, ok)
	assert.True(t, e.Pending())
	assert.Equal(t, []protocol.Message{protocol.WelcomeUser("a", "b")}, h.sent(t))

	h.r.Handle(protocol.UserJoined("a"))
	assert.Equal(t, 1, h.peers.Count(), "own id is ignored")
}

func TestWelcomeCreatesInitiator(t *testing.T) {
	h := newHarness(t)
	h.joined(t)

	h.r.Handle(protocol.Welcomed("b"))
	c := h.dialer.Last()
	require.NotNil(t, c)
	assert.Equal(t, core.RoleInitiator, c.Role())
	assert.Nil(t, c.CurrentTrack(), "no capture yet")
	require.Len(t, c.Cfg.ICEServers, 2)
	assert.Equal(t, "u", c.Cfg.ICEServers[1].Username)

	e, ok := h.peers.Find("b")
	require.True(t, ok)
	assert.Same(t, c, e.Conn)
	assert.Empty(t, h.sig.Frames(), "offer not ready yet")

	c.Emit([]byte(`{"type":"offer","sdp":"o"}`))
	assert.Equal(t, []protocol.Message{
		protocol.CallUser("b", "a", []byte(`{"type":"offer","sdp":"o"}`)),
	}, h.sent(t))
}

func TestWelcomeWithoutCredentialsIsDiscoveryOnly(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.r.Join())

	h.r.Handle(protocol.Welcomed("b"))
	c := h.dialer.Last()
	require.NotNil(t, c)
	require.Len(t, c.Cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.test:3478"}, c.Cfg.ICEServers[0].URLs)
}

func TestWelcomeUsesCurrentTrack(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	track, err := h.r.SwapTrack(newIdleCapture())
	require.NoError(t, err)

	h.r.Handle(protocol.Welcomed("b"))
	assert.Equal(t, core.LocalTrack(track), h.dialer.Last().CurrentTrack())
}

func TestLastWelcomeWins(t *testing.T) {
	h := newHarness(t)
	h.joined(t)

	h.r.Handle(protocol.Welcomed("b"))
	h.r.Handle(protocol.Welcomed("b"))
	conns := h.dialer.Conns()
	require.Len(t, conns, 2)
	first, second := conns[0], conns[1]

	assert.Equal(t, 1, first.Closes())
	assert.Equal(t, 1, h.peers.Count())

	first.Emit([]byte(`"stale"`))
	assert.Empty(t, h.sig.Frames(), "stale payload is dropped")

	second.Emit([]byte(`"fresh"`))
	assert.Equal(t, []protocol.Message{protocol.CallUser("b", "a", []byte(`"fresh"`))}, h.sent(t))

	first.Fail()
	_, ok := h.peers.Find("b")
	assert.True(t, ok, "failure of a replaced handle is ignored")
}

func TestIncomingCallAnswers(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	h.r.Handle(protocol.UserJoined("b"))
	h.sig.Reset()

	offer := []byte(`{"type":"offer","sdp":"o"}`)
	h.r.Handle(protocol.IncomingCall("b", offer))
	c := h.dialer.Last()
	require.NotNil(t, c)
	assert.Equal(t, core.RoleResponder, c.Role())
	assert.Equal(t, domain.Signal(offer), c.Offer)
	assert.False(t, h.r.State().Connected)

	c.Emit([]byte(`{"type":"answer","sdp":"a"}`))
	assert.Equal(t, []protocol.Message{
		protocol.AnswerCall("a", "b", []byte(`{"type":"answer","sdp":"a"}`)),
	}, h.sent(t))
	assert.True(t, h.r.State().Connected)
	assert.True(t, h.changes[len(h.changes)-1].Connected)
}

func TestCallAcceptedAppliesOnce(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	h.r.Handle(protocol.Welcomed("b"))
	c := h.dialer.Last()

	h.r.Handle(protocol.CallAccepted("b", []byte(`"answer"`)))
	assert.Equal(t, []domain.Signal{[]byte(`"answer"`)}, c.Applied())
	assert.Equal(t, core.StateConnected, c.State())
	assert.True(t, h.r.State().Connected)

	h.r.Handle(protocol.CallAccepted("b", []byte(`"again"`)))
	_, ok := h.peers.Find("b")
	assert.False(t, ok, "protocol violation drops the peer")
	assert.Equal(t, 1, c.Closes())
}

func TestCallAcceptedWithoutHandle(t *testing.T) {
	h := newHarness(t)
	h.joined(t)

	h.r.Handle(protocol.CallAccepted("x", []byte(`{}`)))
	assert.Zero(t, h.peers.Count())
	assert.False(t, h.r.State().Connected, "unknown sender leaves the room unconnected")

	h.r.Handle(protocol.UserJoined("b"))
	h.r.Handle(protocol.CallAccepted("b", []byte(`{}`)))
	e, ok := h.peers.Find("b")
	require.True(t, ok)
	assert.True(t, e.Pending())
	assert.False(t, h.r.State().Connected)
}

func TestFailureRemovesPeer(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	h.r.Handle(protocol.Welcomed("b"))
	c := h.dialer.Last()

	c.Fail()
	_, ok := h.peers.Find("b")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Closes())
}

func TestDialerErrorRemovesEntry(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	h.r.Handle(protocol.UserJoined("b"))

	h.dialer.Err = errors.New("boom")
	h.r.Handle(protocol.Welcomed("b"))
	assert.Zero(t, h.peers.Count())
}

func TestUserDisconnected(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	h.r.Handle(protocol.Welcomed("b"))
	c := h.dialer.Last()

	h.r.Handle(protocol.UserDisconnected("b"))
	assert.Zero(t, h.peers.Count())
	assert.Equal(t, 1, c.Closes())

	h.r.Handle(protocol.UserDisconnected("b"))
	assert.Zero(t, h.peers.Count())
}

func TestMicGate(t *testing.T) {
	h := newHarness(t)
	h.r.Handle(protocol.DisableMic())
	assert.True(t, h.r.State().MicDisabled)
	h.r.Handle(protocol.EnableMic())
	assert.False(t, h.r.State().MicDisabled)
	require.Len(t, h.changes, 2)
	assert.True(t, h.changes[0].MicDisabled)
}

func TestSwapReachesEveryPeer(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	first, err := h.r.SwapTrack(newIdleCapture())
	require.NoError(t, err)

	h.r.Handle(protocol.Welcomed("b"))
	h.r.Handle(protocol.IncomingCall("c", []byte(`{}`)))
	h.r.Handle(protocol.UserJoined("d"))

	second, err := h.r.SwapTrack(newIdleCapture())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	for _, id := range []domain.ParticipantID{"b", "c"} {
		e, ok := h.peers.Find(id)
		require.True(t, ok)
		assert.Equal(t, core.LocalTrack(second), e.Conn.CurrentTrack(), string(id))
	}
	assert.Equal(t, 1, h.audio.Stream().Len())
}

func TestSwapWithoutPeers(t *testing.T) {
	h := newHarness(t)
	tr, err := h.r.SwapTrack(newIdleCapture())
	require.NoError(t, err)
	assert.Same(t, tr, h.audio.Current())
	assert.False(t, tr.Enabled())
}

func TestCloseTearsDownPeers(t *testing.T) {
	h := newHarness(t)
	h.joined(t)
	h.r.Handle(protocol.Welcomed("b"))
	h.r.Handle(protocol.Welcomed("c"))

	h.r.Close()
	assert.Zero(t, h.peers.Count())
	for _, c := range h.dialer.Conns() {
		assert.Equal(t, 1, c.Closes())
	}
}
