package app

import (
	"testing"

	"github.com/dkeye/walkie/internal/core"
	"github.com/dkeye/walkie/internal/core/coretest"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type socket struct {
	id       domain.ParticipantID
	sig      *coretest.Signal
	canceled bool
}

func (s *socket) messages(t *testing.T) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, f := range s.sig.Frames() {
		m, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (s *socket) types(t *testing.T) []protocol.Type {
	var out []protocol.Type
	for _, m := range s.messages(t) {
		out = append(out, m.Type)
	}
	return out
}

func connect(r *Relay, id domain.ParticipantID) *socket {
	s := &socket{id: id, sig: &coretest.Signal{}}
	sess := core.NewMemberSession(domain.NewMember(id), s.sig)
	r.Connect(sess, domain.Credentials{ID: "u-" + string(id), Password: "p"}, func() { s.canceled = true })
	return s
}

func TestConnectSendsInitInfo(t *testing.T) {
	r := NewRelay()
	a := connect(r, "a")

	msgs := a.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeInitInfo, msgs[0].Type)
	assert.Equal(t, domain.ParticipantID("a"), msgs[0].MySocketID)
	assert.Equal(t, "u-a", msgs[0].TurnID)
}

func TestJoinAndHandshakeRouting(t *testing.T) {
	r := NewRelay()
	a, b := connect(r, "a"), connect(r, "b")
	a.sig.Reset()
	b.sig.Reset()

	r.OnMessage("a", protocol.JoinRoom())
	assert.Empty(t, b.messages(t), "not joined yet")

	r.OnMessage("b", protocol.JoinRoom())
	r.OnMessage("b", protocol.JoinRoom())
	got := a.messages(t)
	require.Len(t, got, 1, "second join is ignored")
	assert.Equal(t, protocol.UserJoined("b"), got[0])
	assert.Equal(t, 2, r.RoomState().MemberCount)

	a.sig.Reset()
	r.OnMessage("a", protocol.WelcomeUser("a", "b"))
	r.OnMessage("b", protocol.CallUser("a", "b", []byte(`"offer"`)))
	r.OnMessage("a", protocol.AnswerCall("a", "b", []byte(`"answer"`)))

	assert.Equal(t, []protocol.Message{
		protocol.Welcomed("a"),
		protocol.CallAccepted("a", []byte(`"answer"`)),
	}, b.messages(t))
	assert.Equal(t, []protocol.Message{
		protocol.IncomingCall("b", []byte(`"offer"`)),
	}, a.messages(t))
}

func TestForwardRequiresSharedRoom(t *testing.T) {
	r := NewRelay()
	a, b := connect(r, "a"), connect(r, "b")
	r.OnMessage("a", protocol.JoinRoom())
	b.sig.Reset()

	r.OnMessage("a", protocol.WelcomeUser("a", "b"))
	r.OnMessage("a", protocol.WelcomeUser("a", "a"))
	r.OnMessage("b", protocol.CallUser("a", "b", []byte(`{}`)))

	assert.Empty(t, b.messages(t))
	assert.Len(t, a.messages(t), 1, "only initInfo")
}

func TestSingleSpeaker(t *testing.T) {
	r := NewRelay()
	a, b, c := connect(r, "a"), connect(r, "b"), connect(r, "c")
	for _, s := range []*socket{a, b, c} {
		r.OnMessage(s.id, protocol.JoinRoom())
	}
	for _, s := range []*socket{a, b, c} {
		s.sig.Reset()
	}

	r.OnMessage("a", protocol.StartSpeaking())
	assert.Empty(t, a.types(t))
	assert.Equal(t, []protocol.Type{protocol.TypeDisableMic}, b.types(t))
	assert.Equal(t, []protocol.Type{protocol.TypeDisableMic}, c.types(t))
	assert.Equal(t, domain.ParticipantID("a"), r.RoomState().Speaker)

	b.sig.Reset()
	r.OnMessage("b", protocol.StartSpeaking())
	assert.Equal(t, []protocol.Type{protocol.TypeDisableMic}, b.types(t), "slot is taken")

	r.OnMessage("b", protocol.StopSpeaking())
	assert.Equal(t, domain.ParticipantID("a"), r.RoomState().Speaker, "only the holder releases")

	b.sig.Reset()
	c.sig.Reset()
	r.OnMessage("a", protocol.StopSpeaking())
	assert.Equal(t, []protocol.Type{protocol.TypeEnableMic}, b.types(t))
	assert.Equal(t, []protocol.Type{protocol.TypeEnableMic}, c.types(t))
	assert.Empty(t, r.RoomState().Speaker)
}

func TestLateJoinerIsMuted(t *testing.T) {
	r := NewRelay()
	connect(r, "a")
	r.OnMessage("a", protocol.JoinRoom())
	r.OnMessage("a", protocol.StartSpeaking())

	b := connect(r, "b")
	r.OnMessage("b", protocol.JoinRoom())
	assert.Equal(t, []protocol.Type{protocol.TypeInitInfo, protocol.TypeDisableMic}, b.types(t))
}

func TestDisconnectOfSpeaker(t *testing.T) {
	r := NewRelay()
	_, b := connect(r, "a"), connect(r, "b")
	r.OnMessage("a", protocol.JoinRoom())
	r.OnMessage("b", protocol.JoinRoom())
	r.OnMessage("a", protocol.StartSpeaking())
	b.sig.Reset()

	r.Disconnect("a")
	assert.Equal(t, []protocol.Message{
		protocol.UserDisconnected("a"),
		protocol.EnableMic(),
	}, b.messages(t))
	assert.Equal(t, 1, r.RoomState().MemberCount)

	r.Disconnect("a")
	r.Disconnect("b")
	_, ok := r.Rooms.GetRoom(domain.DefaultRoom)
	assert.False(t, ok, "empty room is stopped")
	assert.Zero(t, r.Registry.Count())
}

func TestSlowMemberIsKicked(t *testing.T) {
	r := NewRelay()
	a, b := connect(r, "a"), connect(r, "b")
	r.OnMessage("a", protocol.JoinRoom())
	a.sig.Full = true

	r.OnMessage("b", protocol.JoinRoom())
	assert.True(t, a.canceled)
	assert.False(t, b.canceled)
}

func TestDropPolicyKeepsSlowMember(t *testing.T) {
	r := NewRelay()
	r.Policy = DropPolicy{}
	a, _ := connect(r, "a"), connect(r, "b")
	r.OnMessage("a", protocol.JoinRoom())
	a.sig.Full = true

	r.OnMessage("b", protocol.JoinRoom())
	assert.False(t, a.canceled)
	assert.Equal(t, []domain.ParticipantID{"a", "b"}, r.RoomState().Members)

	a.sig.Full = false
	r.OnMessage("b", protocol.StartSpeaking())
	assert.Contains(t, a.types(t), protocol.TypeDisableMic)
}

func TestPolicyFor(t *testing.T) {
	p, err := PolicyFor("")
	require.NoError(t, err)
	assert.Equal(t, KickPolicy{}, p)

	p, err = PolicyFor("drop")
	require.NoError(t, err)
	assert.Equal(t, DropPolicy{}, p)

	_, err = PolicyFor("throttle")
	assert.Error(t, err)
}

func TestRoomListing(t *testing.T) {
	r := NewRelay()
	connect(r, "b")
	connect(r, "a")
	connect(r, "c")
	r.OnMessage("b", protocol.JoinRoom())
	r.OnMessage("a", protocol.JoinRoom())
	r.OnMessage("a", protocol.StartSpeaking())

	assert.Equal(t, []core.RoomInfo{{
		Name:        domain.DefaultRoom,
		MemberCount: 2,
		Speaker:     "a",
		Members:     []domain.ParticipantID{"a", "b"},
	}}, r.Rooms.List())
}
