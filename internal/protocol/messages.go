// Package protocol defines the JSON frames exchanged with the signaling relay.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/walkie/internal/domain"
)

type Type string

// Client -> relay.
const (
	TypeJoinRoom      Type = "joinRoom"
	TypeCallUser      Type = "callUser"
	TypeAnswerCall    Type = "answerCall"
	TypeStartSpeaking Type = "startSpeaking"
	TypeStopSpeaking  Type = "stopSpeaking"
)

// Relay -> client. welcomeUser travels in both directions.
const (
	TypeWelcomeUser      Type = "welcomeUser"
	TypeInitInfo         Type = "initInfo"
	TypeUserJoined       Type = "userJoined"
	TypeUserDisconnected Type = "userDisconnected"
	TypeIncomingCall     Type = "incomingCall"
	// TypeCallAccepted carries the callee's answer back to the caller.
	// The wire name is kept for compatibility with existing relays.
	TypeCallAccepted Type = "callAccepted"
	TypeDisableMic   Type = "disableMic"
	TypeEnableMic    Type = "enableMic"
)

// Message is the single envelope for every frame; unused fields are omitted.
type Message struct {
	Type       Type                 `json:"type"`
	From       domain.ParticipantID `json:"from,omitempty"`
	To         domain.ParticipantID `json:"to,omitempty"`
	SocketID   domain.ParticipantID `json:"socketId,omitempty"`
	Signal     domain.Signal        `json:"signal,omitempty"`
	TurnID     string               `json:"turnId,omitempty"`
	TurnPwd    string               `json:"turnPwd,omitempty"`
	MySocketID domain.ParticipantID `json:"mySocketId,omitempty"`
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("decode frame: missing type")
	}
	return m, nil
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func JoinRoom() Message      { return Message{Type: TypeJoinRoom} }
func StartSpeaking() Message { return Message{Type: TypeStartSpeaking} }
func StopSpeaking() Message  { return Message{Type: TypeStopSpeaking} }
func DisableMic() Message    { return Message{Type: TypeDisableMic} }
func EnableMic() Message     { return Message{Type: TypeEnableMic} }

func WelcomeUser(from, to domain.ParticipantID) Message {
	return Message{Type: TypeWelcomeUser, From: from, To: to}
}

func CallUser(to, from domain.ParticipantID, sig domain.Signal) Message {
	return Message{Type: TypeCallUser, To: to, From: from, Signal: sig}
}

func AnswerCall(from, to domain.ParticipantID, sig domain.Signal) Message {
	return Message{Type: TypeAnswerCall, From: from, To: to, Signal: sig}
}

func InitInfo(creds domain.Credentials, self domain.ParticipantID) Message {
	return Message{Type: TypeInitInfo, TurnID: creds.ID, TurnPwd: creds.Password, MySocketID: self}
}

func UserJoined(id domain.ParticipantID) Message {
	return Message{Type: TypeUserJoined, SocketID: id}
}

func UserDisconnected(id domain.ParticipantID) Message {
	return Message{Type: TypeUserDisconnected, SocketID: id}
}

// Welcomed is the relay-forwarded form of welcomeUser: SocketID names the welcomer.
func Welcomed(from domain.ParticipantID) Message {
	return Message{Type: TypeWelcomeUser, SocketID: from}
}

func IncomingCall(from domain.ParticipantID, sig domain.Signal) Message {
	return Message{Type: TypeIncomingCall, From: from, Signal: sig}
}

func CallAccepted(from domain.ParticipantID, sig domain.Signal) Message {
	return Message{Type: TypeCallAccepted, From: from, Signal: sig}
}
