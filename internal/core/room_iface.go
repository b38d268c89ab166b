package core

import (
	"github.com/dkeye/walkie/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a relay room.
// It owns the membership set and the speaker slot but never touches
// transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []domain.ParticipantID

	AddMember(ms MemberSession)
	RemoveMember(id domain.ParticipantID) bool
	Broadcast(from domain.ParticipantID, data Frame) PublishResult

	// ClaimSpeaker grants the single speaker slot if it is free or already held by id.
	ClaimSpeaker(id domain.ParticipantID) bool
	// ReleaseSpeaker frees the slot if id holds it.
	ReleaseSpeaker(id domain.ParticipantID) bool
	Speaker() (domain.ParticipantID, bool)
}

type RoomInfo struct {
	Name        domain.RoomName        `json:"name"`
	MemberCount int                    `json:"count"`
	Speaker     domain.ParticipantID   `json:"speaker,omitempty"`
	Members     []domain.ParticipantID `json:"members,omitempty"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	GetRoom(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	StopRoom(name domain.RoomName)
}
