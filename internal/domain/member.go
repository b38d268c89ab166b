package domain

// Member represents a participant's presence in a relay room.
// No transport or lifecycle logic here.
type Member struct {
	ID ParticipantID `json:"id"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id ParticipantID) *Member {
	return &Member{ID: id}
}
