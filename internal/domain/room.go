package domain

type RoomName string

// DefaultRoom is used when a client joins without naming a channel.
const DefaultRoom RoomName = "main"

type Room struct {
	Name RoomName
}
