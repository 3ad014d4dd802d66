package models

import "time"

// RoomEventType names a room lifecycle transition published for observers.
type RoomEventType string

const (
	RoomCreated  RoomEventType = "created"
	RoomPaired   RoomEventType = "occupied"
	RoomLeft     RoomEventType = "left"
	RoomInactive RoomEventType = "inactive"
	RoomClosed   RoomEventType = "closed"
)

// RoomEvent is published on the room events channel.
type RoomEvent struct {
	Type         RoomEventType `json:"type"`
	RoomID       string        `json:"roomId"`
	Participants []string      `json:"participants,omitempty"`
	At           time.Time     `json:"at"`
}
