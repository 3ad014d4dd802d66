package models

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// RoomState is the occupancy state of a chat room.
type RoomState string

const (
	RoomIdle     RoomState = "idle"
	RoomOccupied RoomState = "occupied"
)

// ChatRoom is the wire view of a room: its id, state and the participant
// ids in join order.
type ChatRoom struct {
	ID           string    `json:"id"`
	State        RoomState `json:"state"`
	Participants []string  `json:"participants"`
}

// Other returns the participant that is not self, or "" if there is none.
func (r ChatRoom) Other(self string) string {
	for _, p := range r.Participants {
		if p != self {
			return p
		}
	}
	return ""
}

// RoomRecord is the persisted lifecycle of a room.
type RoomRecord struct {
	// RoomID is the room UUID.
	RoomID string `gorm:"primaryKey"`
	// Participants holds every participant id that ever joined, in order.
	Participants ParticipantIDs
	IsActive     bool `gorm:"index"`
	StartedAt    time.Time
	EndedAt      *time.Time
	// EndReason is set once the room is closed: left, grace, inactive,
	// expired or restart.
	EndReason string
}

// TableName keeps the table name stable regardless of the struct name.
func (RoomRecord) TableName() string { return "chat_rooms" }

// ParticipantIDs is stored as a postgres text[] and as its text form on
// other dialects.
type ParticipantIDs []string

func (p ParticipantIDs) Value() (driver.Value, error) {
	return pq.StringArray(p).Value()
}

func (p *ParticipantIDs) Scan(src any) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*p = ParticipantIDs(arr)
	return nil
}

// GormDBDataType picks the column type per dialect.
func (ParticipantIDs) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}
