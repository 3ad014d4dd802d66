package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatHistory is an accepted chat message saved to the database.
// The embedded gorm.Model supplies the row id and bookkeeping timestamps;
// MessageID is the protocol-level id shared with the clients.
type ChatHistory struct {
	gorm.Model

	RoomID    string `gorm:"type:text;not null;uniqueIndex:idx_room_message;index:idx_room_seq"`
	MessageID string `gorm:"type:text;not null;uniqueIndex:idx_room_message"`
	// SenderID is the participant id, never the session token.
	SenderID string    `gorm:"type:text;not null"`
	Body     string    `gorm:"type:text;not null"`
	Seq      int64     `gorm:"not null;index:idx_room_seq"`
	SentAt   time.Time `gorm:"not null"`
}

// BeforeCreate mints a message id when the row has none.
func (h *ChatHistory) BeforeCreate(tx *gorm.DB) (err error) {
	if h.MessageID == "" {
		h.MessageID = uuid.NewString()
	}
	return
}

// ToMessage converts the row back into its wire form.
func (h ChatHistory) ToMessage() ChatMessage {
	return ChatMessage{
		ID:        h.MessageID,
		Sender:    h.SenderID,
		Body:      h.Body,
		Timestamp: h.SentAt,
		Seq:       h.Seq,
	}
}

// HistoryFromMessage builds the row for msg in roomID.
func HistoryFromMessage(roomID string, msg ChatMessage) ChatHistory {
	return ChatHistory{
		RoomID:    roomID,
		MessageID: msg.ID,
		SenderID:  msg.Sender,
		Body:      msg.Body,
		Seq:       msg.Seq,
		SentAt:    msg.Timestamp,
	}
}
