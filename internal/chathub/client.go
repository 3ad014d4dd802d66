package chathub

import "github.com/billychen0894/spareTalk/internal/models"

// Outbound is one frame queued for a connection. OnWritten, when set, runs
// after the frame was written to the socket.
type Outbound struct {
	Envelope  models.Envelope
	OnWritten func()
}

// Client is one live connection as the hub sees it. A connection is bound
// to at most one room slot at a time.
type Client interface {
	// GetConnID returns the transport-assigned connection id.
	GetConnID() string
	// GetLang returns the preferred language for notification texts.
	GetLang() string
	// GetCredential returns the credential presented on the handshake, if any.
	GetCredential() models.Session

	GetRoomID() string
	GetSessionID() string
	// Bind attaches the connection to a room slot.
	Bind(roomID, sessionID string)
	// Unbind detaches the connection if it is bound to roomID.
	Unbind(roomID string) bool

	// Deliver queues out without blocking. It returns false when the
	// connection is closed or its buffer is full.
	Deliver(out Outbound) bool

	// Run starts the read and write pumps.
	Run()
	// Close stops the pumps. Safe to call more than once.
	Close()
}
