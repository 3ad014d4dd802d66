package models

// Client to server events.
const (
	EventStartChat    = "start-chat"
	EventCheckSession = "check-chatRoom-session"
	EventRetrieveChat = "retrieve-chat-messages"
	EventSendMessage  = "send-message"
	EventLeaveChat    = "leave-chat"
)

// Server to client events.
const (
	EventConnect        = "connect"
	EventSession        = "session"
	EventRoomConnected  = "chatRoom-connected"
	EventReceiveSession = "receive-chatRoom-session"
	EventChatHistory    = "chat-history"
	EventMissedMessages = "missed-messages"
	EventReceiveMessage = "receive-message"
	EventLeftChat       = "left-chat"
	EventInactiveRoom   = "inactive-chatRoom"
	EventError          = "error"
	// EventConnectError is raised locally by the client when a dial fails.
	EventConnectError = "connect_error"
)

type ConnectPayload struct {
	ConnectionID string `json:"connectionId"`
}

type StartChatPayload struct {
	ParticipantID string `json:"participantId"`
}

type CheckSessionPayload struct {
	ChatRoomID string `json:"chatRoomId"`
	SessionID  string `json:"sessionId"`
}

type RetrieveChatPayload struct {
	ChatRoomID string `json:"chatRoomId"`
}

type SendMessagePayload struct {
	ChatRoomID string      `json:"chatRoomId"`
	Message    ChatMessage `json:"message"`
}

type LeaveChatPayload struct {
	ChatRoomID string `json:"chatRoomId"`
}

// ErrorPayload reports a rejected request back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// MessageID names the rejected send, when there is one.
	MessageID string `json:"messageId,omitempty"`
}
