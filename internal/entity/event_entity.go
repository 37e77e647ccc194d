package entity

// Websocket event types, used in both directions.
const (
	EventIdentify       = "identify"
	EventIdentified     = "identified"
	EventChatMessage    = "chatMessage"
	EventChatMessageAck = "chatMessageAck"
	EventTypingStart    = "typingStart"
	EventTypingStop     = "typingStop"
	EventMarkAsRead     = "markAsRead"
	EventUnreadStatus   = "unreadStatus"
	EventError          = "error"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type TypingStartPayload struct {
	UserId   int64    `json:"userId"`
	Username string   `json:"username"`
	ChatType ChatType `json:"chatType"`
	ChatId   int64    `json:"chatId,omitempty"`
}

type TypingStopPayload struct {
	UserId   int64    `json:"userId"`
	ChatType ChatType `json:"chatType"`
	ChatId   int64    `json:"chatId,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
