package websocket

import (
	"staffchat/internal/entity"

	"github.com/goccy/go-json"
)

// IncomingEvent is the envelope of every client frame.
type IncomingEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type IdentifyRequest struct {
	UserId int64 `json:"userId" validate:"required,gt=0"`
}

// ChatMessageRequest is checked by the message usecase, which owns the
// addressing and content rules.
type ChatMessageRequest struct {
	SenderId    int64              `json:"senderId"`
	MessageText string             `json:"messageText"`
	ReceiverId  *int64             `json:"receiverId"`
	GroupId     *int64             `json:"groupId"`
	FileData    *entity.Attachment `json:"fileData" validate:"-"`
}

type TypingRequest struct {
	UserId int64 `json:"userId" validate:"required,gt=0"`
	entity.ConversationRef
}

type MarkAsReadRequest struct {
	entity.ConversationRef
}
