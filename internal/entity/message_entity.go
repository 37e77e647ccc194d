package entity

import "time"

type Attachment struct {
	Url          string `bson:"url" json:"url" validate:"required,url"`
	OriginalName string `bson:"originalName" json:"originalName" validate:"required"`
	MimeType     string `bson:"mimeType" json:"mimeType" validate:"required"`
	SizeBytes    int64  `bson:"sizeBytes" json:"sizeBytes" validate:"gte=0"`
}

type Message struct {
	Id              int64           `bson:"_id" json:"id"`
	SenderId        int64           `bson:"senderId" json:"senderId"`
	ReceiverId      *int64          `bson:"receiverId,omitempty" json:"receiverId,omitempty"`
	GroupId         *int64          `bson:"groupId,omitempty" json:"groupId,omitempty"`
	Text            string          `bson:"messageText,omitempty" json:"messageText,omitempty"`
	Attachment      *Attachment     `bson:"fileData,omitempty" json:"fileData,omitempty"`
	ConversationKey ConversationKey `bson:"conversationKey" json:"conversationKey"`
	CreatedAt       time.Time       `bson:"createdAt" json:"createdAt"`
	ReadAt          *time.Time      `bson:"readAt" json:"readAt"`
}

type SendMessageRequest struct {
	SenderId   int64
	ReceiverId *int64
	GroupId    *int64
	Text       string
	Attachment *Attachment
	// OriginConnection is the handle of the submitting connection, excluded
	// from the live push. Empty for submissions outside a websocket.
	OriginConnection string
}

type MessageIndexFilter struct {
	ConversationKey ConversationKey
	BeforeId        int64
	Limit           int
}
