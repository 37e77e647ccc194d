package entity

import "time"

type UnreadStatus struct {
	ConversationKey ConversationKey `json:"conversationKey"`
	UnreadCount     int             `json:"unreadCount"`
	LastMessageAt   time.Time       `json:"lastMessageAt"`
}

// ReadMarker is the per-user watermark written by mark-as-read. Everything
// in the conversation created after LastReadAt counts as unread.
type ReadMarker struct {
	UserId          int64           `bson:"userId" json:"userId"`
	ConversationKey ConversationKey `bson:"conversationKey" json:"conversationKey"`
	LastReadAt      time.Time       `bson:"lastReadAt" json:"lastReadAt"`
}
