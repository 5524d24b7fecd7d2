package types

import (
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

type Image struct {
	Url      string `json:"url"`
	PublicId string `json:"public_id,omitempty"`
}

// Message is a persisted chat message as recorded by the durable store.
// Clients order by SeqId and merge by Id.
type Message struct {
	Id          string      `json:"id"`
	RoomId      string      `json:"room_id"`
	SenderId    string      `json:"sender_id"`
	SeqId       int64       `json:"seq_id"`
	Text        string      `json:"text,omitempty"`
	Image       *Image      `json:"image,omitempty"`
	MessageType MessageType `json:"message_type"`
	Seen        bool        `json:"seen"`
	SeenAt      *time.Time  `json:"seen_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

type LatestMessage struct {
	Text     string `json:"text"`
	SenderId string `json:"sender_id"`
}

type Chat struct {
	Id            string         `json:"id"`
	Users         []string       `json:"users"`
	LatestMessage *LatestMessage `json:"latest_message,omitempty"`
	UnseenCount   int            `json:"unseen_count"`
	CreatedAt     time.Time      `json:"created_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at,omitempty"`
}

// HasUser reports whether userId is a participant of the chat.
func (c Chat) HasUser(userId string) bool {
	for _, u := range c.Users {
		if u == userId {
			return true
		}
	}
	return false
}

type SeenReceipt struct {
	RoomId     string   `json:"room_id"`
	MessageIds []string `json:"message_ids"`
	SeenBy     string   `json:"seen_by"`
}

type TypingState struct {
	RoomId   string `json:"room_id"`
	UserId   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}
