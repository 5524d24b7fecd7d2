package database

import (
	"fmt"
	"time"

	"github.com/npezzotti/chat-gateway/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// chatDocument and messageDocument mirror the collections written by the
// chat service.
type chatDocument struct {
	Id            primitive.ObjectID `bson:"_id"`
	Users         []string           `bson:"users"`
	LatestMessage *struct {
		Text   string `bson:"text"`
		Sender string `bson:"sender"`
	} `bson:"latestMessage,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d chatDocument) toChat() types.Chat {
	chat := types.Chat{
		Id:        d.Id.Hex(),
		Users:     d.Users,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.LatestMessage != nil {
		chat.LatestMessage = &types.LatestMessage{
			Text:     d.LatestMessage.Text,
			SenderId: d.LatestMessage.Sender,
		}
	}
	return chat
}

// chatRef is a message's chat id, stored either as an ObjectId or as its
// hex string.
type chatRef string

func (r *chatRef) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	v := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.ObjectID:
		*r = chatRef(v.ObjectID().Hex())
	case bsontype.String:
		*r = chatRef(v.StringValue())
	default:
		return fmt.Errorf("unsupported chatId type %s", t)
	}
	return nil
}

// chatIdFilter matches a message's chatId in either stored form.
func chatIdFilter(chatId string) any {
	if id, err := primitive.ObjectIDFromHex(chatId); err == nil {
		return bson.M{"$in": bson.A{id, chatId}}
	}
	return chatId
}

type messageDocument struct {
	Id     primitive.ObjectID `bson:"_id"`
	ChatId chatRef            `bson:"chatId"`
	Sender string             `bson:"sender"`
	Text   string             `bson:"text,omitempty"`
	Image  *struct {
		Url      string `bson:"url"`
		PublicId string `bson:"publicId"`
	} `bson:"image,omitempty"`
	MessageType string     `bson:"messageType"`
	Seen        bool       `bson:"seen"`
	SeenAt      *time.Time `bson:"seenAt,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt"`
}

// toMessage uses the creation time in milliseconds as the persisted
// sequence, the store keeps no counter of its own.
func (d messageDocument) toMessage() types.Message {
	msg := types.Message{
		Id:          d.Id.Hex(),
		RoomId:      string(d.ChatId),
		SenderId:    d.Sender,
		SeqId:       d.CreatedAt.UnixMilli(),
		Text:        d.Text,
		MessageType: types.MessageType(d.MessageType),
		Seen:        d.Seen,
		SeenAt:      d.SeenAt,
		CreatedAt:   d.CreatedAt,
	}
	if msg.MessageType == "" {
		msg.MessageType = types.MessageTypeText
	}
	if d.Image != nil {
		msg.Image = &types.Image{Url: d.Image.Url, PublicId: d.Image.PublicId}
	}
	return msg
}
