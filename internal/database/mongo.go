package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/chat-gateway/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const defaultMongoDatabase = "chat"

type MongoRepository struct {
	client   *mongo.Client
	chats    *mongo.Collection
	messages *mongo.Collection
}

func NewMongoRepository(ctx context.Context, uri string) (*MongoRepository, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("parse mongo uri: %w", err)
	}
	dbName := cs.Database
	if dbName == "" {
		dbName = defaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return newMongoRepository(client.Database(dbName)), nil
}

func newMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		client:   db.Client(),
		chats:    db.Collection("chats"),
		messages: db.Collection("messages"),
	}
}

func (db *MongoRepository) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, nil)
}

func (db *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.client.Disconnect(ctx)
}

func (db *MongoRepository) ListChatsForUser(ctx context.Context, userId string) ([]types.Chat, error) {
	cur, err := db.chats.Find(ctx,
		bson.M{"users": userId},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var docs []chatDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	var chats = make([]types.Chat, 0, len(docs))
	for _, doc := range docs {
		chat := doc.toChat()

		unseen, err := db.messages.CountDocuments(ctx, bson.M{
			"chatId": chatIdFilter(chat.Id),
			"sender": bson.M{"$ne": userId},
			"seen":   false,
		})
		if err != nil {
			return nil, fmt.Errorf("count unseen messages: %w", err)
		}
		chat.UnseenCount = int(unseen)

		chats = append(chats, chat)
	}

	return chats, nil
}

func (db *MongoRepository) GetChat(ctx context.Context, chatId string) (types.Chat, error) {
	id, err := primitive.ObjectIDFromHex(chatId)
	if err != nil {
		return types.Chat{}, ErrNotFound
	}

	var doc chatDocument
	err = db.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.Chat{}, ErrNotFound
	}
	if err != nil {
		return types.Chat{}, fmt.Errorf("get chat: %w", err)
	}

	return doc.toChat(), nil
}

// messagesFilter selects a chat's messages from sinceSeq on. Messages share
// a sequence when created in the same millisecond, so the bound is
// inclusive and clients drop the ones they hold by id.
func messagesFilter(chatId string, sinceSeq int64) bson.M {
	filter := bson.M{"chatId": chatIdFilter(chatId)}
	if sinceSeq > 0 {
		filter["createdAt"] = bson.M{"$gte": time.UnixMilli(sinceSeq).UTC()}
	}
	return filter
}

func (db *MongoRepository) ListMessagesByChat(ctx context.Context, chatId string, sinceSeq int64, limit int) ([]types.Message, error) {
	cur, err := db.messages.Find(ctx, messagesFilter(chatId, sinceSeq), options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit))),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	var messages = make([]types.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toMessage())
	}

	return messages, nil
}
