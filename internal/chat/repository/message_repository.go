package repository

import (
	"context"
	"time"

	"trackus_chat/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository definition chat message store
type MessageRepository interface {
	// InsertMessage writes one message document
	InsertMessage(ctx context.Context, msg *domain.MessageDocument) error
	// DeleteRoomMessages reaps every message of a room
	DeleteRoomMessages(ctx context.Context, roomID string) error
	// WatchRoomMessages delivers the room's messages ordered by timestamp ascending, now and after each change
	WatchRoomMessages(ctx context.Context, roomID string, handler func([]domain.RawDocument)) error
}

type chatMessageRepository struct {
	coll *mongo.Collection
	poll time.Duration
}

// NewMongoChatMessageRepository create a MessageRepository
func NewMongoChatMessageRepository(db *mongo.Database, poll time.Duration) MessageRepository {
	return &chatMessageRepository{
		coll: db.Collection(string(domain.MessageCollection)),
		poll: poll,
	}
}

// InsertMessage 寫入一筆聊天訊息
func (r *chatMessageRepository) InsertMessage(ctx context.Context, msg *domain.MessageDocument) error {
	_, err := r.coll.InsertOne(ctx, msg)
	return err
}

// DeleteRoomMessages delete all messages of roomID
func (r *chatMessageRepository) DeleteRoomMessages(ctx context.Context, roomID string) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"roomId": roomID})
	return err
}

// WatchRoomMessages 訂閱聊天室訊息
func (r *chatMessageRepository) WatchRoomMessages(ctx context.Context, roomID string, handler func([]domain.RawDocument)) error {
	query := func(ctx context.Context) ([]domain.RawDocument, error) {
		opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
		cur, err := r.coll.Find(ctx, bson.M{"roomId": roomID}, opts)
		if err != nil {
			return nil, err
		}
		return collect(ctx, cur)
	}

	// deletes carry no fullDocument, so they always trigger a re-query
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"$or": []bson.M{
				{"fullDocument.roomId": roomID},
				{"operationType": "delete"},
			},
		}}},
	}
	return watchSnapshots(ctx, r.coll, pipeline, query, r.poll, handler)
}
