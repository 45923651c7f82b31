package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trackus_chat/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// RoomRepository definition chat room store
type RoomRepository interface {
	// CreateRoom inserts a new room, domain.ErrRoomExists when the id is taken
	CreateRoom(ctx context.Context, room *domain.RoomDocument) error
	// FindDirectRooms returns non-group rooms whose members are exactly {userA, userB}
	FindDirectRooms(ctx context.Context, userA, userB string) ([]domain.RawDocument, error)
	// AddMember array-union of userID into members
	AddMember(ctx context.Context, roomID, userID string) error
	// AddGroupMember like AddMember but only matches group rooms, domain.ErrRoomNotFound otherwise
	AddGroupMember(ctx context.Context, roomID, userID string) error
	// RemoveMember array-remove of userID from members
	RemoveMember(ctx context.Context, roomID, userID string) error
	// SetUnreadCount sets one counter field
	SetUnreadCount(ctx context.Context, roomID, userID string, count int) error
	// BumpUnreadCounts increments every counter in memberIDs except senderID and zeroes the sender, in one update
	BumpUnreadCounts(ctx context.Context, roomID, senderID string, memberIDs []string) error
	// SetLatestMessage overwrites the latestMessage preview
	SetLatestMessage(ctx context.Context, roomID string, latest domain.LatestMessageDocument) error
	// DeleteRoom deletes the room document, messages are untouched
	DeleteRoom(ctx context.Context, roomID string) error
	// WatchMemberRooms delivers every room containing userID, now and after each change, until ctx is done
	WatchMemberRooms(ctx context.Context, userID string, handler func([]domain.RawDocument)) error
}

const unreadField = "usersUnreadCountInfo"

// UnreadFieldPath dotted path of a member's unread counter
func UnreadFieldPath(userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ".$") {
		return "", fmt.Errorf("invalid member id %q", userID)
	}
	return unreadField + "." + userID, nil
}

type chatRoomRepository struct {
	roomsColl *mongo.Collection
	poll      time.Duration
}

// NewMongoChatRoomRepository create new mongo chat room repository
func NewMongoChatRoomRepository(db *mongo.Database, poll time.Duration) RoomRepository {
	return &chatRoomRepository{
		roomsColl: db.Collection(string(domain.RoomCollection)),
		poll:      poll,
	}
}

// CreateRoom create room
func (r *chatRoomRepository) CreateRoom(ctx context.Context, room *domain.RoomDocument) error {
	_, err := r.roomsColl.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrRoomExists
	}
	return err
}

// FindDirectRooms find 1 on 1 rooms of two members
func (r *chatRoomRepository) FindDirectRooms(ctx context.Context, userA, userB string) ([]domain.RawDocument, error) {
	filter := bson.M{
		"group": false,
		"members": bson.M{
			"$size": 2,
			"$all":  []string{userA, userB},
		},
	}
	cur, err := r.roomsColl.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return collect(ctx, cur)
}

// AddMember join member
func (r *chatRoomRepository) AddMember(ctx context.Context, roomID, userID string) error {
	return r.updateOne(ctx, roomID, bson.M{"$addToSet": bson.M{"members": userID}})
}

// AddGroupMember join a group room; direct rooms never match
func (r *chatRoomRepository) AddGroupMember(ctx context.Context, roomID, userID string) error {
	res, err := r.roomsColl.UpdateOne(ctx,
		bson.M{"_id": roomID, "group": true},
		bson.M{"$addToSet": bson.M{"members": userID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// RemoveMember member exit room
func (r *chatRoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	return r.updateOne(ctx, roomID, bson.M{"$pull": bson.M{"members": userID}})
}

// SetUnreadCount set member unread counter
func (r *chatRoomRepository) SetUnreadCount(ctx context.Context, roomID, userID string, count int) error {
	field, err := UnreadFieldPath(userID)
	if err != nil {
		return err
	}
	return r.updateOne(ctx, roomID, bson.M{"$set": bson.M{field: count}})
}

// BumpUnreadCounts atomic $inc per member field, so concurrent senders never lose an increment
func (r *chatRoomRepository) BumpUnreadCounts(ctx context.Context, roomID, senderID string, memberIDs []string) error {
	senderField, err := UnreadFieldPath(senderID)
	if err != nil {
		return err
	}

	inc := bson.M{}
	for _, id := range memberIDs {
		if id == senderID {
			continue
		}
		field, err := UnreadFieldPath(id)
		if err != nil {
			return err
		}
		inc[field] = 1
	}

	update := bson.M{"$set": bson.M{senderField: 0}}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	return r.updateOne(ctx, roomID, update)
}

// SetLatestMessage update room preview
func (r *chatRoomRepository) SetLatestMessage(ctx context.Context, roomID string, latest domain.LatestMessageDocument) error {
	return r.updateOne(ctx, roomID, bson.M{"$set": bson.M{"latestMessage": latest}})
}

// DeleteRoom delete room document
func (r *chatRoomRepository) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := r.roomsColl.DeleteOne(ctx, bson.M{"_id": roomID})
	return err
}

// WatchMemberRooms 訂閱包含 userID 的所有聊天室
func (r *chatRoomRepository) WatchMemberRooms(ctx context.Context, userID string, handler func([]domain.RawDocument)) error {
	query := func(ctx context.Context) ([]domain.RawDocument, error) {
		cur, err := r.roomsColl.Find(ctx, bson.M{"members": userID})
		if err != nil {
			return nil, err
		}
		return collect(ctx, cur)
	}
	// every change can add or drop a room from the member's set, so no $match stage
	return watchSnapshots(ctx, r.roomsColl, mongo.Pipeline{}, query, r.poll, handler)
}

func (r *chatRoomRepository) updateOne(ctx context.Context, roomID string, update bson.M) error {
	res, err := r.roomsColl.UpdateOne(ctx, bson.M{"_id": roomID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}
