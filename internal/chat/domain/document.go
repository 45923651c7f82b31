package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// RawDocument one document of a snapshot, decoded lazily so a malformed
// document only drops itself
type RawDocument bson.Raw

// ID returns the string _id of the document, "" when missing
func (d RawDocument) ID() string {
	v, err := bson.Raw(d).LookupErr("_id")
	if err != nil {
		return ""
	}
	s, _ := v.StringValueOK()
	return s
}

// Decode unmarshals the document into v
func (d RawDocument) Decode(v interface{}) error {
	return bson.Unmarshal(d, v)
}

// LatestMessageDocument latestMessage field of a room document
type LatestMessageDocument struct {
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

// RoomDocument chatRoom/{roomId}
type RoomDocument struct {
	ID                   string                 `bson:"_id"`
	Title                string                 `bson:"title"`
	Group                bool                   `bson:"group"`
	Members              []string               `bson:"members"`
	UsersUnreadCountInfo map[string]int         `bson:"usersUnreadCountInfo"`
	LatestMessage        *LatestMessageDocument `bson:"latestMessage,omitempty"`
}

// NewRoomDocument builds a room document where every member starts at zero unread
func NewRoomDocument(id, title string, group bool, members []string) *RoomDocument {
	unread := make(map[string]int, len(members))
	for _, m := range members {
		unread[m] = 0
	}
	return &RoomDocument{
		ID:                   id,
		Title:                title,
		Group:                group,
		Members:              members,
		UsersUnreadCountInfo: unread,
	}
}

// ToChatRoom materializes the document for currentUserID
func (d RoomDocument) ToChatRoom(currentUserID string) ChatRoom {
	members := make([]string, 0, len(d.Members))
	seen := make(map[string]struct{}, len(d.Members))
	for _, m := range d.Members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		members = append(members, m)
	}

	unread := make(map[string]int, len(d.UsersUnreadCountInfo))
	for k, v := range d.UsersUnreadCountInfo {
		unread[k] = v
	}

	room := ChatRoom{
		ID:             d.ID,
		Title:          d.Title,
		IsGroup:        d.Group,
		Members:        members,
		NonSelfMembers: NonSelf(members, currentUserID),
		UnreadCounts:   unread,
	}
	if d.LatestMessage != nil {
		text := d.LatestMessage.Text
		if text == "" {
			text = ImagePlaceholderText
		}
		room.LatestMessage = &LatestMessage{Timestamp: d.LatestMessage.Timestamp, Text: text}
	}
	return room
}

// MessageDocument messages/{messageId}; the room is the roomId field
type MessageDocument struct {
	ID        string     `bson:"_id,omitempty"`
	RoomID    string     `bson:"roomId"`
	UserID    string     `bson:"userId"`
	Text      string     `bson:"text"`
	ImageURL  *string    `bson:"imageUrl,omitempty"`
	Timestamp *time.Time `bson:"timestamp,omitempty"`
}

// UserDocument users/{uid}
type UserDocument struct {
	ID              string  `bson:"_id"`
	Username        string  `bson:"username"`
	ProfileImageURL *string `bson:"profileImageUrl,omitempty"`
	Token           *string `bson:"token,omitempty"`
}

// ToMember converts the profile document to a cached member
func (d UserDocument) ToMember() Member {
	m := Member{UID: d.ID, DisplayName: d.Username}
	if d.ProfileImageURL != nil {
		m.ProfileImageURL = *d.ProfileImageURL
	}
	if d.Token != nil {
		m.PushToken = *d.Token
	}
	return m
}
