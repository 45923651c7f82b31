package domain

import (
	"slices"
	"time"

	"trackus_chat/pkg"
)

// ImagePlaceholderText replaces the preview text of an image-only latest message
const ImagePlaceholderText = "Sent a photo."

// CollectionName mongo collection names
type CollectionName string

const (
	// RoomCollection chat room documents
	RoomCollection CollectionName = "chatRoom"
	// MessageCollection chat message documents, keyed by roomId
	MessageCollection CollectionName = "messages"
	// UserCollection member profile documents
	UserCollection CollectionName = "users"
)

// LatestMessage cached preview of the last message sent to a room
type LatestMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// ChatRoom materialized view of a chat room document
type ChatRoom struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	IsGroup        bool           `json:"group"`
	Members        []string       `json:"members"`
	NonSelfMembers []string       `json:"non_self_members"`
	UnreadCounts   map[string]int `json:"unread_counts"`
	LatestMessage  *LatestMessage `json:"latest_message,omitempty"`
}

// UnreadFor returns the unread counter of userID, absent means zero
func (r ChatRoom) UnreadFor(userID string) int {
	n := r.UnreadCounts[userID]
	if n < 0 {
		return 0
	}
	return n
}

// HasMember reports whether userID is in Members
func (r ChatRoom) HasMember(userID string) bool {
	return pkg.Contains(r.Members, userID)
}

// Clone deep copy, so published rooms are never shared with a writer
func (r ChatRoom) Clone() ChatRoom {
	c := r
	c.Members = slices.Clone(r.Members)
	c.NonSelfMembers = slices.Clone(r.NonSelfMembers)
	if r.UnreadCounts != nil {
		c.UnreadCounts = make(map[string]int, len(r.UnreadCounts))
		for k, v := range r.UnreadCounts {
			c.UnreadCounts[k] = v
		}
	}
	if r.LatestMessage != nil {
		lm := *r.LatestMessage
		c.LatestMessage = &lm
	}
	return c
}

// WithoutMember returns a copy with userID removed from Members and NonSelfMembers.
// UnreadCounts is left as is.
func (r ChatRoom) WithoutMember(userID string) ChatRoom {
	c := r.Clone()
	c.Members = removeString(c.Members, userID)
	c.NonSelfMembers = removeString(c.NonSelfMembers, userID)
	return c
}

// CompareRooms orders rooms for the room list: rooms with a latest message first,
// newest first, then rooms without one. Remaining ties by title, then id.
func CompareRooms(a, b ChatRoom) int {
	aHas, bHas := a.LatestMessage != nil, b.LatestMessage != nil
	switch {
	case aHas && !bHas:
		return -1
	case !aHas && bHas:
		return 1
	case aHas && bHas:
		if c := b.LatestMessage.Timestamp.Compare(a.LatestMessage.Timestamp); c != 0 {
			return c
		}
	}
	if a.Title != b.Title {
		if a.Title < b.Title {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// SortRooms sorts rooms in place with CompareRooms
func SortRooms(rooms []ChatRoom) {
	slices.SortStableFunc(rooms, CompareRooms)
}

// NonSelf returns members without currentUserID, keeping order
func NonSelf(members []string, currentUserID string) []string {
	return removeString(slices.Clone(members), currentUserID)
}

func removeString(list []string, val string) []string {
	out := list[:0]
	for _, v := range list {
		if v != val {
			out = append(out, v)
		}
	}
	return out
}

// Member cached profile of a room member
type Member struct {
	UID             string `json:"uid"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	PushToken       string `json:"push_token,omitempty"`
}

// ProfileEvent delivered by a profile subscription. Found is false once the
// profile document is gone (account deleted).
type ProfileEvent struct {
	UID    string
	Member Member
	Found  bool
}
