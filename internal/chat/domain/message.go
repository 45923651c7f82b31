package domain

import "time"

// Message materialized chat message, sender already resolved to a room member
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"sender_id"`
	Sender    Member    `json:"sender"`
	Text      string    `json:"text"`
	ImageURL  string    `json:"image_url,omitempty"`
}

// HasImage reports whether the message carries an image
func (m Message) HasImage() bool {
	return m.ImageURL != ""
}

// MessageDisplayGroup display hints derived from a message and its neighbours. Never persisted.
type MessageDisplayGroup struct {
	Message                     Message `json:"message"`
	IsSameSenderAsPrevious      bool    `json:"same_sender"`
	IsSameDayAsPrevious         bool    `json:"same_day"`
	IsSameTimeBucketAsNeighbors bool    `json:"same_time"`
}

// Image attachment to upload with a message
type Image struct {
	Data        []byte
	ContentType string
}

// PushRequest payload handed to the push-notification collaborator
type PushRequest struct {
	AccessToken string   `json:"access_token"`
	RoomID      string   `json:"room_id"`
	RoomTitle   string   `json:"room_title"`
	SenderID    string   `json:"sender_id"`
	Recipients  []Member `json:"recipients"`
	Body        string   `json:"body"`
}
