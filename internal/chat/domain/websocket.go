package domain

// Action websocket request action
type Action string

const (
	// CreateRoom websocket action create_room
	CreateRoom Action = "create_room"
	// JoinRoom websocket action join_room
	JoinRoom Action = "join_room"
	// ExitRoom websocket action exit_room
	ExitRoom Action = "exit_room"
	// DeleteRoom websocket action delete_room
	DeleteRoom Action = "delete_room"

	// EnterRoom websocket action enter_room
	EnterRoom Action = "enter_room"
	// OpenDirect websocket action open_direct
	OpenDirect Action = "open_direct"
	// LeaveRoom websocket action leave_room
	LeaveRoom Action = "leave_room"

	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// ReadMessage websocket action read_message
	ReadMessage Action = "read_message"

	// GetUnread websocket action get_unread
	GetUnread Action = "get_unread"

	// RoomsUpdated server push, room list replaced
	RoomsUpdated Action = "rooms_updated"
	// MessagesUpdated server push, message list of the entered room replaced
	MessagesUpdated Action = "messages_updated"
)

// WSRequest websocket Request
type WSRequest struct {
	Action      string `json:"action"`
	RoomID      string `json:"room_id"`
	RoomName    string `json:"room_name"`
	OpponentID  string `json:"opponent_id"`
	Content     string `json:"content"`
	Image       []byte `json:"image,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
