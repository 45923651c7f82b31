package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomExists room id already taken
	ErrRoomExists = errors.New("chat room already exists")
	// ErrRoomNotFound no room document with that id
	ErrRoomNotFound = errors.New("chat room not found")
	// ErrEmptyMessage message has neither text nor image
	ErrEmptyMessage = errors.New("message has no text and no image")
	// ErrAttachmentsDisabled image sent but no attachment store configured
	ErrAttachmentsDisabled = errors.New("image attachments are not configured")
	// ErrSessionClosed session was closed
	ErrSessionClosed = errors.New("chat session closed")
	// ErrDirectoryClosed directory was closed
	ErrDirectoryClosed = errors.New("chat directory closed")
	// ErrNotSubscribed directory has no current user yet
	ErrNotSubscribed = errors.New("chat directory not subscribed")
)

// StoreError a write the remote store rejected
type StoreError struct {
	Op     string
	RoomID string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err, nil stays nil
func NewStoreError(op, roomID string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, RoomID: roomID, Err: err}
}

// PartialSendError the message was written but a follow-up step failed.
// Nothing is rolled back.
type PartialSendError struct {
	MessageID string
	Err       error
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("message %s sent with errors: %v", e.MessageID, e.Err)
}

func (e *PartialSendError) Unwrap() error {
	return e.Err
}

// PartialJoinError the member was added but the unread counter was not initialised
type PartialJoinError struct {
	RoomID string
	UserID string
	Err    error
}

func (e *PartialJoinError) Error() string {
	return fmt.Sprintf("user %s joined room %s but unread counter not set: %v", e.UserID, e.RoomID, e.Err)
}

func (e *PartialJoinError) Unwrap() error {
	return e.Err
}
