package app

import (
	"context"

	"trackus_chat/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

// CreateRoom mock create room
func (m *MockRoomRepository) CreateRoom(ctx context.Context, room *domain.RoomDocument) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// FindDirectRooms mock find direct rooms
func (m *MockRoomRepository) FindDirectRooms(ctx context.Context, userA, userB string) ([]domain.RawDocument, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.RawDocument), args.Error(1)
	}
	return nil, args.Error(1)
}

// AddMember mock add member
func (m *MockRoomRepository) AddMember(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// AddGroupMember mock add group member
func (m *MockRoomRepository) AddGroupMember(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// RemoveMember mock remove member
func (m *MockRoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// SetUnreadCount mock set unread counter
func (m *MockRoomRepository) SetUnreadCount(ctx context.Context, roomID, userID string, count int) error {
	args := m.Called(ctx, roomID, userID, count)
	return args.Error(0)
}

// BumpUnreadCounts mock bump unread counters
func (m *MockRoomRepository) BumpUnreadCounts(ctx context.Context, roomID, senderID string, memberIDs []string) error {
	args := m.Called(ctx, roomID, senderID, memberIDs)
	return args.Error(0)
}

// SetLatestMessage mock set latest message
func (m *MockRoomRepository) SetLatestMessage(ctx context.Context, roomID string, latest domain.LatestMessageDocument) error {
	args := m.Called(ctx, roomID, latest)
	return args.Error(0)
}

// DeleteRoom mock delete room
func (m *MockRoomRepository) DeleteRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// WatchMemberRooms mock watch rooms
func (m *MockRoomRepository) WatchMemberRooms(ctx context.Context, userID string, handler func([]domain.RawDocument)) error {
	args := m.Called(ctx, userID, handler)
	return args.Error(0)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// InsertMessage mock insert msg
func (m *MockMessageRepository) InsertMessage(ctx context.Context, msg *domain.MessageDocument) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// DeleteRoomMessages mock delete room messages
func (m *MockMessageRepository) DeleteRoomMessages(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// WatchRoomMessages mock watch messages
func (m *MockMessageRepository) WatchRoomMessages(ctx context.Context, roomID string, handler func([]domain.RawDocument)) error {
	args := m.Called(ctx, roomID, handler)
	return args.Error(0)
}

// MockPushDispatcher Mock PushDispatcher
type MockPushDispatcher struct {
	mock.Mock
}

// Dispatch mock push
func (m *MockPushDispatcher) Dispatch(ctx context.Context, req domain.PushRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockAttachmentRepository Mock AttachmentRepository
type MockAttachmentRepository struct {
	mock.Mock
}

// UploadImage mock upload image
func (m *MockAttachmentRepository) UploadImage(ctx context.Context, roomID string, img domain.Image) (string, error) {
	args := m.Called(ctx, roomID, img)
	return args.String(0), args.Error(1)
}
