package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStoreError(t *testing.T) {
	assert.Nil(t, NewStoreError("join room", "r1", nil))

	err := NewStoreError("join room", "r1", ErrRoomNotFound)
	var storeErr *StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "join room", storeErr.Op)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPartialErrors_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	assert.ErrorIs(t, &PartialSendError{MessageID: "m1", Err: cause}, cause)
	assert.ErrorIs(t, &PartialJoinError{RoomID: "r1", UserID: "A", Err: cause}, cause)
}
