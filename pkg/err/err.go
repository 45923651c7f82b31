package errprocess

import (
	"errors"

	"trackus_chat/pkg/logger"

	"go.uber.org/zap"
)

// Set log err info and return it as error
func Set(errMsg string, fields ...zap.Field) error {
	logger.Log.Error(errMsg, fields...)
	return errors.New(errMsg)
}
