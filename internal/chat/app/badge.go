package app

import (
	"strconv"

	"trackus_chat/pkg/logger"

	"go.uber.org/zap"
)

// BadgeCap above this the badge reads "999+"
const BadgeCap = 999

// BadgeSink receives the aggregate unread count after every room list change
type BadgeSink interface {
	SetBadge(text string, count int)
}

// BadgeFunc adapts a function to BadgeSink
type BadgeFunc func(text string, count int)

// SetBadge calls f
func (f BadgeFunc) SetBadge(text string, count int) {
	f(text, count)
}

// BadgeText "" for 0, the number up to 999, "999+" above
func BadgeText(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > BadgeCap:
		return strconv.Itoa(BadgeCap) + "+"
	default:
		return strconv.Itoa(n)
	}
}

// LogBadgeSink logs badge changes of memberID. Called under the directory lock,
// so it only records and never calls back.
func LogBadgeSink(memberID string) BadgeSink {
	last := -1
	return BadgeFunc(func(text string, count int) {
		if count == last {
			return
		}
		last = count
		logger.Log.Debug("unread badge", zap.String("userID", memberID), zap.Int("count", count), zap.String("badge", text))
	})
}
