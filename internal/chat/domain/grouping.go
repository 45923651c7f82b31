package domain

import "time"

// GroupMessages annotates messages (already ordered by timestamp ascending) with
// display hints. Days are evaluated in loc, nil means time.Local.
//
// The time-bucket flag looks ahead: it is set on the last message and on every
// message whose successor falls in a different minute.
func GroupMessages(messages []Message, loc *time.Location) []MessageDisplayGroup {
	if loc == nil {
		loc = time.Local
	}
	out := make([]MessageDisplayGroup, len(messages))
	last := len(messages) - 1
	for i, m := range messages {
		g := MessageDisplayGroup{Message: m}
		if i > 0 {
			prev := messages[i-1]
			g.IsSameSenderAsPrevious = prev.SenderID == m.SenderID
			g.IsSameDayAsPrevious = sameDay(prev.Timestamp, m.Timestamp, loc)
		}
		if i == last {
			g.IsSameTimeBucketAsNeighbors = true
		} else {
			g.IsSameTimeBucketAsNeighbors = minuteBucket(messages[i+1].Timestamp) != minuteBucket(m.Timestamp)
		}
		out[i] = g
	}
	return out
}

// Messages unwraps display groups back to their messages
func Messages(groups []MessageDisplayGroup) []Message {
	out := make([]Message, len(groups))
	for i, g := range groups {
		out[i] = g.Message
	}
	return out
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// minuteBucket absolute minute of t; a repeated wall-clock hour (DST fall-back)
// still yields distinct buckets
func minuteBucket(t time.Time) int64 {
	return t.Truncate(time.Minute).Unix()
}
