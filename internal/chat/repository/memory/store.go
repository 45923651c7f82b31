// Package memory is an in-process chat store with the same snapshot semantics as
// the mongo repositories: every write redelivers the full result of each
// affected watch. Documents go through the bson codec, so decoding behaves as
// it does against mongo.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/internal/chat/repository"
	"trackus_chat/pkg"

	"go.mongodb.org/mongo-driver/bson"
)

type malformedRoom struct {
	raw     domain.RawDocument
	members []string
}

type watcher struct {
	dirty chan struct{}
}

func (w *watcher) notify() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Store implements RoomRepository, MessageRepository and ProfileRepository
type Store struct {
	mu sync.RWMutex

	rooms     map[string]*domain.RoomDocument
	malformed map[string]malformedRoom
	messages  map[string][]domain.RawDocument // roomID -> insertion order
	users     map[string]domain.RawDocument

	watchers map[*watcher]struct{}
	failures map[string][]error
}

var (
	_ repository.RoomRepository    = (*Store)(nil)
	_ repository.MessageRepository = (*Store)(nil)
	_ repository.ProfileRepository = (*Store)(nil)
)

// New empty store
func New() *Store {
	return &Store{
		rooms:     make(map[string]*domain.RoomDocument),
		malformed: make(map[string]malformedRoom),
		messages:  make(map[string][]domain.RawDocument),
		users:     make(map[string]domain.RawDocument),
		watchers:  make(map[*watcher]struct{}),
		failures:  make(map[string][]error),
	}
}

// FailNext makes the next call of op (method name, e.g. "SetUnreadCount") return err
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// takeFailure must be called with mu held
func (s *Store) takeFailure(op string) error {
	errs := s.failures[op]
	if len(errs) == 0 {
		return nil
	}
	s.failures[op] = errs[1:]
	return errs[0]
}

// write runs fn under the lock, then wakes every watcher
func (s *Store) write(op string, fn func() error) error {
	s.mu.Lock()
	if err := s.takeFailure(op); err != nil {
		s.mu.Unlock()
		return err
	}
	err := fn()
	watchers := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	if err == nil {
		for _, w := range watchers {
			w.notify()
		}
	}
	return err
}

// CreateRoom insert room, domain.ErrRoomExists when the id is taken
func (s *Store) CreateRoom(_ context.Context, room *domain.RoomDocument) error {
	return s.write("CreateRoom", func() error {
		if _, ok := s.rooms[room.ID]; ok {
			return domain.ErrRoomExists
		}
		if _, ok := s.malformed[room.ID]; ok {
			return domain.ErrRoomExists
		}
		s.rooms[room.ID] = copyRoom(room)
		return nil
	})
}

// FindDirectRooms non-group rooms with exactly the two members
func (s *Store) FindDirectRooms(_ context.Context, userA, userB string) ([]domain.RawDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("FindDirectRooms"); err != nil {
		return nil, err
	}

	var docs []domain.RawDocument
	for _, id := range s.sortedRoomIDs() {
		room, ok := s.rooms[id]
		if !ok || room.Group || len(room.Members) != 2 {
			continue
		}
		if pkg.SameMembers(room.Members, []string{userA, userB}) {
			docs = append(docs, mustMarshal(room))
		}
	}
	return docs, nil
}

// AddMember $addToSet
func (s *Store) AddMember(_ context.Context, roomID, userID string) error {
	return s.updateRoom("AddMember", roomID, func(room *domain.RoomDocument) error {
		if !pkg.Contains(room.Members, userID) {
			room.Members = append(room.Members, userID)
		}
		return nil
	})
}

// AddGroupMember join member, group rooms only
func (s *Store) AddGroupMember(_ context.Context, roomID, userID string) error {
	return s.updateRoom("AddGroupMember", roomID, func(room *domain.RoomDocument) error {
		if !room.Group {
			return domain.ErrRoomNotFound
		}
		if !pkg.Contains(room.Members, userID) {
			room.Members = append(room.Members, userID)
		}
		return nil
	})
}

// RemoveMember $pull
func (s *Store) RemoveMember(_ context.Context, roomID, userID string) error {
	return s.updateRoom("RemoveMember", roomID, func(room *domain.RoomDocument) error {
		room.Members = slices.DeleteFunc(room.Members, func(m string) bool { return m == userID })
		return nil
	})
}

// SetUnreadCount $set usersUnreadCountInfo.<uid>
func (s *Store) SetUnreadCount(_ context.Context, roomID, userID string, count int) error {
	if _, err := repository.UnreadFieldPath(userID); err != nil {
		return err
	}
	return s.updateRoom("SetUnreadCount", roomID, func(room *domain.RoomDocument) error {
		room.UsersUnreadCountInfo[userID] = count
		return nil
	})
}

// BumpUnreadCounts $inc every other member, $set sender 0
func (s *Store) BumpUnreadCounts(_ context.Context, roomID, senderID string, memberIDs []string) error {
	for _, id := range append([]string{senderID}, memberIDs...) {
		if _, err := repository.UnreadFieldPath(id); err != nil {
			return err
		}
	}
	return s.updateRoom("BumpUnreadCounts", roomID, func(room *domain.RoomDocument) error {
		seen := map[string]struct{}{}
		for _, id := range memberIDs {
			if _, ok := seen[id]; ok || id == senderID {
				continue
			}
			seen[id] = struct{}{}
			room.UsersUnreadCountInfo[id]++
		}
		room.UsersUnreadCountInfo[senderID] = 0
		return nil
	})
}

// SetLatestMessage $set latestMessage
func (s *Store) SetLatestMessage(_ context.Context, roomID string, latest domain.LatestMessageDocument) error {
	return s.updateRoom("SetLatestMessage", roomID, func(room *domain.RoomDocument) error {
		lm := latest
		room.LatestMessage = &lm
		return nil
	})
}

// DeleteRoom delete room document
func (s *Store) DeleteRoom(_ context.Context, roomID string) error {
	return s.write("DeleteRoom", func() error {
		delete(s.rooms, roomID)
		delete(s.malformed, roomID)
		return nil
	})
}

// WatchMemberRooms rooms containing userID
func (s *Store) WatchMemberRooms(ctx context.Context, userID string, handler func([]domain.RawDocument)) error {
	return s.watch(ctx, "WatchMemberRooms", func() []domain.RawDocument {
		docs := []domain.RawDocument{}
		for _, id := range s.sortedRoomIDs() {
			if room, ok := s.rooms[id]; ok {
				if pkg.Contains(room.Members, userID) {
					docs = append(docs, mustMarshal(room))
				}
				continue
			}
			if bad := s.malformed[id]; pkg.Contains(bad.members, userID) {
				docs = append(docs, bad.raw)
			}
		}
		return docs
	}, handler)
}

// InsertMessage insert message document
func (s *Store) InsertMessage(_ context.Context, msg *domain.MessageDocument) error {
	raw := mustMarshal(msg)
	return s.write("InsertMessage", func() error {
		s.messages[msg.RoomID] = append(s.messages[msg.RoomID], raw)
		return nil
	})
}

// DeleteRoomMessages delete all messages of roomID
func (s *Store) DeleteRoomMessages(_ context.Context, roomID string) error {
	return s.write("DeleteRoomMessages", func() error {
		delete(s.messages, roomID)
		return nil
	})
}

// WatchRoomMessages messages of roomID ordered by timestamp ascending
func (s *Store) WatchRoomMessages(ctx context.Context, roomID string, handler func([]domain.RawDocument)) error {
	return s.watch(ctx, "WatchRoomMessages", func() []domain.RawDocument {
		docs := slices.Clone(s.messages[roomID])
		slices.SortStableFunc(docs, func(a, b domain.RawDocument) int {
			return timestampOf(a).Compare(timestampOf(b))
		})
		return docs
	}, handler)
}

// WatchProfile profile of uid
func (s *Store) WatchProfile(ctx context.Context, uid string, handler func(domain.ProfileEvent)) error {
	return s.watch(ctx, "WatchProfile", func() []domain.RawDocument {
		if raw, ok := s.users[uid]; ok {
			return []domain.RawDocument{raw}
		}
		return []domain.RawDocument{}
	}, func(docs []domain.RawDocument) {
		if event, ok := repository.DecodeProfile(uid, docs); ok {
			handler(event)
		}
	})
}

// PutUser create or replace a profile
func (s *Store) PutUser(user domain.UserDocument) {
	raw := mustMarshal(user)
	_ = s.write("PutUser", func() error {
		s.users[user.ID] = raw
		return nil
	})
}

// DeleteUser remove a profile (account deletion)
func (s *Store) DeleteUser(uid string) {
	_ = s.write("DeleteUser", func() error {
		delete(s.users, uid)
		return nil
	})
}

// InjectMalformedRoom stores a raw room document visible to members, bypassing validation
func (s *Store) InjectMalformedRoom(id string, members []string, doc bson.M) {
	doc["_id"] = id
	raw := mustMarshal(doc)
	_ = s.write("InjectMalformedRoom", func() error {
		s.malformed[id] = malformedRoom{raw: raw, members: members}
		return nil
	})
}

// InjectRawMessage stores a raw message document for roomID, bypassing validation
func (s *Store) InjectRawMessage(roomID string, doc bson.M) {
	raw := mustMarshal(doc)
	_ = s.write("InjectRawMessage", func() error {
		s.messages[roomID] = append(s.messages[roomID], raw)
		return nil
	})
}

// Room returns a copy of the stored room document
func (s *Store) Room(roomID string) (domain.RoomDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.RoomDocument{}, false
	}
	return *copyRoom(room), true
}

// MessageCount number of stored messages of roomID
func (s *Store) MessageCount(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[roomID])
}

// WatcherCount number of live subscriptions
func (s *Store) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

func (s *Store) updateRoom(op, roomID string, fn func(room *domain.RoomDocument) error) error {
	return s.write(op, func() error {
		room, ok := s.rooms[roomID]
		if !ok {
			return domain.ErrRoomNotFound
		}
		if room.UsersUnreadCountInfo == nil {
			room.UsersUnreadCountInfo = map[string]int{}
		}
		return fn(room)
	})
}

// watch registers a watcher whose handler runs on its own goroutine with the
// full query result, first immediately and then after every write
func (s *Store) watch(ctx context.Context, op string, query func() []domain.RawDocument, handler func([]domain.RawDocument)) error {
	w := &watcher{dirty: make(chan struct{}, 1)}

	s.mu.Lock()
	if err := s.takeFailure(op); err != nil {
		s.mu.Unlock()
		return err
	}
	s.watchers[w] = struct{}{}
	s.mu.Unlock()
	w.notify()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.dirty:
				s.mu.RLock()
				docs := query()
				s.mu.RUnlock()
				if ctx.Err() != nil {
					return
				}
				handler(docs)
			}
		}
	}()
	return nil
}

func (s *Store) sortedRoomIDs() []string {
	ids := make([]string, 0, len(s.rooms)+len(s.malformed))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	for id := range s.malformed {
		if _, ok := s.rooms[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func copyRoom(room *domain.RoomDocument) *domain.RoomDocument {
	c := *room
	c.Members = slices.Clone(room.Members)
	if c.Members == nil {
		c.Members = []string{}
	}
	c.UsersUnreadCountInfo = make(map[string]int, len(room.UsersUnreadCountInfo))
	for k, v := range room.UsersUnreadCountInfo {
		c.UsersUnreadCountInfo[k] = v
	}
	if room.LatestMessage != nil {
		lm := *room.LatestMessage
		c.LatestMessage = &lm
	}
	return &c
}

func mustMarshal(v interface{}) domain.RawDocument {
	raw, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func timestampOf(raw domain.RawDocument) time.Time {
	v, err := bson.Raw(raw).LookupErr("timestamp")
	if err != nil {
		return time.Time{}
	}
	if dt, ok := v.DateTimeOK(); ok {
		return time.UnixMilli(dt)
	}
	return time.Time{}
}
