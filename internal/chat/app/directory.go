package app

import (
	"context"
	"maps"
	"sync"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/internal/chat/repository"
	"trackus_chat/pkg/logger"

	"go.uber.org/zap"
)

// RoomSource read access to the directory's cached rooms and member table
type RoomSource interface {
	Room(roomID string) (domain.ChatRoom, bool)
	Member(uid string) (domain.Member, bool)
}

// DirectoryOptions optional collaborators of a Directory
type DirectoryOptions struct {
	// Messages is needed only when CascadeDelete is set
	Messages      repository.MessageRepository
	CascadeDelete bool
	Badge         BadgeSink
}

// Directory live list of the rooms of one user, plus the member profiles of those rooms
type Directory struct {
	rooms    repository.RoomRepository
	profiles repository.ProfileRepository
	messages repository.MessageRepository
	badge    BadgeSink
	cascade  bool

	mu          sync.Mutex
	userID      string
	cancel      context.CancelFunc
	remote      []domain.ChatRoom // last decoded snapshot
	published   []domain.ChatRoom
	members     map[string]domain.Member
	departed    map[string]struct{} // profile gone, hidden from room views
	profileSubs map[string]*profileSub
	closed      bool

	out *broadcaster[[]domain.ChatRoom]
}

var _ RoomSource = (*Directory)(nil)

// profileSub one standing profile subscription, started outside the directory lock
type profileSub struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDirectory create Directory
func NewDirectory(rooms repository.RoomRepository, profiles repository.ProfileRepository, opts DirectoryOptions) *Directory {
	return &Directory{
		rooms:       rooms,
		profiles:    profiles,
		messages:    opts.Messages,
		badge:       opts.Badge,
		cascade:     opts.CascadeDelete,
		published:   []domain.ChatRoom{},
		members:     make(map[string]domain.Member),
		departed:    make(map[string]struct{}),
		profileSubs: make(map[string]*profileSub),
		out:         newBroadcaster[[]domain.ChatRoom](),
	}
}

// Subscribe starts the live room query for userID. A previous subscription is
// replaced and its watchers receive an empty list first.
func (d *Directory) Subscribe(ctx context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.ErrDirectoryClosed
	}

	replaced := d.cancel != nil
	d.stopLocked()
	if replaced {
		d.publishLocked()
	}

	subCtx, cancel := context.WithCancel(ctx)
	d.userID = userID
	d.cancel = cancel

	err := d.rooms.WatchMemberRooms(subCtx, userID, func(docs []domain.RawDocument) {
		d.reconcile(subCtx, userID, docs)
	})
	if err != nil {
		cancel()
		d.cancel = nil
		return domain.NewStoreError("watch rooms", "", err)
	}
	logger.Log.Info("chat directory subscribed", zap.String("userID", userID))
	return nil
}

// Close cancels the room subscription and every profile subscription
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stopLocked()
	d.out.closeAll()
}

func (d *Directory) stopLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	for uid, sub := range d.profileSubs {
		sub.cancel()
		delete(d.profileSubs, uid)
	}
	d.remote = nil
	d.published = []domain.ChatRoom{}
	clear(d.members)
	clear(d.departed)
}

// reconcile 每次 snapshot 都完整取代目前的聊天室列表
func (d *Directory) reconcile(ctx context.Context, userID string, docs []domain.RawDocument) {
	d.mu.Lock()
	if ctx.Err() != nil {
		d.mu.Unlock()
		return
	}

	rooms := make([]domain.ChatRoom, 0, len(docs))
	for _, raw := range docs {
		var doc domain.RoomDocument
		if err := raw.Decode(&doc); err != nil {
			logger.Log.Warn("drop malformed room", zap.String("roomID", raw.ID()), zap.Error(err))
			continue
		}
		if doc.ID == "" {
			logger.Log.Warn("drop room without id")
			continue
		}
		rooms = append(rooms, doc.ToChatRoom(userID))
	}
	d.remote = rooms

	started := d.syncProfilesLocked(ctx)
	d.publishLocked()
	d.mu.Unlock()

	// WatchProfile blocks on the store, readers must not wait for it
	for uid, sub := range started {
		d.startProfile(uid, sub)
	}
}

// syncProfilesLocked keeps one profile subscription per member id across all
// rooms. It returns the subscriptions to start once the lock is released.
func (d *Directory) syncProfilesLocked(ctx context.Context) map[string]*profileSub {
	wanted := make(map[string]struct{})
	for _, room := range d.remote {
		for _, uid := range room.Members {
			wanted[uid] = struct{}{}
		}
	}

	for uid, sub := range d.profileSubs {
		if _, ok := wanted[uid]; !ok {
			sub.cancel()
			delete(d.profileSubs, uid)
			delete(d.members, uid)
			delete(d.departed, uid)
		}
	}

	started := make(map[string]*profileSub)
	for uid := range wanted {
		if _, ok := d.profileSubs[uid]; ok {
			continue
		}
		subCtx, cancel := context.WithCancel(ctx)
		sub := &profileSub{ctx: subCtx, cancel: cancel}
		d.profileSubs[uid] = sub
		started[uid] = sub
	}
	return started
}

func (d *Directory) startProfile(uid string, sub *profileSub) {
	err := d.profiles.WatchProfile(sub.ctx, uid, func(event domain.ProfileEvent) {
		d.onProfile(sub.ctx, event)
	})
	if err == nil {
		return
	}
	sub.cancel()
	logger.Log.Error("watch profile failed", zap.String("uid", uid), zap.Error(err))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.profileSubs[uid] == sub {
		delete(d.profileSubs, uid)
	}
}

func (d *Directory) onProfile(ctx context.Context, event domain.ProfileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	if event.Found {
		d.members[event.UID] = event.Member
		delete(d.departed, event.UID)
	} else {
		logger.Log.Info("member profile gone, hiding from rooms", zap.String("uid", event.UID))
		delete(d.members, event.UID)
		d.departed[event.UID] = struct{}{}
	}
	d.publishLocked()
}

// publishLocked applies soft removals, sorts and hands copies to watchers
func (d *Directory) publishLocked() {
	view := make([]domain.ChatRoom, 0, len(d.remote))
	for _, room := range d.remote {
		r := room.Clone()
		for uid := range d.departed {
			if r.HasMember(uid) {
				r = r.WithoutMember(uid)
			}
		}
		view = append(view, r)
	}
	domain.SortRooms(view)
	d.published = view

	if d.badge != nil {
		total := totalUnread(view, d.userID)
		d.badge.SetBadge(BadgeText(total), total)
	}
	d.out.publish(view, cloneRooms)
}

// Rooms current room list
func (d *Directory) Rooms() []domain.ChatRoom {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneRooms(d.published)
}

// Room cached room by id
func (d *Directory) Room(roomID string) (domain.ChatRoom, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.published {
		if r.ID == roomID {
			return r.Clone(), true
		}
	}
	return domain.ChatRoom{}, false
}

// Member cached profile by uid
func (d *Directory) Member(uid string) (domain.Member, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[uid]
	return m, ok
}

// Members copy of the member table
func (d *Directory) Members() map[string]domain.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.members)
}

// CurrentUserID user of the active subscription, "" before Subscribe
func (d *Directory) CurrentUserID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userID
}

// TotalUnread sum of userID's unread counters over all rooms
func (d *Directory) TotalUnread(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return totalUnread(d.published, userID)
}

// UnreadBadge badge text of the current user
func (d *Directory) UnreadBadge() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return BadgeText(totalUnread(d.published, d.userID))
}

// Watch delivers the room list now and after every change until cancel is called
func (d *Directory) Watch() (<-chan []domain.ChatRoom, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.subscribe(cloneRooms(d.published))
}

// CreateGroupRoom create group room owned by ownerID
func (d *Directory) CreateGroupRoom(ctx context.Context, roomID, title, ownerID string) error {
	doc := domain.NewRoomDocument(roomID, title, true, []string{ownerID})
	return domain.NewStoreError("create room", roomID, d.rooms.CreateRoom(ctx, doc))
}

// JoinRoom add member then zero its counter; two writes, the second may fail alone
func (d *Directory) JoinRoom(ctx context.Context, roomID, userID string) error {
	return joinRoom(ctx, d.rooms.AddMember, d.rooms, roomID, userID)
}

// JoinGroupRoom JoinRoom restricted to group rooms, so a third member cannot
// enter a direct room by id
func (d *Directory) JoinGroupRoom(ctx context.Context, roomID, userID string) error {
	return joinRoom(ctx, d.rooms.AddGroupMember, d.rooms, roomID, userID)
}

// LeaveRoom remove member
func (d *Directory) LeaveRoom(ctx context.Context, roomID, userID string) error {
	return domain.NewStoreError("leave room", roomID, d.rooms.RemoveMember(ctx, roomID, userID))
}

// DeleteRoom delete room document, and its messages when cascade delete is on
func (d *Directory) DeleteRoom(ctx context.Context, roomID string) error {
	return deleteRoom(ctx, d.rooms, d.messages, d.cascade, roomID)
}

func joinRoom(ctx context.Context, add func(ctx context.Context, roomID, userID string) error, rooms repository.RoomRepository, roomID, userID string) error {
	if err := add(ctx, roomID, userID); err != nil {
		return domain.NewStoreError("join room", roomID, err)
	}
	if err := rooms.SetUnreadCount(ctx, roomID, userID, 0); err != nil {
		logger.Log.Warn("joined without unread counter", zap.String("roomID", roomID), zap.String("userID", userID), zap.Error(err))
		return &domain.PartialJoinError{RoomID: roomID, UserID: userID, Err: err}
	}
	return nil
}

func deleteRoom(ctx context.Context, rooms repository.RoomRepository, messages repository.MessageRepository, cascade bool, roomID string) error {
	if err := rooms.DeleteRoom(ctx, roomID); err != nil {
		return domain.NewStoreError("delete room", roomID, err)
	}
	if cascade && messages != nil {
		return domain.NewStoreError("delete messages", roomID, messages.DeleteRoomMessages(ctx, roomID))
	}
	return nil
}

func totalUnread(rooms []domain.ChatRoom, userID string) int {
	total := 0
	for _, r := range rooms {
		total += r.UnreadFor(userID)
	}
	return total
}

func cloneRooms(rooms []domain.ChatRoom) []domain.ChatRoom {
	out := make([]domain.ChatRoom, len(rooms))
	for i, r := range rooms {
		out[i] = r.Clone()
	}
	return out
}
