package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/internal/chat/repository"
	errprocess "trackus_chat/pkg/err"
	"trackus_chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionDeps collaborators and identity of a Session
type SessionDeps struct {
	Rooms       repository.RoomRepository
	Messages    repository.MessageRepository
	Push        repository.PushDispatcher
	Attachments repository.AttachmentRepository
	// Directory optional, supplies the cached room and the shared member table
	Directory RoomSource

	CurrentUserID string
	AccessToken   string
	CascadeDelete bool

	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

func (d *SessionDeps) defaults() {
	if d.Push == nil {
		d.Push = repository.NoopDispatcher{}
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.New().String() }
	}
}

// Session one open chat room: membership, message history and unread counters
type Session struct {
	deps   SessionDeps
	roomID string

	// sendMu serialises sends so a pending room is created once
	sendMu sync.Mutex

	mu        sync.Mutex
	members   map[string]domain.Member
	order     []string
	pending   bool
	closed    bool
	parent    context.Context
	subCancel context.CancelFunc
	groups    []domain.MessageDisplayGroup
	out       *broadcaster[[]domain.MessageDisplayGroup]
}

// NewSession attach to an existing room with pre-resolved members
func NewSession(deps SessionDeps, roomID string, members []domain.Member) *Session {
	deps.defaults()
	s := &Session{
		deps:    deps,
		roomID:  roomID,
		members: make(map[string]domain.Member, len(members)),
		groups:  []domain.MessageDisplayGroup{},
		out:     newBroadcaster[[]domain.MessageDisplayGroup](),
	}
	for _, m := range members {
		if _, ok := s.members[m.UID]; !ok {
			s.order = append(s.order, m.UID)
		}
		s.members[m.UID] = m
	}
	return s
}

// AttachSession attach by room id only; members come from the directory's member table
func AttachSession(deps SessionDeps, roomID string) (*Session, error) {
	if deps.Directory == nil {
		return nil, domain.ErrNotSubscribed
	}
	room, ok := deps.Directory.Room(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	members := make([]domain.Member, 0, len(room.Members))
	for _, uid := range room.Members {
		if m, ok := deps.Directory.Member(uid); ok {
			members = append(members, m)
			continue
		}
		members = append(members, domain.Member{UID: uid})
	}
	return NewSession(deps, roomID, members), nil
}

// ResolveDirectSession attach to the direct room of me and other, or prepare a
// pending one that is created on the first send
func ResolveDirectSession(ctx context.Context, deps SessionDeps, me, other domain.Member) (*Session, error) {
	if me.UID == "" || other.UID == "" || me.UID == other.UID {
		return nil, errprocess.Set("direct room needs two distinct members", zap.String("me", me.UID), zap.String("other", other.UID))
	}
	docs, err := deps.Rooms.FindDirectRooms(ctx, me.UID, other.UID)
	if err != nil {
		return nil, domain.NewStoreError("find direct room", "", err)
	}

	members := []domain.Member{me, other}
	for _, raw := range docs {
		var doc domain.RoomDocument
		if err := raw.Decode(&doc); err != nil || doc.ID == "" {
			logger.Log.Warn("skip malformed direct room", zap.String("roomID", raw.ID()), zap.Error(err))
			continue
		}
		return NewSession(deps, doc.ID, members), nil
	}

	s := NewSession(deps, "", members)
	s.roomID = s.deps.NewID()
	s.pending = true
	logger.Log.Debug("direct room pending creation", zap.String("roomID", s.roomID), zap.String("me", me.UID), zap.String("other", other.UID))
	return s, nil
}

// RoomID id of the room, generated locally while pending
func (s *Session) RoomID() string {
	return s.roomID
}

// IsPending the room document does not exist yet
func (s *Session) IsPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Room the directory's cached room, or a local view while the directory has none
func (s *Session) Room() domain.ChatRoom {
	if s.deps.Directory != nil {
		if room, ok := s.deps.Directory.Room(s.roomID); ok {
			return room
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unread := make(map[string]int, len(s.order))
	for _, uid := range s.order {
		unread[uid] = 0
	}
	return domain.ChatRoom{
		ID:             s.roomID,
		Members:        slices.Clone(s.order),
		NonSelfMembers: domain.NonSelf(s.order, s.deps.CurrentUserID),
		UnreadCounts:   unread,
	}
}

// SubscribeMessages starts the live message query. While pending, the query starts
// after the room is created.
func (s *Session) SubscribeMessages(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.parent = ctx
	if s.pending {
		return nil
	}
	return s.startLocked()
}

func (s *Session) startLocked() error {
	if s.subCancel != nil {
		return nil
	}
	parent := s.parent
	if parent == nil {
		parent = context.Background()
	}
	subCtx, cancel := context.WithCancel(parent)
	err := s.deps.Messages.WatchRoomMessages(subCtx, s.roomID, func(docs []domain.RawDocument) {
		s.onMessages(subCtx, docs)
	})
	if err != nil {
		cancel()
		return domain.NewStoreError("watch messages", s.roomID, err)
	}
	s.subCancel = cancel
	return nil
}

// onMessages decode, filter, sort and group under the session lock
func (s *Session) onMessages(ctx context.Context, docs []domain.RawDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	msgs := make([]domain.Message, 0, len(docs))
	for _, raw := range docs {
		var doc domain.MessageDocument
		if err := raw.Decode(&doc); err != nil {
			logger.Log.Warn("drop malformed message", zap.String("roomID", s.roomID), zap.Error(err))
			continue
		}
		if doc.ID == "" || doc.Timestamp == nil {
			logger.Log.Debug("drop incomplete message", zap.String("roomID", s.roomID), zap.String("messageID", doc.ID))
			continue
		}
		sender, ok := s.resolveLocked(doc.UserID)
		if !ok {
			logger.Log.Debug("drop message of unknown sender", zap.String("roomID", s.roomID), zap.String("senderID", doc.UserID))
			continue
		}
		msg := domain.Message{
			ID:        doc.ID,
			Timestamp: *doc.Timestamp,
			SenderID:  doc.UserID,
			Sender:    sender,
			Text:      doc.Text,
		}
		if doc.ImageURL != nil {
			msg.ImageURL = *doc.ImageURL
		}
		msgs = append(msgs, msg)
	}

	slices.SortStableFunc(msgs, func(a, b domain.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	s.groups = domain.GroupMessages(msgs, s.deps.Location)
	s.out.publish(s.groups, cloneGroups)
}

func (s *Session) resolveLocked(uid string) (domain.Member, bool) {
	if m, ok := s.members[uid]; ok {
		return m, true
	}
	if s.deps.Directory != nil {
		return s.deps.Directory.Member(uid)
	}
	return domain.Member{}, false
}

// Messages current display list
func (s *Session) Messages() []domain.MessageDisplayGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.groups)
}

// Watch delivers the display list now and after every change until cancel is called
func (s *Session) Watch() (<-chan []domain.MessageDisplayGroup, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.subscribe(slices.Clone(s.groups))
}

// Close cancels the message subscription
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.subCancel != nil {
		s.subCancel()
		s.subCancel = nil
	}
	s.out.closeAll()
}

// SendMessage writes a message and updates counters, preview and push. Returns ""
// without error when there is neither text nor image. Failures after the
// message write come back as *domain.PartialSendError.
func (s *Session) SendMessage(ctx context.Context, text string, image *domain.Image, senderID string) (string, error) {
	hasImage := image != nil && len(image.Data) > 0
	if text == "" && !hasImage {
		return "", nil
	}
	if hasImage && s.deps.Attachments == nil {
		return "", domain.ErrAttachmentsDisabled
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.ensureRoom(ctx); err != nil {
		return "", err
	}

	msgID := s.deps.NewID()
	ts := s.deps.Now().UTC().Truncate(time.Millisecond)
	doc := &domain.MessageDocument{
		ID:        msgID,
		RoomID:    s.roomID,
		UserID:    senderID,
		Text:      text,
		Timestamp: &ts,
	}
	if hasImage {
		url, err := s.deps.Attachments.UploadImage(ctx, s.roomID, *image)
		if err != nil {
			return "", domain.NewStoreError("upload image", s.roomID, err)
		}
		doc.ImageURL = &url
	}

	if err := s.deps.Messages.InsertMessage(ctx, doc); err != nil {
		return "", domain.NewStoreError("insert message", s.roomID, err)
	}

	var errs []error
	if err := s.BumpUnreadCounters(ctx, senderID); err != nil {
		errs = append(errs, err)
	}
	latest := domain.LatestMessageDocument{Text: text, Timestamp: ts}
	if err := s.deps.Rooms.SetLatestMessage(ctx, s.roomID, latest); err != nil {
		errs = append(errs, domain.NewStoreError("set latest message", s.roomID, err))
	}

	s.dispatchPush(ctx, senderID, text, hasImage)

	if len(errs) > 0 {
		logger.Log.Warn("message sent with errors", zap.String("roomID", s.roomID), zap.String("messageID", msgID), zap.Error(errors.Join(errs...)))
		return msgID, &domain.PartialSendError{MessageID: msgID, Err: errors.Join(errs...)}
	}
	return msgID, nil
}

// ensureRoom creates the pending direct room and starts its message query
func (s *Session) ensureRoom(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if !s.pending {
		return nil
	}

	doc := domain.NewRoomDocument(s.roomID, "", false, slices.Clone(s.order))
	if err := s.deps.Rooms.CreateRoom(ctx, doc); err != nil {
		return domain.NewStoreError("create room", s.roomID, err)
	}
	s.pending = false
	logger.Log.Info("direct room created", zap.String("roomID", s.roomID))

	if err := s.startLocked(); err != nil {
		logger.Log.Error("start message subscription failed", zap.String("roomID", s.roomID), zap.Error(err))
	}
	return nil
}

func (s *Session) dispatchPush(ctx context.Context, senderID, text string, hasImage bool) {
	room := s.Room()
	body := text
	if body == "" && hasImage {
		body = domain.ImagePlaceholderText
	}

	s.mu.Lock()
	recipients := make([]domain.Member, 0, len(room.Members))
	for _, uid := range room.Members {
		if uid == senderID {
			continue
		}
		m, ok := s.resolveLocked(uid)
		if !ok {
			m = domain.Member{UID: uid}
		}
		recipients = append(recipients, m)
	}
	s.mu.Unlock()

	req := domain.PushRequest{
		AccessToken: s.deps.AccessToken,
		RoomID:      s.roomID,
		RoomTitle:   room.Title,
		SenderID:    senderID,
		Recipients:  recipients,
		Body:        body,
	}
	pushCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.deps.Push.Dispatch(pushCtx, req); err != nil {
			logger.Log.Warn("push dispatch failed", zap.String("roomID", req.RoomID), zap.Error(err))
		}
	}()
}

// ResetUnreadCounter zero userID's counter, called when the room is opened
func (s *Session) ResetUnreadCounter(ctx context.Context, userID string) error {
	if s.IsPending() {
		return nil
	}
	return domain.NewStoreError("reset unread", s.roomID, s.deps.Rooms.SetUnreadCount(ctx, s.roomID, userID, 0))
}

// BumpUnreadCounters +1 for every counter but the sender's, which becomes 0.
// Increments are applied by the store so concurrent senders never lose one.
func (s *Session) BumpUnreadCounters(ctx context.Context, senderID string) error {
	room := s.Room()
	keys := slices.Clone(room.Members)
	for uid := range room.UnreadCounts {
		if !slices.Contains(keys, uid) {
			keys = append(keys, uid)
		}
	}
	slices.Sort(keys)
	return domain.NewStoreError("bump unread", s.roomID, s.deps.Rooms.BumpUnreadCounts(ctx, s.roomID, senderID, keys))
}

// JoinRoom add userID to this room
func (s *Session) JoinRoom(ctx context.Context, userID string) error {
	return joinRoom(ctx, s.deps.Rooms.AddMember, s.deps.Rooms, s.roomID, userID)
}

// LeaveRoom remove userID from this room; nothing to do while pending
func (s *Session) LeaveRoom(ctx context.Context, userID string) error {
	if s.IsPending() {
		return nil
	}
	return domain.NewStoreError("leave room", s.roomID, s.deps.Rooms.RemoveMember(ctx, s.roomID, userID))
}

// DeleteRoom delete this room; nothing to do while pending
func (s *Session) DeleteRoom(ctx context.Context) error {
	if s.IsPending() {
		return nil
	}
	return deleteRoom(ctx, s.deps.Rooms, s.deps.Messages, s.deps.CascadeDelete, s.roomID)
}

func cloneGroups(groups []domain.MessageDisplayGroup) []domain.MessageDisplayGroup {
	return slices.Clone(groups)
}
