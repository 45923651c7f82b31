package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/internal/chat/repository"
	"trackus_chat/pkg/logger"
	"trackus_chat/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errRoomNotEntered = errors.New("no room entered")

// HandlerDeps collaborators shared by every websocket connection
type HandlerDeps struct {
	Rooms       repository.RoomRepository
	Messages    repository.MessageRepository
	Profiles    repository.ProfileRepository
	Push        repository.PushDispatcher
	Attachments repository.AttachmentRepository

	// BadgeFor returns the badge sink of one connected member, optional
	BadgeFor func(memberID string) BadgeSink

	CascadeDelete bool
	Location      *time.Location
	PingInterval  time.Duration
}

// ChatWebsocketHandler bridges the chat core to websocket clients
type ChatWebsocketHandler struct {
	deps HandlerDeps
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(deps HandlerDeps) *ChatWebsocketHandler {
	if deps.PingInterval <= 0 {
		deps.PingInterval = 10 * time.Minute
	}
	return &ChatWebsocketHandler{deps: deps}
}

// chatConn state of one connected member: its directory and the entered room
type chatConn struct {
	h           *ChatWebsocketHandler
	memberID    string
	accessToken string
	send        func(domain.WSResponse)
	dir         *Directory

	mu          sync.Mutex
	session     *Session
	stopSession func()
}

// open subscribes the member's directory and streams rooms_updated through send
func (h *ChatWebsocketHandler) open(ctx context.Context, memberID, accessToken string, send func(domain.WSResponse)) (*chatConn, error) {
	opts := DirectoryOptions{
		Messages:      h.deps.Messages,
		CascadeDelete: h.deps.CascadeDelete,
	}
	if h.deps.BadgeFor != nil {
		opts.Badge = h.deps.BadgeFor(memberID)
	}
	dir := NewDirectory(h.deps.Rooms, h.deps.Profiles, opts)
	if err := dir.Subscribe(ctx, memberID); err != nil {
		return nil, err
	}

	c := &chatConn{h: h, memberID: memberID, accessToken: accessToken, send: send, dir: dir}
	rooms, cancel := dir.Watch()
	go func() {
		defer cancel()
		for list := range rooms {
			total := totalUnread(list, memberID)
			send(domain.WSResponse{
				Action:  string(domain.RoomsUpdated),
				Success: true,
				Payload: map[string]interface{}{
					"rooms":        list,
					"total_unread": total,
					"badge":        BadgeText(total),
				},
			})
		}
	}()
	return c, nil
}

func (c *chatConn) close() {
	c.closeSession()
	c.dir.Close()
}

func (c *chatConn) sessionDeps() SessionDeps {
	return SessionDeps{
		Rooms:         c.h.deps.Rooms,
		Messages:      c.h.deps.Messages,
		Push:          c.h.deps.Push,
		Attachments:   c.h.deps.Attachments,
		Directory:     c.dir,
		CurrentUserID: c.memberID,
		AccessToken:   c.accessToken,
		CascadeDelete: c.h.deps.CascadeDelete,
		Location:      c.h.deps.Location,
	}
}

// enter replaces the entered room and streams messages_updated for it
func (c *chatConn) enter(ctx context.Context, s *Session) error {
	c.closeSession()
	if err := s.SubscribeMessages(ctx); err != nil {
		s.Close()
		return err
	}

	groups, cancel := s.Watch()
	roomID := s.RoomID()
	go func() {
		defer cancel()
		for list := range groups {
			c.send(domain.WSResponse{
				Action:  string(domain.MessagesUpdated),
				Success: true,
				Payload: map[string]interface{}{
					"room_id":  roomID,
					"messages": list,
				},
			})
		}
	}()

	c.mu.Lock()
	c.session = s
	c.stopSession = func() {
		cancel()
		s.Close()
	}
	c.mu.Unlock()
	return nil
}

func (c *chatConn) closeSession() {
	c.mu.Lock()
	stop := c.stopSession
	c.session, c.stopSession = nil, nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *chatConn) current(roomID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || (roomID != "" && c.session.RoomID() != roomID) {
		return nil, errRoomNotEntered
	}
	return c.session, nil
}

// joined room must be in the member's directory; other rooms look missing
func (c *chatConn) joined(roomID string) error {
	if room, ok := c.dir.Room(roomID); ok && room.HasMember(c.memberID) {
		return nil
	}
	return domain.ErrRoomNotFound
}

func (c *chatConn) member(uid string) domain.Member {
	if m, ok := c.dir.Member(uid); ok {
		return m
	}
	return domain.Member{UID: uid}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	memberID, _ := conn.Locals(middlewares.TokenMemberID).(string)
	accessToken, _ := conn.Locals(middlewares.TokenRaw).(string)
	log := logger.Log.With(zap.String("userID", memberID))
	log.Info("websocket connected")

	ctxClose, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(h.deps.PingInterval)

	// websocket.Conn 不支援併發寫入
	var writeMu sync.Mutex
	write := func(mt int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(mt, data)
	}
	send := func(resp domain.WSResponse) {
		b, err := json.Marshal(resp)
		if err != nil {
			log.Error("marshal websocket response", zap.String("action", resp.Action), zap.Error(err))
			return
		}
		if err := write(websocket.TextMessage, b); err != nil {
			log.Warn("write message error", zap.Error(err))
		}
	}

	c, err := h.open(ctxClose, memberID, accessToken, send)
	if err != nil {
		log.Error("open chat directory failed", zap.Error(err))
		send(domain.WSResponse{Action: "error", Error: err.Error()})
		ticker.Stop()
		cancel()
		conn.Close()
		return
	}

	defer func() {
		ticker.Stop()
		cancel()
		c.close()
		log.Info("websocket close")
		conn.Close()
	}()

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		log.Debug("received pong")
		return nil
	})

	// 定期發送 Ping
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := write(websocket.PingMessage, []byte("ping")); err != nil {
					log.Warn("ping error", zap.Error(err))
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Info("connection closed")
			} else {
				//直接斷線 1006
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			send(domain.WSResponse{Action: "error", Error: "unsupported message type"})
			continue
		}

		var req domain.WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			send(domain.WSResponse{Action: "error", Error: "invalid json"})
			continue
		}
		send(c.handle(ctxClose, req))
	}
}

// handle runs one client action and builds its reply
func (c *chatConn) handle(ctx context.Context, req domain.WSRequest) domain.WSResponse {
	resp := domain.WSResponse{Action: req.Action, Payload: map[string]interface{}{}}

	var err error
	switch domain.Action(req.Action) {
	//建立群組
	case domain.CreateRoom:
		roomID := req.RoomID
		if roomID == "" {
			roomID = uuid.New().String()
		}
		err = c.dir.CreateGroupRoom(ctx, roomID, req.RoomName, c.memberID)
		resp.Payload["room_id"] = roomID

	//加入社群
	case domain.JoinRoom:
		err = c.dir.JoinGroupRoom(ctx, req.RoomID, c.memberID)
		var partial *domain.PartialJoinError
		if errors.As(err, &partial) {
			resp.Payload["warning"] = err.Error()
			err = nil
		}

	//離開社群
	case domain.ExitRoom:
		if err = c.joined(req.RoomID); err != nil {
			break
		}
		err = c.dir.LeaveRoom(ctx, req.RoomID, c.memberID)

	case domain.DeleteRoom:
		if err = c.joined(req.RoomID); err != nil {
			break
		}
		err = c.dir.DeleteRoom(ctx, req.RoomID)

	//進入聊天室 or 社群
	case domain.EnterRoom:
		var s *Session
		if s, err = AttachSession(c.sessionDeps(), req.RoomID); err != nil {
			break
		}
		if err = c.enter(ctx, s); err != nil {
			break
		}
		err = s.ResetUnreadCounter(ctx, c.memberID)
		resp.Payload["room_id"] = s.RoomID()

	//單人聊天室
	case domain.OpenDirect:
		var s *Session
		s, err = ResolveDirectSession(ctx, c.sessionDeps(), c.member(c.memberID), c.member(req.OpponentID))
		if err != nil {
			break
		}
		if err = c.enter(ctx, s); err != nil {
			break
		}
		if !s.IsPending() {
			err = s.ResetUnreadCounter(ctx, c.memberID)
		}
		resp.Payload["room_id"] = s.RoomID()
		resp.Payload["pending"] = s.IsPending()

	//離開聊天室 or 社群
	case domain.LeaveRoom:
		c.closeSession()
		resp.Payload["leave_room"] = req.RoomID

	//傳送資料
	case domain.SendMessage:
		var s *Session
		if s, err = c.current(req.RoomID); err != nil {
			break
		}
		var img *domain.Image
		if len(req.Image) > 0 {
			img = &domain.Image{Data: req.Image, ContentType: req.ContentType}
		}
		var msgID string
		msgID, err = s.SendMessage(ctx, req.Content, img, c.memberID)
		var partial *domain.PartialSendError
		switch {
		case errors.As(err, &partial):
			resp.Payload["warning"] = err.Error()
			err = nil
		case err == nil && msgID == "":
			err = domain.ErrEmptyMessage
		}
		resp.Payload["message_id"] = msgID
		resp.Payload["room_id"] = s.RoomID()

	//讀取訊息 未讀歸零
	case domain.ReadMessage:
		if s, cerr := c.current(req.RoomID); cerr == nil {
			err = s.ResetUnreadCounter(ctx, c.memberID)
			break
		}
		if err = c.joined(req.RoomID); err != nil {
			break
		}
		err = NewSession(c.sessionDeps(), req.RoomID, nil).ResetUnreadCounter(ctx, c.memberID)

	//所有未讀數
	case domain.GetUnread:
		total := 0
		for _, room := range c.dir.Rooms() {
			n := room.UnreadFor(c.memberID)
			resp.Payload[room.ID] = n
			total += n
		}
		resp.Payload["total_unread"] = total
		resp.Payload["badge"] = BadgeText(total)

	default:
		err = errors.New("unknown action " + req.Action)
	}

	if err != nil {
		logger.Log.Warn("websocket action failed", zap.String("MemberID", c.memberID), zap.String("Action", req.Action), zap.Error(err))
		resp.Error = err.Error()
		return resp
	}
	resp.Success = true
	return resp
}
