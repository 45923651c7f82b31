package router

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"trackus_chat/internal/chat/app"
	"trackus_chat/internal/chat/domain"
	"trackus_chat/internal/chat/repository/memory"
	"trackus_chat/pkg/logger"
	"trackus_chat/pkg/token"

	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (string, *memory.Store) {
	t.Helper()
	logger.SetNewNop()

	store := memory.New()
	store.PutUser(domain.UserDocument{ID: "runner-1", Username: "runner"})

	r := fiber.New(fiber.Config{DisableStartupMessage: true})
	RegisterRoutes(r, app.NewChatWebsocketHandler(app.HandlerDeps{
		Rooms:    store,
		Messages: store,
		Profiles: store,
		Location: time.UTC,
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = r.Listener(ln) }()
	t.Cleanup(func() { _ = r.Shutdown() })
	return ln.Addr().String(), store
}

// readAction 讀到指定 action 為止
func readAction(t *testing.T, conn *gws.Conn, action domain.Action) domain.WSResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var resp domain.WSResponse
		require.NoError(t, json.Unmarshal(data, &resp))
		if resp.Action == string(action) {
			return resp
		}
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	addr, _ := startServer(t)

	_, resp, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gws.DefaultDialer.Dial("ws://"+addr+"/ws?auth=not-a-jwt", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_CreateRoomAndSend(t *testing.T) {
	addr, store := startServer(t)
	tok, err := token.GenerateJWT("runner-1", string(token.RoleMember), "test")
	require.NoError(t, err)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws?auth="+tok, nil)
	require.NoError(t, err)
	defer conn.Close()

	rooms := readAction(t, conn, domain.RoomsUpdated)
	assert.True(t, rooms.Success)

	require.NoError(t, conn.WriteJSON(domain.WSRequest{Action: string(domain.CreateRoom), RoomID: "course-1", RoomName: "Morning 5K"}))
	created := readAction(t, conn, domain.CreateRoom)
	require.True(t, created.Success, created.Error)

	require.Eventually(t, func() bool {
		_, ok := store.Room("course-1")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	// the directory may not have the new room yet, retry enter_room
	var entered domain.WSResponse
	for i := 0; i < 50; i++ {
		require.NoError(t, conn.WriteJSON(domain.WSRequest{Action: string(domain.EnterRoom), RoomID: "course-1"}))
		entered = readAction(t, conn, domain.EnterRoom)
		if entered.Success {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, entered.Success, entered.Error)

	require.NoError(t, conn.WriteJSON(domain.WSRequest{Action: string(domain.SendMessage), Content: "stretching first"}))
	sent := readAction(t, conn, domain.SendMessage)
	require.True(t, sent.Success, sent.Error)
	assert.Equal(t, 1, store.MessageCount("course-1"))

	room, _ := store.Room("course-1")
	require.NotNil(t, room.LatestMessage)
	assert.Equal(t, "stretching first", room.LatestMessage.Text)
}
