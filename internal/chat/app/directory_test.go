package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/internal/chat/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func putUsers(store *memory.Store, uids ...string) {
	for _, uid := range uids {
		store.PutUser(domain.UserDocument{ID: uid, Username: "name-" + uid})
	}
}

func createRoom(t *testing.T, store *memory.Store, id, title string, group bool, members ...string) {
	t.Helper()
	require.NoError(t, store.CreateRoom(context.Background(), domain.NewRoomDocument(id, title, group, members)))
}

func roomIDs(rooms []domain.ChatRoom) []string {
	out := make([]string, len(rooms))
	for i, r := range rooms {
		out[i] = r.ID
	}
	return out
}

func newDirectory(t *testing.T, store *memory.Store, userID string, opts DirectoryOptions) *Directory {
	t.Helper()
	dir := NewDirectory(store, store, opts)
	require.NoError(t, dir.Subscribe(context.Background(), userID))
	t.Cleanup(dir.Close)
	return dir
}

// 測試 reconcile: 排序並丟棄壞掉的文件
func TestDirectory_ReconcileSortsAndDropsMalformed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putUsers(store, "A", "B")

	createRoom(t, store, "r-old", "Zulu", false, "A", "B")
	createRoom(t, store, "r-new", "Mike", true, "A")
	createRoom(t, store, "r-none", "Alpha", true, "A")
	createRoom(t, store, "r-other", "Other", true, "B")
	t1 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLatestMessage(ctx, "r-old", domain.LatestMessageDocument{Text: "hi", Timestamp: t1}))
	require.NoError(t, store.SetLatestMessage(ctx, "r-new", domain.LatestMessageDocument{Text: "", Timestamp: t1.Add(time.Hour)}))
	store.InjectMalformedRoom("r-bad", []string{"A"}, bson.M{"members": 42, "title": "bad"})

	dir := newDirectory(t, store, "A", DirectoryOptions{})

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"r-new", "r-old", "r-none"}, roomIDs(dir.Rooms()))
	}, waitFor, tick)

	old, ok := dir.Room("r-old")
	require.True(t, ok)
	assert.Equal(t, []string{"B"}, old.NonSelfMembers)
	assert.Equal(t, "hi", old.LatestMessage.Text)

	img, ok := dir.Room("r-new")
	require.True(t, ok)
	assert.Equal(t, domain.ImagePlaceholderText, img.LatestMessage.Text)

	_, ok = dir.Room("r-other")
	assert.False(t, ok)
}

func TestDirectory_TotalUnreadAndBadge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putUsers(store, "A", "B")
	createRoom(t, store, "r1", "one", false, "A", "B")
	createRoom(t, store, "r2", "two", true, "A", "B")
	require.NoError(t, store.SetUnreadCount(ctx, "r1", "A", 3))
	require.NoError(t, store.SetUnreadCount(ctx, "r2", "A", 997))

	var (
		mu    sync.Mutex
		badge string
	)
	dir := newDirectory(t, store, "A", DirectoryOptions{Badge: BadgeFunc(func(text string, count int) {
		mu.Lock()
		defer mu.Unlock()
		badge = text
	})})

	assert.Eventually(t, func() bool { return dir.TotalUnread("A") == 1000 }, waitFor, tick)
	assert.Equal(t, "999+", dir.UnreadBadge())
	assert.Equal(t, 0, dir.TotalUnread("B"))

	require.NoError(t, store.SetUnreadCount(ctx, "r2", "A", 0))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return badge == "3"
	}, waitFor, tick)
}

func TestBadgeText(t *testing.T) {
	cases := map[int]string{
		-1:   "",
		0:    "",
		1:    "1",
		42:   "42",
		999:  "999",
		1000: "999+",
		5000: "999+",
	}
	for n, want := range cases {
		assert.Equal(t, want, BadgeText(n), "n=%d", n)
	}
}

// 成員資料消失: 只從本地 view 移除, 遠端 members 不變
func TestDirectory_ProfileRemovalIsLocal(t *testing.T) {
	store := memory.New()
	putUsers(store, "A", "B", "C")
	createRoom(t, store, "r1", "", false, "A", "B")
	createRoom(t, store, "r2", "group", true, "A", "B", "C")

	dir := newDirectory(t, store, "A", DirectoryOptions{})
	assert.Eventually(t, func() bool {
		_, ok := dir.Member("B")
		return ok && len(dir.Rooms()) == 2
	}, waitFor, tick)
	assert.Equal(t, "name-B", dir.Members()["B"].DisplayName)

	store.DeleteUser("B")
	assert.Eventually(t, func() bool {
		for _, r := range dir.Rooms() {
			if r.HasMember("B") {
				return false
			}
		}
		return true
	}, waitFor, tick)

	r2, _ := dir.Room("r2")
	assert.Equal(t, []string{"A", "C"}, r2.Members)
	assert.Equal(t, []string{"C"}, r2.NonSelfMembers)
	remote, _ := store.Room("r2")
	assert.Equal(t, []string{"A", "B", "C"}, remote.Members)

	// a later snapshot keeps the removal
	require.NoError(t, store.SetUnreadCount(context.Background(), "r2", "C", 1))
	assert.Eventually(t, func() bool {
		r, _ := dir.Room("r2")
		return r.UnreadFor("C") == 1 && !r.HasMember("B")
	}, waitFor, tick)

	putUsers(store, "B")
	assert.Eventually(t, func() bool {
		r, _ := dir.Room("r1")
		return r.HasMember("B")
	}, waitFor, tick)
}

func TestDirectory_CreateGroupRoom(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := NewDirectory(store, store, DirectoryOptions{})

	require.NoError(t, dir.CreateGroupRoom(ctx, "course-1", "Han River 10K", "A"))
	room, ok := store.Room("course-1")
	require.True(t, ok)
	assert.True(t, room.Group)
	assert.Equal(t, []string{"A"}, room.Members)
	assert.Equal(t, map[string]int{"A": 0}, room.UsersUnreadCountInfo)

	err := dir.CreateGroupRoom(ctx, "course-1", "again", "B")
	assert.ErrorIs(t, err, domain.ErrRoomExists)
	var storeErr *domain.StoreError
	assert.True(t, errors.As(err, &storeErr))
}

func TestDirectory_JoinLeave(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := NewDirectory(store, store, DirectoryOptions{})
	createRoom(t, store, "g1", "group", true, "A")

	require.NoError(t, dir.JoinRoom(ctx, "g1", "B"))
	require.NoError(t, dir.JoinRoom(ctx, "g1", "B"))
	room, _ := store.Room("g1")
	assert.Equal(t, []string{"A", "B"}, room.Members)
	assert.Equal(t, 0, room.UsersUnreadCountInfo["B"])

	require.NoError(t, dir.LeaveRoom(ctx, "g1", "B"))
	require.NoError(t, dir.LeaveRoom(ctx, "g1", "B"))
	room, _ = store.Room("g1")
	assert.Equal(t, []string{"A"}, room.Members)

	assert.ErrorIs(t, dir.JoinRoom(ctx, "missing", "B"), domain.ErrRoomNotFound)
}

// 加入成功但未讀歸零失敗: 回報 PartialJoinError, 讀取時視為 0
func TestDirectory_JoinPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	putUsers(store, "A", "B")
	createRoom(t, store, "g1", "group", true, "A")
	store.FailNext("SetUnreadCount", errors.New("unavailable"))

	dir := newDirectory(t, store, "B", DirectoryOptions{})
	err := dir.JoinRoom(ctx, "g1", "B")

	var partial *domain.PartialJoinError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, "B", partial.UserID)

	room, _ := store.Room("g1")
	assert.Equal(t, []string{"A", "B"}, room.Members)
	_, has := room.UsersUnreadCountInfo["B"]
	assert.False(t, has)

	assert.Eventually(t, func() bool {
		r, ok := dir.Room("g1")
		return ok && r.UnreadFor("B") == 0
	}, waitFor, tick)
	assert.Equal(t, 0, dir.TotalUnread("B"))
}

func TestDirectory_DeleteRoom(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for _, cascade := range []bool{false, true} {
		store := memory.New()
		createRoom(t, store, "r1", "", false, "A", "B")
		require.NoError(t, store.InsertMessage(ctx, &domain.MessageDocument{ID: "m1", RoomID: "r1", UserID: "A", Text: "hi", Timestamp: &now}))

		dir := NewDirectory(store, store, DirectoryOptions{Messages: store, CascadeDelete: cascade})
		require.NoError(t, dir.DeleteRoom(ctx, "r1"))

		_, ok := store.Room("r1")
		assert.False(t, ok)
		if cascade {
			assert.Equal(t, 0, store.MessageCount("r1"))
		} else {
			assert.Equal(t, 1, store.MessageCount("r1"), "messages are kept without cascade delete")
		}
	}
}

func TestDirectory_WatchAndClose(t *testing.T) {
	store := memory.New()
	putUsers(store, "A")
	dir := NewDirectory(store, store, DirectoryOptions{})
	require.NoError(t, dir.Subscribe(context.Background(), "A"))

	updates, cancel := dir.Watch()
	defer cancel()

	createRoom(t, store, "r1", "first", true, "A")
	assert.Eventually(t, func() bool {
		select {
		case rooms := <-updates:
			return len(rooms) == 1 && rooms[0].ID == "r1"
		default:
			return false
		}
	}, waitFor, tick)

	// room subscription + one profile subscription
	assert.Eventually(t, func() bool { return store.WatcherCount() == 2 }, waitFor, tick)
	dir.Close()
	assert.Eventually(t, func() bool { return store.WatcherCount() == 0 }, waitFor, tick)

	assert.Eventually(t, func() bool {
		select {
		case _, open := <-updates:
			return !open
		default:
			return false
		}
	}, waitFor, tick)
}

func TestDirectory_SubscribeError(t *testing.T) {
	store := memory.New()
	store.FailNext("WatchMemberRooms", errors.New("no stream"))
	dir := NewDirectory(store, store, DirectoryOptions{})

	var storeErr *domain.StoreError
	assert.True(t, errors.As(dir.Subscribe(context.Background(), "A"), &storeErr))
}

func TestDirectory_ResubscribeResetsWatchers(t *testing.T) {
	store := memory.New()
	putUsers(store, "A", "B")
	createRoom(t, store, "r1", "A only", true, "A")
	createRoom(t, store, "r2", "B only", true, "B")
	dir := newDirectory(t, store, "A", DirectoryOptions{})

	updates, cancel := dir.Watch()
	defer cancel()
	require.Eventually(t, func() bool {
		select {
		case rooms := <-updates:
			return assert.ObjectsAreEqual([]string{"r1"}, roomIDs(rooms))
		default:
			return false
		}
	}, waitFor, tick)

	require.NoError(t, dir.Subscribe(context.Background(), "B"))

	select {
	case rooms := <-updates:
		assert.NotContains(t, roomIDs(rooms), "r1")
	case <-time.After(waitFor):
		t.Fatal("watcher not notified on resubscribe")
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"r2"}, roomIDs(dir.Rooms()))
	}, waitFor, tick)
}

func TestDirectory_WatchAfterClose(t *testing.T) {
	store := memory.New()
	dir := NewDirectory(store, store, DirectoryOptions{})
	require.NoError(t, dir.Subscribe(context.Background(), "A"))
	dir.Close()

	updates, cancel := dir.Watch()
	defer cancel()
	select {
	case _, open := <-updates:
		assert.False(t, open)
	case <-time.After(waitFor):
		t.Fatal("watch after close never closed")
	}

	assert.ErrorIs(t, dir.Subscribe(context.Background(), "A"), domain.ErrDirectoryClosed)
}

// slowProfiles holds every WatchProfile call until released
type slowProfiles struct {
	entered chan string
	release chan struct{}
}

func (p *slowProfiles) WatchProfile(ctx context.Context, uid string, handler func(domain.ProfileEvent)) error {
	p.entered <- uid
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	handler(domain.ProfileEvent{UID: uid, Member: domain.Member{UID: uid, DisplayName: "name-" + uid}, Found: true})
	return nil
}

func TestDirectory_ReadersNotBlockedByProfileWatch(t *testing.T) {
	store := memory.New()
	createRoom(t, store, "r1", "slow", true, "A")
	profiles := &slowProfiles{entered: make(chan string, 1), release: make(chan struct{})}

	dir := NewDirectory(store, profiles, DirectoryOptions{})
	require.NoError(t, dir.Subscribe(context.Background(), "A"))
	t.Cleanup(dir.Close)

	select {
	case uid := <-profiles.entered:
		assert.Equal(t, "A", uid)
	case <-time.After(waitFor):
		t.Fatal("profile subscription never started")
	}

	done := make(chan []domain.ChatRoom, 1)
	go func() { done <- dir.Rooms() }()
	select {
	case rooms := <-done:
		assert.Equal(t, []string{"r1"}, roomIDs(rooms))
	case <-time.After(waitFor):
		t.Fatal("Rooms blocked behind WatchProfile")
	}

	close(profiles.release)
	assert.Eventually(t, func() bool {
		m, ok := dir.Member("A")
		return ok && m.DisplayName == "name-A"
	}, waitFor, tick)
}
