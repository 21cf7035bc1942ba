package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder captures listener callbacks for assertions.
type recorder struct {
	mu      sync.Mutex
	evicted []string // "roomId/userId"
	closed  []string // roomId
}

func (r *recorder) PeerEvicted(roomID string, peer Peer, reason EvictReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, roomID+"/"+peer.UserID)
}

func (r *recorder) RoomClosed(roomID string, peers []Peer, reason EvictReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, roomID)
}

func newTestManager(t *testing.T) (*Manager, *fakeClock, *recorder) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewManager(Config{
		HeartbeatTimeout: 5 * time.Minute,
		IdleGrace:        5 * time.Minute,
		InactivityMax:    3 * time.Hour,
	}, zap.NewNop())
	m.SetClock(clk.Now)
	rec := &recorder{}
	m.SetListener(rec)
	return m, clk, rec
}

func TestCreateRoom_Duplicate(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.CreateRoom("doc-1", "Doc 1", "alice")
	require.NoError(t, err)

	_, err = m.CreateRoom("doc-1", "Doc 1 again", "bob")
	require.ErrorIs(t, err, ErrRoomExists)
}

func TestJoinRoom_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.JoinRoom("missing", "alice", "Alice")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinLeave_RoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.JoinRoom("doc-1", "alice", "Alice")

	before, err := m.Room("doc-1")
	require.NoError(t, err)

	_, err = m.JoinRoom("doc-1", "bob", "Bob")
	require.NoError(t, err)
	require.NoError(t, m.LeaveRoom("doc-1", "bob"))

	after, err := m.Room("doc-1")
	require.NoError(t, err)
	require.Equal(t, before.PeerCount, after.PeerCount)
}

func TestJoinRoom_HostFlagAndOrder(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")

	existing, err := m.JoinRoom("doc-1", "alice", "Alice")
	require.NoError(t, err)
	require.Empty(t, existing)

	existing, err = m.JoinRoom("doc-1", "bob", "Bob")
	require.NoError(t, err)
	require.Len(t, existing, 1)
	require.Equal(t, "alice", existing[0].UserID)
	require.True(t, existing[0].IsHost)

	m.JoinRoom("doc-1", "carol", "Carol")

	// Join order is the negotiation order: first joiner first.
	peers, err := m.Peers("doc-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.UserID)
	}
	require.Equal(t, []string{"alice", "bob", "carol"}, ids)
}

func TestJoinRoom_RejoinKeepsSingleEntry(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.JoinRoom("doc-1", "alice", "Alice")
	m.JoinRoom("doc-1", "alice", "Alice")

	info, _ := m.Room("doc-1")
	require.Equal(t, 1, info.PeerCount)
}

func TestJoinRoom_Concurrent(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.CreateRoom("doc-1", "Doc 1", "u0")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			_, err := m.JoinRoom("doc-1", id, id)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	info, _ := m.Room("doc-1")
	require.Equal(t, n, info.PeerCount)

	peers, _ := m.Peers("doc-1")
	seen := make(map[string]bool, len(peers))
	for _, p := range peers {
		require.False(t, seen[p.UserID], "duplicate peer %s", p.UserID)
		seen[p.UserID] = true
	}
}

func TestLeaveRoom_EmptyGoesIdleNotDeleted(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.JoinRoom("doc-1", "alice", "Alice")
	m.LeaveRoom("doc-1", "alice")

	// Deletion is deferred so a fast reconnect finds the room.
	info, err := m.Room("doc-1")
	require.NoError(t, err)
	require.Equal(t, StateIdle, info.State)
	require.Equal(t, 0, info.PeerCount)
}

func TestSweepStale_HeartbeatWindow(t *testing.T) {
	m, clk, rec := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.JoinRoom("doc-1", "alice", "Alice")
	m.JoinRoom("doc-1", "bob", "Bob")

	clk.Advance(4 * time.Minute)
	m.TouchHeartbeat("doc-1", "bob")

	// Alice is 4m silent, inside the 5m window: nobody is removed.
	m.SweepStale(clk.Now())
	info, _ := m.Room("doc-1")
	require.Equal(t, 2, info.PeerCount)
	require.Empty(t, rec.evicted)

	// Another 2m puts alice strictly outside the window; bob is not.
	clk.Advance(2 * time.Minute)
	m.SweepStale(clk.Now())

	info, _ = m.Room("doc-1")
	require.Equal(t, 1, info.PeerCount)
	require.Equal(t, []string{"doc-1/alice"}, rec.evicted)

	peers, _ := m.Peers("doc-1")
	require.Equal(t, "bob", peers[0].UserID)
}

func TestSweepStale_IdleGrace(t *testing.T) {
	m, clk, rec := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.JoinRoom("doc-1", "alice", "Alice")
	m.LeaveRoom("doc-1", "alice")

	clk.Advance(4 * time.Minute)
	m.SweepStale(clk.Now())
	_, err := m.Room("doc-1")
	require.NoError(t, err, "room inside grace period must survive")

	clk.Advance(2 * time.Minute)
	m.SweepStale(clk.Now())
	_, err = m.Room("doc-1")
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.Equal(t, []string{"doc-1"}, rec.closed)
}

func TestSweepStale_InactivityCeiling(t *testing.T) {
	m, clk, rec := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.JoinRoom("doc-1", "alice", "Alice")

	// Keep the peer alive but the room inactive for over 3 hours: the
	// ceiling closes it regardless of peer count.
	for i := 0; i < 37; i++ {
		clk.Advance(5 * time.Minute)
		m.TouchHeartbeat("doc-1", "alice")
	}
	require.Greater(t, clk.Now().Sub(time.Unix(1700000000, 0)), 3*time.Hour)

	m.SweepStale(clk.Now())
	_, err := m.Room("doc-1")
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.Equal(t, []string{"doc-1"}, rec.closed)
}

func TestForceCloseIdle(t *testing.T) {
	m, _, rec := newTestManager(t)

	m.CreateRoom("idle-room", "Idle", "alice")
	m.CreateRoom("active-room", "Active", "bob")
	m.JoinRoom("active-room", "bob", "Bob")

	closed := m.ForceCloseIdle()
	require.Equal(t, 1, closed)
	require.Equal(t, []string{"idle-room"}, rec.closed)

	_, err := m.Room("idle-room")
	require.ErrorIs(t, err, ErrRoomNotFound)

	info, err := m.Room("active-room")
	require.NoError(t, err)
	require.Equal(t, 1, info.PeerCount)
}

func TestCloseRoom_EvictsPeers(t *testing.T) {
	m, _, rec := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.JoinRoom("doc-1", "alice", "Alice")
	m.JoinRoom("doc-1", "bob", "Bob")

	require.NoError(t, m.CloseRoom("doc-1"))
	require.Equal(t, []string{"doc-1"}, rec.closed)
	require.ErrorIs(t, m.CloseRoom("doc-1"), ErrRoomNotFound)
}

func TestTouchHeartbeat_UnknownPeerIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.CreateRoom("doc-1", "Doc 1", "alice")
	m.TouchHeartbeat("doc-1", "ghost")
	m.TouchHeartbeat("missing", "ghost")

	info, _ := m.Room("doc-1")
	require.Equal(t, 0, info.PeerCount)
}
