// Package room owns room and peer lifecycle: creation, join/leave,
// heartbeat bookkeeping and the staleness sweep. It holds the single
// authoritative copy of membership state for the process.
package room

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// State is the lifecycle state of a room.
type State string

const (
	StateActive State = "ACTIVE"
	StateIdle   State = "IDLE"
	StateClosed State = "CLOSED"
)

// EvictReason tags synthetic leaves and room closures produced by the
// sweep and by memory-pressure cleanup.
type EvictReason string

const (
	EvictHeartbeatTimeout EvictReason = "heartbeat_timeout"
	EvictIdleExpired      EvictReason = "idle_expired"
	EvictInactivity       EvictReason = "inactivity"
	EvictForced           EvictReason = "forced"
)

// Peer is one user's membership in one room.
type Peer struct {
	UserID        string
	DisplayName   string
	IsHost        bool
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// Info is a point-in-time snapshot of a room.
type Info struct {
	ID           string
	Name         string
	HostID       string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time
	PeerCount    int
}

// Listener receives membership changes the manager initiates itself
// (sweeps, forced closes), so the signaling layer can emit synthetic
// peerLeft events and tear down sessions. Callbacks run outside the
// manager's lock.
type Listener interface {
	PeerEvicted(roomID string, peer Peer, reason EvictReason)
	RoomClosed(roomID string, peers []Peer, reason EvictReason)
}

// Config bounds the staleness sweep.
type Config struct {
	HeartbeatTimeout time.Duration
	IdleGrace        time.Duration
	InactivityMax    time.Duration
}

type room struct {
	id           string
	name         string
	hostID       string
	state        State
	createdAt    time.Time
	lastActivity time.Time
	idleSince    time.Time

	// peers keeps insertion order: the first joiner is first in the
	// list, which encodes the "existing peers offer to new joiners"
	// negotiation convention.
	peers []*Peer
	index map[string]*Peer
}

func (r *room) snapshot() Info {
	return Info{
		ID:           r.id,
		Name:         r.name,
		HostID:       r.hostID,
		State:        r.state,
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
		PeerCount:    len(r.peers),
	}
}

func (r *room) peerList() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// Manager is the single writer for all room and peer state.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*room

	cfg      Config
	now      func() time.Time
	log      *zap.Logger
	listener Listener
}

func NewManager(cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		rooms: make(map[string]*room),
		cfg:   cfg,
		now:   time.Now,
		log:   log,
	}
}

// SetClock overrides the manager's time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetListener registers the eviction listener. Must be called before
// the sweep starts running.
func (m *Manager) SetListener(l Listener) {
	m.listener = l
}

// CreateRoom registers a new room. The room starts empty and idle; it
// becomes active on the first join and is reclaimed if nobody joins
// within the idle grace period.
func (m *Manager) CreateRoom(roomID, roomName, hostID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; ok {
		return Info{}, ErrRoomExists
	}

	now := m.now()
	r := &room{
		id:           roomID,
		name:         roomName,
		hostID:       hostID,
		state:        StateIdle,
		createdAt:    now,
		lastActivity: now,
		idleSince:    now,
		index:        make(map[string]*Peer),
	}
	m.rooms[roomID] = r

	m.log.Info("room created",
		zap.String("roomId", roomID),
		zap.String("hostId", hostID))

	return r.snapshot(), nil
}

// JoinRoom appends a peer to a room and returns the peers that were
// already present, in join order. Room creation is a distinct, explicit
// operation; joining an absent room fails with ErrRoomNotFound.
func (m *Manager) JoinRoom(roomID, userID, userName string) ([]Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	now := m.now()
	if p, ok := r.index[userID]; ok {
		// Rejoin of a known peer keeps its slot in the join order.
		p.DisplayName = userName
		p.ConnectedAt = now
		p.LastHeartbeat = now
	} else {
		p := &Peer{
			UserID:        userID,
			DisplayName:   userName,
			IsHost:        userID == r.hostID,
			ConnectedAt:   now,
			LastHeartbeat: now,
		}
		r.peers = append(r.peers, p)
		r.index[userID] = p
	}

	r.state = StateActive
	r.lastActivity = now

	existing := make([]Peer, 0, len(r.peers)-1)
	for _, p := range r.peers {
		if p.UserID != userID {
			existing = append(existing, *p)
		}
	}

	m.log.Info("peer joined",
		zap.String("roomId", roomID),
		zap.String("userId", userID),
		zap.Int("peerCount", len(r.peers)))

	return existing, nil
}

// LeaveRoom removes a peer. A room left empty transitions to IDLE with
// a timestamp; deletion is deferred to the sweep so a fast reconnect
// finds the room still there.
func (m *Manager) LeaveRoom(roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}

	m.removePeerLocked(r, userID)
	return nil
}

func (m *Manager) removePeerLocked(r *room, userID string) {
	if _, ok := r.index[userID]; !ok {
		return
	}
	delete(r.index, userID)
	for i, p := range r.peers {
		if p.UserID == userID {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			break
		}
	}

	now := m.now()
	r.lastActivity = now
	if len(r.peers) == 0 {
		r.state = StateIdle
		r.idleSince = now
	}

	m.log.Info("peer left",
		zap.String("roomId", r.id),
		zap.String("userId", userID),
		zap.Int("peerCount", len(r.peers)))
}

// TouchHeartbeat records liveness for a peer. Touching an absent peer
// is a logged no-op.
func (m *Manager) TouchHeartbeat(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		m.log.Debug("heartbeat for unknown room", zap.String("roomId", roomID))
		return
	}
	p, ok := r.index[userID]
	if !ok {
		m.log.Debug("heartbeat for unknown peer",
			zap.String("roomId", roomID),
			zap.String("userId", userID))
		return
	}
	p.LastHeartbeat = m.now()
}

// RecordOperation is an intentional no-op kept as a stable extension
// point for telemetry. The server never retains collaboration content;
// only metadata may ever be observed here.
func (m *Manager) RecordOperation(roomID, userID string, kind string) {
	m.log.Debug("operation relayed",
		zap.String("roomId", roomID),
		zap.String("userId", userID),
		zap.String("kind", kind))
}

// Room returns a snapshot of one room.
func (m *Manager) Room(roomID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Info{}, ErrRoomNotFound
	}
	return r.snapshot(), nil
}

// Rooms returns snapshots of every room.
func (m *Manager) Rooms() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.snapshot())
	}
	return out
}

// Peers returns the room's peers in join order.
func (m *Manager) Peers(roomID string) ([]Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.peerList(), nil
}

type evictEvent struct {
	roomID string
	peer   Peer
	reason EvictReason
}

type closeEvent struct {
	roomID string
	peers  []Peer
	reason EvictReason
}

// SweepStale removes peers whose heartbeat is older than the timeout,
// each removal acting as a synthetic leave, then removes rooms that
// have been empty past the idle grace period or inactive past the
// absolute ceiling. Listener callbacks fire after the lock is released.
func (m *Manager) SweepStale(now time.Time) {
	var evicted []evictEvent
	var closed []closeEvent

	m.mu.Lock()
	for _, r := range m.rooms {
		for _, p := range r.peerList() {
			if now.Sub(p.LastHeartbeat) > m.cfg.HeartbeatTimeout {
				m.removePeerLocked(r, p.UserID)
				evicted = append(evicted, evictEvent{r.id, p, EvictHeartbeatTimeout})
			}
		}
	}
	for id, r := range m.rooms {
		switch {
		case len(r.peers) == 0 && now.Sub(r.idleSince) > m.cfg.IdleGrace:
			closed = append(closed, m.closeRoomLocked(id, EvictIdleExpired))
		case now.Sub(r.lastActivity) > m.cfg.InactivityMax:
			closed = append(closed, m.closeRoomLocked(id, EvictInactivity))
		}
	}
	m.mu.Unlock()

	m.notify(evicted, closed)
}

// ForceCloseIdle closes every IDLE room regardless of grace period.
// Called by the memory monitor under critical pressure. Returns the
// number of rooms closed.
func (m *Manager) ForceCloseIdle() int {
	var closed []closeEvent

	m.mu.Lock()
	for id, r := range m.rooms {
		if r.state == StateIdle {
			closed = append(closed, m.closeRoomLocked(id, EvictForced))
		}
	}
	m.mu.Unlock()

	m.notify(nil, closed)
	return len(closed)
}

// CloseRoom force-closes one room, evicting any remaining peers.
func (m *Manager) CloseRoom(roomID string) error {
	m.mu.Lock()
	if _, ok := m.rooms[roomID]; !ok {
		m.mu.Unlock()
		return ErrRoomNotFound
	}
	ev := m.closeRoomLocked(roomID, EvictForced)
	m.mu.Unlock()

	m.notify(nil, []closeEvent{ev})
	return nil
}

func (m *Manager) closeRoomLocked(roomID string, reason EvictReason) closeEvent {
	r := m.rooms[roomID]
	peers := r.peerList()
	r.state = StateClosed
	delete(m.rooms, roomID)

	m.log.Info("room closed",
		zap.String("roomId", roomID),
		zap.String("reason", string(reason)),
		zap.Int("peerCount", len(peers)))

	return closeEvent{roomID: roomID, peers: peers, reason: reason}
}

func (m *Manager) notify(evicted []evictEvent, closed []closeEvent) {
	if m.listener == nil {
		return
	}
	for _, ev := range evicted {
		m.listener.PeerEvicted(ev.roomID, ev.peer, ev.reason)
	}
	for _, ev := range closed {
		m.listener.RoomClosed(ev.roomID, ev.peers, ev.reason)
	}
}
