// Package signaling drives the per-connection session protocol:
// authenticate, relay negotiation payloads between peers, heartbeat,
// disconnect. Relay payloads pass through verbatim and are never stored.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/collab-signaling/internal/auth"
	"github.com/mossy-p/collab-signaling/internal/models"
	"github.com/mossy-p/collab-signaling/internal/presence"
	"github.com/mossy-p/collab-signaling/internal/room"
)

// Wire error codes surfaced in error envelopes.
const (
	codeInvalidToken         = "InvalidToken"
	codeExpired              = "Expired"
	codeUserMismatch         = "UserMismatch"
	codeRoomMismatch         = "RoomMismatch"
	codeSignatureMismatch    = "SignatureMismatch"
	codeNotAuthenticated     = "NotAuthenticated"
	codeAlreadyAuthenticated = "AlreadyAuthenticated"
	codeTargetUnreachable    = "TargetUnreachable"
	codeInvalidMessage       = "InvalidMessage"
	codeAuthFailed           = "AuthFailed"
)

type peerKey struct {
	roomID string
	userID string
}

// Server coordinates all live signaling sessions. It owns the
// connection table; room membership is owned by the room manager.
type Server struct {
	auth     *auth.Manager
	rooms    *room.Manager
	presence *presence.Mirror
	log      *zap.Logger

	heartbeatInterval time.Duration
	sweepInterval     time.Duration

	mu       sync.Mutex
	sessions map[*Client]struct{}
	conns    map[peerKey]*Client
}

func NewServer(authMgr *auth.Manager, rooms *room.Manager, mirror *presence.Mirror,
	heartbeatInterval, sweepInterval time.Duration, log *zap.Logger) *Server {

	s := &Server{
		auth:              authMgr,
		rooms:             rooms,
		presence:          mirror,
		log:               log,
		heartbeatInterval: heartbeatInterval,
		sweepInterval:     sweepInterval,
		sessions:          make(map[*Client]struct{}),
		conns:             make(map[peerKey]*Client),
	}
	rooms.SetListener(s)
	return s
}

// Register wraps an upgraded websocket in a session and starts its
// pumps. The session starts unauthenticated.
func (s *Server) Register(conn *websocket.Conn) *Client {
	c := &Client{
		connID: uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		srv:    s,
	}

	s.mu.Lock()
	s.sessions[c] = struct{}{}
	s.mu.Unlock()

	go c.writePump()
	go c.readPump()

	s.log.Debug("session opened", zap.String("connId", c.connID))
	return c
}

// handleMessage routes one inbound frame. Receipt of any frame from an
// authenticated session counts as a heartbeat.
func (s *Server) handleMessage(c *Client, raw []byte) {
	var msg models.SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(c, codeInvalidMessage)
		return
	}

	state, userID, roomID := c.identity()
	if state == stateAuthenticated {
		s.rooms.TouchHeartbeat(roomID, userID)
	}

	// Only auth is accepted before authentication, whatever the type.
	if msg.Type != models.SignalTypeAuth && state != stateAuthenticated {
		s.sendError(c, codeNotAuthenticated)
		return
	}

	switch msg.Type {
	case models.SignalTypeAuth:
		s.handleAuth(c, msg)

	case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeICE:
		if msg.To == "" {
			s.sendError(c, codeInvalidMessage)
			return
		}
		s.forward(c, userID, roomID, msg)

	case models.SignalTypeChat, models.SignalTypeSync:
		s.rooms.RecordOperation(roomID, userID, string(msg.Type))
		if msg.To != "" {
			s.forward(c, userID, roomID, msg)
			return
		}
		s.broadcast(roomID, userID, models.SignalMessage{
			Type:      msg.Type,
			RoomID:    roomID,
			From:      userID,
			Data:      msg.Data,
			Timestamp: time.Now().UnixMilli(),
		})

	case models.SignalTypeHeartbeat:
		// Liveness was already recorded above.

	default:
		s.sendError(c, codeInvalidMessage)
	}
}

// handleAuth validates the presented token, registers membership and
// announces the join. A failed auth leaves the connection open and
// unauthenticated so the caller can retry with a fresh token.
func (s *Server) handleAuth(c *Client, msg models.SignalMessage) {
	state, _, _ := c.identity()
	if state == stateAuthenticated {
		s.sendError(c, codeAlreadyAuthenticated)
		return
	}

	var payload models.AuthPayload
	if msg.Data != nil {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.sendError(c, codeInvalidMessage)
			return
		}
	}
	userID, roomID := msg.From, msg.RoomID
	if userID == "" || roomID == "" || payload.Token == "" {
		s.sendError(c, codeInvalidMessage)
		return
	}

	if err := s.auth.ValidateCredentials(userID, roomID, payload.Token); err != nil {
		s.log.Info("auth rejected",
			zap.String("userId", userID),
			zap.String("roomId", roomID),
			zap.Error(err))
		s.sendError(c, authErrorCode(err))
		return
	}

	displayName := userID
	existing, err := s.rooms.JoinRoom(roomID, userID, displayName)
	if errors.Is(err, room.ErrRoomNotFound) {
		// The signaling path auto-creates: the first authenticated
		// joiner becomes the host. HTTP room creation remains the
		// explicit path.
		if _, err = s.rooms.CreateRoom(roomID, roomID, userID); err != nil && !errors.Is(err, room.ErrRoomExists) {
			s.sendError(c, codeAuthFailed)
			return
		}
		existing, err = s.rooms.JoinRoom(roomID, userID, displayName)
	}
	if err != nil {
		s.sendError(c, codeAuthFailed)
		return
	}

	c.setAuthenticated(userID, roomID)

	// Bind the transport to the (userId, roomId) pair. A prior session
	// for the same pair is superseded: its table entry now points at
	// this client, so its eventual disconnect mutates nothing.
	key := peerKey{roomID: roomID, userID: userID}
	s.mu.Lock()
	prev := s.conns[key]
	s.conns[key] = c
	s.mu.Unlock()
	if prev != nil && prev != c {
		prev.close()
	}

	s.presence.PeerJoined(roomID, userID)

	peers := make([]models.PeerInfo, 0, len(existing))
	for _, p := range existing {
		peers = append(peers, models.PeerInfo{
			ID:       p.UserID,
			Name:     p.DisplayName,
			JoinedAt: p.ConnectedAt.UnixMilli(),
		})
	}
	listData, _ := json.Marshal(models.PeerListPayload{Peers: peers})
	c.enqueue(models.SignalMessage{
		Type:      models.SignalTypePeerList,
		RoomID:    roomID,
		To:        userID,
		Data:      listData,
		Timestamp: time.Now().UnixMilli(),
	})

	joinData, _ := json.Marshal(models.PeerEventPayload{ID: userID, Name: displayName})
	s.broadcast(roomID, userID, models.SignalMessage{
		Type:      models.SignalTypePeerJoined,
		RoomID:    roomID,
		From:      userID,
		Data:      joinData,
		Timestamp: time.Now().UnixMilli(),
	})
}

// forward relays a payload verbatim to one peer in the sender's room.
// No queuing, no retry: an unreachable target is reported to the sender
// and renegotiation restarts at the application layer.
func (s *Server) forward(c *Client, from, roomID string, msg models.SignalMessage) {
	s.mu.Lock()
	target := s.conns[peerKey{roomID: roomID, userID: msg.To}]
	s.mu.Unlock()

	if target == nil {
		s.sendError(c, codeTargetUnreachable)
		return
	}

	target.enqueue(models.SignalMessage{
		Type:      msg.Type,
		RoomID:    roomID,
		From:      from,
		To:        msg.To,
		Data:      msg.Data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// broadcast delivers a message to every room member except exclude.
// Membership comes from the room manager, not the connection table;
// peers with no live connection (mid-reconnect) are skipped silently.
// Best-effort, at-most-once.
func (s *Server) broadcast(roomID, exclude string, msg models.SignalMessage) {
	peers, err := s.rooms.Peers(roomID)
	if err != nil {
		return
	}

	for _, p := range peers {
		if p.UserID == exclude {
			continue
		}
		s.mu.Lock()
		target := s.conns[peerKey{roomID: roomID, userID: p.UserID}]
		s.mu.Unlock()
		if target != nil {
			target.enqueue(msg)
		}
	}
}

// disconnect handles transport close. Idempotent: a session already
// removed (or superseded by a newer one for the same peer) mutates
// nothing.
func (s *Server) disconnect(c *Client) {
	state, userID, roomID := c.identity()

	s.mu.Lock()
	delete(s.sessions, c)
	owned := false
	if state == stateAuthenticated {
		key := peerKey{roomID: roomID, userID: userID}
		if s.conns[key] == c {
			delete(s.conns, key)
			owned = true
		}
	}
	s.mu.Unlock()

	if !owned {
		return
	}

	if err := s.rooms.LeaveRoom(roomID, userID); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		s.log.Warn("leave on disconnect failed", zap.Error(err))
	}
	s.presence.PeerLeft(roomID, userID)

	leftData, _ := json.Marshal(models.PeerEventPayload{ID: userID})
	s.broadcast(roomID, userID, models.SignalMessage{
		Type:      models.SignalTypePeerLeft,
		RoomID:    roomID,
		From:      userID,
		Data:      leftData,
		Timestamp: time.Now().UnixMilli(),
	})

	s.log.Debug("session closed",
		zap.String("connId", c.connID),
		zap.String("userId", userID),
		zap.String("roomId", roomID))
}

// PeerEvicted implements room.Listener: a peer swept for heartbeat
// timeout gets its session closed and a synthetic peerLeft broadcast.
func (s *Server) PeerEvicted(roomID string, peer room.Peer, reason room.EvictReason) {
	key := peerKey{roomID: roomID, userID: peer.UserID}

	s.mu.Lock()
	c := s.conns[key]
	delete(s.conns, key)
	s.mu.Unlock()

	if c != nil {
		c.close()
	}
	s.presence.PeerLeft(roomID, peer.UserID)

	leftData, _ := json.Marshal(models.PeerEventPayload{ID: peer.UserID})
	s.broadcast(roomID, peer.UserID, models.SignalMessage{
		Type:      models.SignalTypePeerLeft,
		RoomID:    roomID,
		From:      peer.UserID,
		Data:      leftData,
		Timestamp: time.Now().UnixMilli(),
	})

	s.log.Info("peer evicted",
		zap.String("roomId", roomID),
		zap.String("userId", peer.UserID),
		zap.String("reason", string(reason)))
}

// RoomClosed implements room.Listener: every remaining session in a
// closed room is told it left and then torn down.
func (s *Server) RoomClosed(roomID string, peers []room.Peer, reason room.EvictReason) {
	for _, p := range peers {
		key := peerKey{roomID: roomID, userID: p.UserID}

		s.mu.Lock()
		c := s.conns[key]
		delete(s.conns, key)
		s.mu.Unlock()

		if c == nil {
			continue
		}
		leftData, _ := json.Marshal(models.PeerEventPayload{ID: p.UserID})
		c.enqueue(models.SignalMessage{
			Type:      models.SignalTypePeerLeft,
			RoomID:    roomID,
			From:      p.UserID,
			Data:      leftData,
			Timestamp: time.Now().UnixMilli(),
		})
		c.close()
	}
	s.presence.RoomClosed(roomID)
}

// RunHeartbeat emits a probe to every open session on a fixed interval.
// Any inbound frame counts as the reply; silent sessions are reclaimed
// by the sweep, not here.
func (s *Server) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			targets := make([]*Client, 0, len(s.sessions))
			for c := range s.sessions {
				targets = append(targets, c)
			}
			s.mu.Unlock()

			probe := models.SignalMessage{
				Type:      models.SignalTypeHeartbeat,
				Timestamp: time.Now().UnixMilli(),
			}
			for _, c := range targets {
				c.enqueue(probe)
			}
		}
	}
}

// RunSweep periodically reclaims peers that stopped heartbeating and
// rooms past their grace or inactivity limits.
func (s *Server) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rooms.SweepStale(time.Now())
		}
	}
}

func (s *Server) sendError(c *Client, code string) {
	data, _ := json.Marshal(models.ErrorPayload{Error: code})
	c.enqueue(models.SignalMessage{
		Type:      models.SignalTypeError,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func authErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return codeExpired
	case errors.Is(err, auth.ErrUserMismatch):
		return codeUserMismatch
	case errors.Is(err, auth.ErrRoomMismatch):
		return codeRoomMismatch
	case errors.Is(err, auth.ErrSignatureMismatch):
		return codeSignatureMismatch
	default:
		return codeInvalidToken
	}
}
