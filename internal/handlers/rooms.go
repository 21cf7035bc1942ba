package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/collab-signaling/internal/auth"
	"github.com/mossy-p/collab-signaling/internal/models"
	"github.com/mossy-p/collab-signaling/internal/room"
)

// RoomHandlers exposes token issuance and room introspection over HTTP.
// These are thin pass-throughs: all state lives in the managers.
type RoomHandlers struct {
	Auth  *auth.Manager
	Rooms *room.Manager
	Log   *zap.Logger
}

// IssueToken issues a room-scoped capability token (requires authentication)
func (h *RoomHandlers) IssueToken(c *gin.Context) {
	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and roomId are required"})
		return
	}

	token, expiresAt := h.Auth.GenerateToken(req.UserID, req.RoomID)

	c.JSON(http.StatusOK, models.TokenResponse{
		Token:     token,
		ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	})
}

// CreateRoom creates a new room (requires authentication); the caller becomes host
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := req.RoomID
	if roomID == "" {
		roomID = uuid.New().String()
	}

	info, err := h.Rooms.CreateRoom(roomID, req.RoomName, userID.(string))
	if err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Room already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID:   info.ID,
		RoomName: info.Name,
		HostID:   info.HostID,
	})
}

// ListRooms returns summaries of every room (public)
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	infos := h.Rooms.Rooms()
	out := make([]models.RoomResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, roomResponse(info, nil))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// GetRoom returns one room with its peers (public)
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	info, err := h.Rooms.Room(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	peers, _ := h.Rooms.Peers(roomID)

	c.JSON(http.StatusOK, roomResponse(info, peers))
}

// ListPeers returns the room's peers in join order (public)
func (h *RoomHandlers) ListPeers(c *gin.Context) {
	roomID := c.Param("roomId")

	peers, err := h.Rooms.Peers(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"peers": peerResponses(peers)})
}

// ListPresence returns advisory presence: holders of live tokens for the
// room. Authoritative membership is the peers endpoint.
func (h *RoomHandlers) ListPresence(c *gin.Context) {
	roomID := c.Param("roomId")
	c.JSON(http.StatusOK, gin.H{"users": h.Auth.RoomUsers(roomID)})
}

// DeleteRoom force-closes a room (requires authentication and host)
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	roomID := c.Param("roomId")

	info, err := h.Rooms.Room(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if info.HostID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room host can delete the room"})
		return
	}

	if err := h.Rooms.CloseRoom(roomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	h.Log.Info("room deleted",
		zap.String("roomId", roomID),
		zap.String("userId", userID.(string)))

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

func roomResponse(info room.Info, peers []room.Peer) models.RoomResponse {
	return models.RoomResponse{
		RoomID:       info.ID,
		RoomName:     info.Name,
		HostID:       info.HostID,
		State:        string(info.State),
		CreatedAt:    info.CreatedAt,
		LastActivity: info.LastActivity,
		PeerCount:    info.PeerCount,
		Peers:        peerResponses(peers),
	}
}

func peerResponses(peers []room.Peer) []models.PeerResponse {
	if peers == nil {
		return nil
	}
	out := make([]models.PeerResponse, 0, len(peers))
	for _, p := range peers {
		out = append(out, models.PeerResponse{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
			ConnectedAt: p.ConnectedAt,
		})
	}
	return out
}
